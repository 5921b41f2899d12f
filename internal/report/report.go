// Package report renders exchange views as terminal tables for the
// predexctl command.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/leaguehub/predex/internal/book"
	"github.com/leaguehub/predex/internal/exchange"
	"github.com/leaguehub/predex/internal/model"
	"github.com/leaguehub/predex/internal/settlement"
)

const maxQuestion = 48

// Money formats cents as dollars, e.g. -$4.70.
func Money(cents int64) string {
	if cents < 0 {
		return "-$" + model.Dollars(-cents).StringFixed(2)
	}
	return "$" + model.Dollars(cents).StringFixed(2)
}

// Cents formats a share price.
func Cents(p int64) string {
	return strconv.FormatInt(p, 10) + "¢"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Markets prints one row per market.
func Markets(w io.Writer, markets []model.Market) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Question", "Status", "Yes", "No", "Volume", "Created")
	for _, m := range markets {
		status := string(m.Status)
		if m.Result != nil {
			status += " (" + string(*m.Result) + ")"
		}
		table.Append(
			m.ID,
			truncate(m.Question, maxQuestion),
			status,
			Cents(m.YesPrice),
			Cents(model.ShareValue-m.YesPrice),
			Money(m.TotalVolume),
			m.CreatedAt.Format("2006-01-02"),
		)
	}
	return table.Render()
}

// Book prints the four queues of a snapshot side by side, best first.
func Book(w io.Writer, snap book.Snapshot) error {
	table := tablewriter.NewWriter(w)
	table.Header("Yes bid", "Yes ask", "No bid", "No ask")
	rows := max(len(snap.YesBids), len(snap.YesAsks), len(snap.NoBids), len(snap.NoAsks))
	level := func(ls []book.PriceLevel, i int) string {
		if i >= len(ls) {
			return ""
		}
		return fmt.Sprintf("%d @ %s", ls[i].Quantity, Cents(ls[i].Price))
	}
	for i := 0; i < rows; i++ {
		table.Append(level(snap.YesBids, i), level(snap.YesAsks, i), level(snap.NoBids, i), level(snap.NoAsks, i))
	}
	return table.Render()
}

// Trade summarizes an executed order.
func Trade(w io.Writer, res *exchange.TradeResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("Order", "Filled", "Bot", "Resting", "Avg", "Cost", "Yes price")
	table.Append(
		res.Order.ID,
		strconv.FormatInt(res.Filled, 10),
		strconv.FormatInt(res.BotFilled, 10),
		strconv.FormatInt(res.Resting, 10),
		Cents(res.AvgPrice),
		Money(res.Cost),
		fmt.Sprintf("%s → %s", Cents(res.PreviousPrice), Cents(res.YesPrice)),
	)
	return table.Render()
}

// Portfolio prints holdings, then open orders, then the lifetime record.
func Portfolio(w io.Writer, pf *model.Portfolio) error {
	table := tablewriter.NewWriter(w)
	table.Header("Market", "Question", "Yes", "No", "Invested", "Value", "P&L")
	for _, h := range pf.Holdings {
		table.Append(
			h.MarketID,
			truncate(h.Question, maxQuestion),
			strconv.FormatInt(h.YesShares, 10),
			strconv.FormatInt(h.NoShares, 10),
			Money(h.TotalInvested),
			Money(h.CurrentValue),
			Money(h.UnrealizedPnL),
		)
	}
	table.Footer("", "", "", "", "Total", Money(pf.TotalValue), Money(pf.TotalUnrealized))
	if err := table.Render(); err != nil {
		return err
	}

	if len(pf.OpenOrders) > 0 {
		orders := tablewriter.NewWriter(w)
		orders.Header("Order", "Market", "Side", "Direction", "Remaining", "Limit")
		for _, o := range pf.OpenOrders {
			orders.Append(o.ID, o.MarketID, string(o.Side), string(o.Direction),
				strconv.FormatInt(o.Remaining(), 10), Cents(o.Price))
		}
		if err := orders.Render(); err != nil {
			return err
		}
	}

	rec := pf.Lifetime
	_, err := fmt.Fprintf(w, "Lifetime: %s net over %d markets (%d won, %d lost, %s%% win rate)\n",
		Money(rec.TotalProfit), rec.MarketsParticipated, rec.MarketsWon, rec.MarketsLost, rec.WinRate().String())
	return err
}

// Leaderboard prints ranked lifetime records.
func Leaderboard(w io.Writer, entries []exchange.LeaderboardEntry) error {
	table := tablewriter.NewWriter(w)
	table.Header("#", "User", "Net profit", "Volume", "Won", "Lost", "Win rate")
	for _, e := range entries {
		table.Append(
			strconv.Itoa(e.Rank),
			e.UserID,
			Money(e.TotalProfit),
			Money(e.TotalVolume),
			strconv.FormatInt(e.MarketsWon, 10),
			strconv.FormatInt(e.MarketsLost, 10),
			e.WinRate.String()+"%",
		)
	}
	return table.Render()
}

// Settlement prints a resolution's per-user payouts and the house fee.
func Settlement(w io.Writer, r *settlement.Report) error {
	table := tablewriter.NewWriter(w)
	table.Header("User", "Winning shares", "Payout", "Invested", "Fee", "Net")
	for _, s := range r.Settlements {
		table.Append(
			s.UserID,
			strconv.FormatInt(s.WinningShares, 10),
			Money(s.Payout),
			Money(s.Invested),
			Money(s.Fee),
			Money(s.NetProfit),
		)
	}
	table.Footer("", "", Money(r.TotalPayout), "", Money(r.HouseFee), "")
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s resolved %s: %d winners, %d losers, house fee %s\n",
		r.MarketID, r.Result, len(r.Winners()), len(r.Losers()), Money(r.HouseFee))
	return err
}

// House prints the accumulated settlement fees.
func House(w io.Writer, pot *model.HousePot) error {
	last := "never"
	if !pot.LastUpdated.IsZero() {
		last = pot.LastUpdated.Format("2006-01-02 15:04 MST")
	}
	_, err := fmt.Fprintf(w, "House pot: %s (last fee %s)\n", Money(pot.TotalFees), last)
	return err
}
