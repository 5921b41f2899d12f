// Package settlement computes market payouts and the house fee.
package settlement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/leaguehub/predex/internal/model"
)

// DefaultFeeRate is the house cut of positive profit.
var DefaultFeeRate = decimal.RequireFromString("0.06")

// Fee is floor(profit * rate) for positive profit, zero otherwise.
func Fee(profit int64, rate decimal.Decimal) int64 {
	if profit <= 0 {
		return 0
	}
	return decimal.NewFromInt(profit).Mul(rate).Floor().IntPart()
}

// Report is the outcome of resolving one market.
type Report struct {
	MarketID    string             `json:"market_id"`
	Result      model.Side         `json:"result"`
	Settlements []model.Settlement `json:"settlements"`
	HouseFee    int64              `json:"house_fee"`
	TotalPayout int64              `json:"total_payout"`
	ResolvedAt  time.Time          `json:"resolved_at"`
}

// Winners are settlements with positive profit.
func (r *Report) Winners() []model.Settlement {
	var out []model.Settlement
	for _, s := range r.Settlements {
		if s.Profit > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Losers are settlements with negative profit.
func (r *Report) Losers() []model.Settlement {
	var out []model.Settlement
	for _, s := range r.Settlements {
		if s.Profit < 0 {
			out = append(out, s)
		}
	}
	return out
}

// Settle pays out every non-bot position of a market.
func Settle(marketID string, result model.Side, positions []model.Position, rate decimal.Decimal, at time.Time) Report {
	r := Report{MarketID: marketID, Result: result, ResolvedAt: at}
	for _, p := range positions {
		if p.UserID == model.BotUserID {
			continue
		}
		winning := p.Shares(result)
		payout := winning * model.ShareValue
		profit := payout - p.TotalInvested
		fee := Fee(profit, rate)

		r.Settlements = append(r.Settlements, model.Settlement{
			MarketID:      marketID,
			UserID:        p.UserID,
			Result:        result,
			WinningShares: winning,
			Payout:        payout,
			Invested:      p.TotalInvested,
			Profit:        profit,
			Fee:           fee,
			NetProfit:     profit - fee,
			SettledAt:     at,
		})
		r.HouseFee += fee
		r.TotalPayout += payout
	}
	return r
}

// Lifetime converts a settlement into the delta applied to the user's
// lifetime record.
func Lifetime(s model.Settlement) model.ProfitRecord {
	rec := model.ProfitRecord{
		UserID:              s.UserID,
		TotalProfit:         s.NetProfit,
		TotalVolume:         s.Invested,
		MarketsParticipated: 1,
		UpdatedAt:           s.SettledAt,
	}
	switch {
	case s.Profit > 0:
		rec.MarketsWon = 1
	case s.Profit < 0:
		rec.MarketsLost = 1
	}
	return rec
}
