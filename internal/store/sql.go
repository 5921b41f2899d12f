package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/leaguehub/predex/internal/model"
)

// querier is the subset of a connection or transaction the SQL backends
// need. Statements use ? placeholders; the pgx adapter rebinds them.
type querier interface {
	exec(ctx context.Context, q string, args ...any) (int64, error)
	query(ctx context.Context, q string, args ...any) (rows, error)
	queryRow(ctx context.Context, q string, args ...any) row
}

type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

type row interface {
	Scan(dest ...any) error
}

// sqlTx implements Tx for PostgreSQL and SQLite. Both backends share the
// statements below; forUpdate is empty where row locks do not exist.
type sqlTx struct {
	q         querier
	forUpdate string
}

// rebind rewrites ? placeholders as $1, $2, ...
func rebind(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// --- Markets ---

const marketColumns = `id, guild_id, channel_id, question, creator_id, created_at,
	resolution_week, resolution_mode, status, result, resolved_at, yes_price, total_volume`

func scanMarket(r row) (*model.Market, error) {
	var m model.Market
	var status string
	var result *string
	if err := r.Scan(&m.ID, &m.GuildID, &m.ChannelID, &m.Question, &m.CreatorID, &m.CreatedAt,
		&m.ResolutionWeek, &m.ResolutionMode, &status, &result, &m.ResolvedAt,
		&m.YesPrice, &m.TotalVolume); err != nil {
		return nil, err
	}
	m.Status = model.MarketStatus(status)
	if result != nil {
		side := model.Side(*result)
		m.Result = &side
	}
	return &m, nil
}

func (t *sqlTx) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(t.q.queryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (t *sqlTx) LockMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(t.q.queryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = ?`+t.forUpdate, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock market %s: %w", id, err)
	}
	return m, nil
}

func (t *sqlTx) ListMarkets(ctx context.Context, f MarketFilter) ([]model.Market, error) {
	q := `SELECT ` + marketColumns + ` FROM markets WHERE 1 = 1`
	var args []any
	if f.GuildID != "" {
		q += ` AND guild_id = ?`
		args = append(args, f.GuildID)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	q += ` ORDER BY created_at DESC, id DESC`

	rs, err := t.q.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	defer rs.Close()

	var markets []model.Market
	for rs.Next() {
		m, err := scanMarket(rs)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rs.Err()
}

func (t *sqlTx) CountMarkets(ctx context.Context) (int, error) {
	var n int
	if err := t.q.queryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count markets: %w", err)
	}
	return n, nil
}

func (t *sqlTx) CreateMarket(ctx context.Context, m *model.Market) error {
	var result *string
	if m.Result != nil {
		s := string(*m.Result)
		result = &s
	}
	_, err := t.q.exec(ctx,
		`INSERT INTO markets (`+marketColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.GuildID, m.ChannelID, m.Question, m.CreatorID, m.CreatedAt,
		m.ResolutionWeek, m.ResolutionMode, string(m.Status), result, m.ResolvedAt,
		m.YesPrice, m.TotalVolume,
	)
	if err != nil {
		return fmt.Errorf("create market %s: %w", m.ID, err)
	}
	return nil
}

func (t *sqlTx) UpdateMarketTrading(ctx context.Context, id string, volumeDelta, yesPrice int64) error {
	n, err := t.q.exec(ctx,
		`UPDATE markets SET total_volume = total_volume + ?, yes_price = ? WHERE id = ?`,
		volumeDelta, yesPrice, id)
	if err != nil {
		return fmt.Errorf("update market %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (t *sqlTx) ResolveMarket(ctx context.Context, id string, result model.Side, at time.Time) error {
	n, err := t.q.exec(ctx,
		`UPDATE markets SET status = ?, result = ?, resolved_at = ? WHERE id = ?`,
		string(model.MarketResolved), string(result), at, id)
	if err != nil {
		return fmt.Errorf("resolve market %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// --- Orders ---

const orderColumns = `id, market_id, user_id, side, direction, quantity, price,
	filled_quantity, status, created_at, filled_at, cancelled_at, is_bot`

func scanOrder(r row) (*model.Order, error) {
	var o model.Order
	var side, dir, status string
	if err := r.Scan(&o.ID, &o.MarketID, &o.UserID, &side, &dir, &o.Quantity, &o.Price,
		&o.FilledQuantity, &status, &o.CreatedAt, &o.FilledAt, &o.CancelledAt, &o.IsBot); err != nil {
		return nil, err
	}
	o.Side = model.Side(side)
	o.Direction = model.Direction(dir)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

func (t *sqlTx) listOrders(ctx context.Context, where string, args ...any) ([]model.Order, error) {
	rs, err := t.q.query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var orders []model.Order
	for rs.Next() {
		o, err := scanOrder(rs)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rs.Err()
}

func (t *sqlTx) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(t.q.queryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (t *sqlTx) OpenOrders(ctx context.Context, marketID string) ([]model.Order, error) {
	orders, err := t.listOrders(ctx, `market_id = ? AND status = ?`, marketID, string(model.OrderOpen))
	if err != nil {
		return nil, fmt.Errorf("open orders %s: %w", marketID, err)
	}
	return orders, nil
}

func (t *sqlTx) UserOpenOrders(ctx context.Context, userID string) ([]model.Order, error) {
	orders, err := t.listOrders(ctx, `user_id = ? AND status = ?`, userID, string(model.OrderOpen))
	if err != nil {
		return nil, fmt.Errorf("open orders for %s: %w", userID, err)
	}
	return orders, nil
}

func (t *sqlTx) InsertOrder(ctx context.Context, o *model.Order) error {
	_, err := t.q.exec(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.MarketID, o.UserID, string(o.Side), string(o.Direction), o.Quantity, o.Price,
		o.FilledQuantity, string(o.Status), o.CreatedAt, o.FilledAt, o.CancelledAt, o.IsBot,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

// orderConflict explains a conditional update that touched no rows.
func (t *sqlTx) orderConflict(ctx context.Context, id, op string) error {
	o, err := t.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s order %s (%s, %d/%d): %w", op, id, o.Status, o.FilledQuantity, o.Quantity, model.ErrConflict)
}

func (t *sqlTx) FillOrder(ctx context.Context, id string, qty int64, at time.Time) error {
	if qty <= 0 {
		return fmt.Errorf("fill %d on order %s: %w", qty, id, model.ErrConflict)
	}
	n, err := t.q.exec(ctx,
		`UPDATE orders SET
		   filled_quantity = filled_quantity + ?,
		   status = CASE WHEN filled_quantity + ? = quantity THEN ? ELSE status END,
		   filled_at = CASE WHEN filled_quantity + ? = quantity THEN ? ELSE filled_at END
		 WHERE id = ? AND status = ? AND filled_quantity + ? <= quantity`,
		qty, qty, string(model.OrderFilled), qty, at, id, string(model.OrderOpen), qty)
	if err != nil {
		return fmt.Errorf("fill order %s: %w", id, err)
	}
	if n == 0 {
		return t.orderConflict(ctx, id, "fill")
	}
	return nil
}

func (t *sqlTx) CancelOrder(ctx context.Context, id string, at time.Time) error {
	n, err := t.q.exec(ctx,
		`UPDATE orders SET status = ?, cancelled_at = ? WHERE id = ? AND status = ?`,
		string(model.OrderCancelled), at, id, string(model.OrderOpen))
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", id, err)
	}
	if n == 0 {
		return t.orderConflict(ctx, id, "cancel")
	}
	return nil
}

func (t *sqlTx) CancelOpenOrders(ctx context.Context, marketID string, at time.Time) (int, error) {
	n, err := t.q.exec(ctx,
		`UPDATE orders SET status = ?, cancelled_at = ? WHERE market_id = ? AND status = ?`,
		string(model.OrderCancelled), at, marketID, string(model.OrderOpen))
	if err != nil {
		return 0, fmt.Errorf("cancel open orders %s: %w", marketID, err)
	}
	return int(n), nil
}

// --- Trades ---

const tradeColumns = `id, market_id, buyer_id, seller_id, side, quantity, price, amount,
	kind, buyer_order_id, seller_order_id, executed_at`

func (t *sqlTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	_, err := t.q.exec(ctx,
		`INSERT INTO trades (`+tradeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.MarketID, tr.BuyerID, tr.SellerID, string(tr.Side), tr.Quantity, tr.Price, tr.Amount,
		string(tr.Kind), tr.BuyerOrderID, tr.SellerOrderID, tr.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", tr.ID, err)
	}
	return nil
}

func (t *sqlTx) MarketTrades(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	q := `SELECT ` + tradeColumns + ` FROM trades WHERE market_id = ? ORDER BY seq DESC`
	args := []any{marketID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rs, err := t.q.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("market trades %s: %w", marketID, err)
	}
	defer rs.Close()

	var trades []model.Trade
	for rs.Next() {
		var tr model.Trade
		var side, kind string
		if err := rs.Scan(&tr.ID, &tr.MarketID, &tr.BuyerID, &tr.SellerID, &side, &tr.Quantity,
			&tr.Price, &tr.Amount, &kind, &tr.BuyerOrderID, &tr.SellerOrderID, &tr.ExecutedAt); err != nil {
			return nil, err
		}
		tr.Side = model.Side(side)
		tr.Kind = model.TradeKind(kind)
		trades = append(trades, tr)
	}
	return trades, rs.Err()
}

// --- Positions ---

const positionColumns = `market_id, user_id, yes_shares, no_shares, avg_yes_price, avg_no_price,
	total_invested, updated_at`

func (t *sqlTx) listPositions(ctx context.Context, where string, arg string) ([]model.Position, error) {
	rs, err := t.q.query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE `+where+` ORDER BY market_id, user_id`, arg)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var positions []model.Position
	for rs.Next() {
		var p model.Position
		if err := rs.Scan(&p.MarketID, &p.UserID, &p.YesShares, &p.NoShares,
			&p.AvgYesPrice, &p.AvgNoPrice, &p.TotalInvested, &p.UpdatedAt); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rs.Err()
}

func (t *sqlTx) GetPosition(ctx context.Context, marketID, userID string) (*model.Position, error) {
	p := model.Position{MarketID: marketID, UserID: userID}
	err := t.q.queryRow(ctx,
		`SELECT yes_shares, no_shares, avg_yes_price, avg_no_price, total_invested, updated_at
		 FROM positions WHERE market_id = ? AND user_id = ?`, marketID, userID).
		Scan(&p.YesShares, &p.NoShares, &p.AvgYesPrice, &p.AvgNoPrice, &p.TotalInvested, &p.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get position %s/%s: %w", marketID, userID, err)
	}
	return &p, nil
}

func (t *sqlTx) MarketPositions(ctx context.Context, marketID string) ([]model.Position, error) {
	positions, err := t.listPositions(ctx, `market_id = ?`, marketID)
	if err != nil {
		return nil, fmt.Errorf("market positions %s: %w", marketID, err)
	}
	return positions, nil
}

func (t *sqlTx) UserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	positions, err := t.listPositions(ctx, `user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("user positions %s: %w", userID, err)
	}
	return positions, nil
}

func (t *sqlTx) SavePosition(ctx context.Context, p *model.Position) error {
	_, err := t.q.exec(ctx,
		`INSERT INTO positions (`+positionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (market_id, user_id) DO UPDATE SET
		   yes_shares = excluded.yes_shares,
		   no_shares = excluded.no_shares,
		   avg_yes_price = excluded.avg_yes_price,
		   avg_no_price = excluded.avg_no_price,
		   total_invested = excluded.total_invested,
		   updated_at = excluded.updated_at`,
		p.MarketID, p.UserID, p.YesShares, p.NoShares, p.AvgYesPrice, p.AvgNoPrice,
		p.TotalInvested, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save position %s/%s: %w", p.MarketID, p.UserID, err)
	}
	return nil
}

// --- Lifetime records ---

const profitColumns = `user_id, total_profit, total_volume, markets_won, markets_lost,
	markets_participated, updated_at`

func (t *sqlTx) AddProfit(ctx context.Context, r *model.ProfitRecord) error {
	_, err := t.q.exec(ctx,
		`INSERT INTO user_profits (`+profitColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   total_profit = user_profits.total_profit + excluded.total_profit,
		   total_volume = user_profits.total_volume + excluded.total_volume,
		   markets_won = user_profits.markets_won + excluded.markets_won,
		   markets_lost = user_profits.markets_lost + excluded.markets_lost,
		   markets_participated = user_profits.markets_participated + excluded.markets_participated,
		   updated_at = excluded.updated_at`,
		r.UserID, r.TotalProfit, r.TotalVolume, r.MarketsWon, r.MarketsLost,
		r.MarketsParticipated, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("add profit %s: %w", r.UserID, err)
	}
	return nil
}

func scanProfit(r row) (*model.ProfitRecord, error) {
	var p model.ProfitRecord
	if err := r.Scan(&p.UserID, &p.TotalProfit, &p.TotalVolume, &p.MarketsWon, &p.MarketsLost,
		&p.MarketsParticipated, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *sqlTx) GetProfit(ctx context.Context, userID string) (*model.ProfitRecord, error) {
	p, err := scanProfit(t.q.queryRow(ctx, `SELECT `+profitColumns+` FROM user_profits WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return &model.ProfitRecord{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profit %s: %w", userID, err)
	}
	return p, nil
}

func (t *sqlTx) Leaderboard(ctx context.Context, limit int) ([]model.ProfitRecord, error) {
	q := `SELECT ` + profitColumns + ` FROM user_profits ORDER BY total_profit DESC, user_id`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rs, err := t.q.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rs.Close()

	var records []model.ProfitRecord
	for rs.Next() {
		p, err := scanProfit(rs)
		if err != nil {
			return nil, err
		}
		records = append(records, *p)
	}
	return records, rs.Err()
}

// --- House pot ---

func (t *sqlTx) AddHouseFees(ctx context.Context, fees int64, at time.Time) error {
	n, err := t.q.exec(ctx,
		`UPDATE house_pot SET total_fees = total_fees + ?, last_updated = ? WHERE id = 1`, fees, at)
	if err != nil {
		return fmt.Errorf("add house fees: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("house pot row missing: %w", model.ErrNotFound)
	}
	return nil
}

func (t *sqlTx) HousePot(ctx context.Context) (*model.HousePot, error) {
	var hp model.HousePot
	var updated *time.Time
	err := t.q.queryRow(ctx, `SELECT total_fees, last_updated FROM house_pot WHERE id = 1`).
		Scan(&hp.TotalFees, &updated)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("house pot: %w", err)
	}
	if updated != nil {
		hp.LastUpdated = *updated
	}
	return &hp, nil
}

// --- Settlements ---

const settlementColumns = `market_id, user_id, result, winning_shares, payout, invested,
	profit, fee, net_profit, settled_at`

func (t *sqlTx) InsertSettlement(ctx context.Context, s *model.Settlement) error {
	_, err := t.q.exec(ctx,
		`INSERT INTO settlements (`+settlementColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.MarketID, s.UserID, string(s.Result), s.WinningShares, s.Payout, s.Invested,
		s.Profit, s.Fee, s.NetProfit, s.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("insert settlement %s/%s: %w", s.MarketID, s.UserID, err)
	}
	return nil
}

func (t *sqlTx) MarketSettlements(ctx context.Context, marketID string) ([]model.Settlement, error) {
	rs, err := t.q.query(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE market_id = ? ORDER BY user_id`, marketID)
	if err != nil {
		return nil, fmt.Errorf("settlements %s: %w", marketID, err)
	}
	defer rs.Close()

	var out []model.Settlement
	for rs.Next() {
		var s model.Settlement
		var result string
		if err := rs.Scan(&s.MarketID, &s.UserID, &result, &s.WinningShares, &s.Payout, &s.Invested,
			&s.Profit, &s.Fee, &s.NetProfit, &s.SettledAt); err != nil {
			return nil, err
		}
		s.Result = model.Side(result)
		out = append(out, s)
	}
	return out, rs.Err()
}
