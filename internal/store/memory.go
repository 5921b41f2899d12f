package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/leaguehub/predex/internal/model"
)

type posKey struct{ market, user string }

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Each call takes the store mutex briefly. Transactions record an undo
// journal and replay it in reverse on rollback; isolation between
// transactions on the same market comes from the caller's market lock.
type MemoryStore struct {
	mu          sync.RWMutex
	markets     map[string]*model.Market
	orders      map[string]*model.Order
	trades      map[string][]model.Trade // by market, oldest first
	positions   map[posKey]*model.Position
	profits     map[string]*model.ProfitRecord
	house       model.HousePot
	settlements map[string][]model.Settlement

	memTx
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		markets:     make(map[string]*model.Market),
		orders:      make(map[string]*model.Order),
		trades:      make(map[string][]model.Trade),
		positions:   make(map[posKey]*model.Position),
		profits:     make(map[string]*model.ProfitRecord),
		settlements: make(map[string][]model.Settlement),
	}
	s.memTx = memTx{s: s}
	return s
}

// WithTx runs fn against a journaled view of the store.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx := &memTx{s: s, journal: &[]func(){}}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
		if err != nil {
			tx.rollback()
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(tx)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// memTx implements Tx. With a nil journal writes are applied immediately.
type memTx struct {
	s       *MemoryStore
	journal *[]func()
}

func (t *memTx) undo(fn func()) {
	if t.journal != nil {
		*t.journal = append(*t.journal, fn)
	}
}

func (t *memTx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	j := *t.journal
	for i := len(j) - 1; i >= 0; i-- {
		j[i]()
	}
	*t.journal = nil
}

// --- Markets ---

func (t *memTx) GetMarket(_ context.Context, id string) (*model.Market, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	m, ok := t.s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (t *memTx) LockMarket(ctx context.Context, id string) (*model.Market, error) {
	return t.GetMarket(ctx, id)
}

func (t *memTx) ListMarkets(_ context.Context, f MarketFilter) ([]model.Market, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	markets := make([]model.Market, 0, len(t.s.markets))
	for _, m := range t.s.markets {
		if f.GuildID != "" && m.GuildID != f.GuildID {
			continue
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		markets = append(markets, *m)
	}
	slices.SortFunc(markets, func(a, b model.Market) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return markets, nil
}

func (t *memTx) CountMarkets(_ context.Context) (int, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return len(t.s.markets), nil
}

func (t *memTx) CreateMarket(_ context.Context, m *model.Market) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if _, ok := t.s.markets[m.ID]; ok {
		return fmt.Errorf("market %s already exists: %w", m.ID, model.ErrConflict)
	}
	cp := *m
	t.s.markets[m.ID] = &cp
	t.undo(func() { delete(t.s.markets, m.ID) })
	return nil
}

func (t *memTx) updateMarket(id string, fn func(m *model.Market)) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	m, ok := t.s.markets[id]
	if !ok {
		return fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	prev := *m
	fn(m)
	t.undo(func() { *t.s.markets[id] = prev })
	return nil
}

func (t *memTx) UpdateMarketTrading(_ context.Context, id string, volumeDelta, yesPrice int64) error {
	return t.updateMarket(id, func(m *model.Market) {
		m.TotalVolume += volumeDelta
		m.YesPrice = yesPrice
	})
}

func (t *memTx) ResolveMarket(_ context.Context, id string, result model.Side, at time.Time) error {
	return t.updateMarket(id, func(m *model.Market) {
		m.Status = model.MarketResolved
		m.Result = &result
		m.ResolvedAt = &at
	})
}

// --- Orders ---

func (t *memTx) InsertOrder(_ context.Context, o *model.Order) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if _, ok := t.s.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists: %w", o.ID, model.ErrConflict)
	}
	cp := *o
	t.s.orders[o.ID] = &cp
	t.undo(func() { delete(t.s.orders, o.ID) })
	return nil
}

func (t *memTx) updateOrder(id string, fn func(o *model.Order) error) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	o, ok := t.s.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	prev := *o
	if err := fn(o); err != nil {
		return err
	}
	t.undo(func() { *t.s.orders[id] = prev })
	return nil
}

func (t *memTx) FillOrder(_ context.Context, id string, qty int64, at time.Time) error {
	return t.updateOrder(id, func(o *model.Order) error {
		if o.Status != model.OrderOpen || qty <= 0 || o.FilledQuantity+qty > o.Quantity {
			return fmt.Errorf("fill %d on order %s (%s, %d/%d): %w",
				qty, id, o.Status, o.FilledQuantity, o.Quantity, model.ErrConflict)
		}
		o.FilledQuantity += qty
		if o.FilledQuantity == o.Quantity {
			o.Status = model.OrderFilled
			o.FilledAt = &at
		}
		return nil
	})
}

func (t *memTx) CancelOrder(_ context.Context, id string, at time.Time) error {
	return t.updateOrder(id, func(o *model.Order) error {
		if o.Status != model.OrderOpen {
			return fmt.Errorf("cancel order %s (%s): %w", id, o.Status, model.ErrConflict)
		}
		o.Status = model.OrderCancelled
		o.CancelledAt = &at
		return nil
	})
}

func (t *memTx) CancelOpenOrders(ctx context.Context, marketID string, at time.Time) (int, error) {
	open, err := t.OpenOrders(ctx, marketID)
	if err != nil {
		return 0, err
	}
	for _, o := range open {
		if err := t.CancelOrder(ctx, o.ID, at); err != nil {
			return 0, err
		}
	}
	return len(open), nil
}

func (t *memTx) GetOrder(_ context.Context, id string) (*model.Order, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	o, ok := t.s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (t *memTx) openOrders(match func(o *model.Order) bool) []model.Order {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	var out []model.Order
	for _, o := range t.s.orders {
		if o.Status == model.OrderOpen && match(o) {
			out = append(out, *o)
		}
	}
	slices.SortFunc(out, func(a, b model.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (t *memTx) OpenOrders(_ context.Context, marketID string) ([]model.Order, error) {
	return t.openOrders(func(o *model.Order) bool { return o.MarketID == marketID }), nil
}

func (t *memTx) UserOpenOrders(_ context.Context, userID string) ([]model.Order, error) {
	return t.openOrders(func(o *model.Order) bool { return o.UserID == userID }), nil
}

// --- Trades ---

func (t *memTx) InsertTrade(_ context.Context, tr *model.Trade) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	n := len(t.s.trades[tr.MarketID])
	t.s.trades[tr.MarketID] = append(t.s.trades[tr.MarketID], *tr)
	t.undo(func() { t.s.trades[tr.MarketID] = t.s.trades[tr.MarketID][:n] })
	return nil
}

func (t *memTx) MarketTrades(_ context.Context, marketID string, limit int) ([]model.Trade, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	all := t.s.trades[marketID]
	n := len(all)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.Trade, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// --- Positions ---

func (t *memTx) GetPosition(_ context.Context, marketID, userID string) (*model.Position, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	if p, ok := t.s.positions[posKey{marketID, userID}]; ok {
		cp := *p
		return &cp, nil
	}
	return &model.Position{MarketID: marketID, UserID: userID}, nil
}

func (t *memTx) SavePosition(_ context.Context, p *model.Position) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	key := posKey{p.MarketID, p.UserID}
	prev, existed := t.s.positions[key]
	cp := *p
	t.s.positions[key] = &cp
	t.undo(func() {
		if existed {
			t.s.positions[key] = prev
		} else {
			delete(t.s.positions, key)
		}
	})
	return nil
}

func (t *memTx) positionsWhere(match func(k posKey) bool) []model.Position {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	var out []model.Position
	for k, p := range t.s.positions {
		if match(k) {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b model.Position) int {
		if c := cmp.Compare(a.MarketID, b.MarketID); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return out
}

func (t *memTx) MarketPositions(_ context.Context, marketID string) ([]model.Position, error) {
	return t.positionsWhere(func(k posKey) bool { return k.market == marketID }), nil
}

func (t *memTx) UserPositions(_ context.Context, userID string) ([]model.Position, error) {
	return t.positionsWhere(func(k posKey) bool { return k.user == userID }), nil
}

// --- Lifetime records ---

func (t *memTx) AddProfit(_ context.Context, rec *model.ProfitRecord) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	cur, ok := t.s.profits[rec.UserID]
	if !ok {
		cur = &model.ProfitRecord{UserID: rec.UserID}
		t.s.profits[rec.UserID] = cur
	}
	prevUpdated := cur.UpdatedAt
	cur.TotalProfit += rec.TotalProfit
	cur.TotalVolume += rec.TotalVolume
	cur.MarketsWon += rec.MarketsWon
	cur.MarketsLost += rec.MarketsLost
	cur.MarketsParticipated += rec.MarketsParticipated
	cur.UpdatedAt = rec.UpdatedAt

	delta := *rec
	t.undo(func() {
		if !ok {
			delete(t.s.profits, delta.UserID)
			return
		}
		c := t.s.profits[delta.UserID]
		c.TotalProfit -= delta.TotalProfit
		c.TotalVolume -= delta.TotalVolume
		c.MarketsWon -= delta.MarketsWon
		c.MarketsLost -= delta.MarketsLost
		c.MarketsParticipated -= delta.MarketsParticipated
		c.UpdatedAt = prevUpdated
	})
	return nil
}

func (t *memTx) GetProfit(_ context.Context, userID string) (*model.ProfitRecord, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	if r, ok := t.s.profits[userID]; ok {
		cp := *r
		return &cp, nil
	}
	return &model.ProfitRecord{UserID: userID}, nil
}

func (t *memTx) Leaderboard(_ context.Context, limit int) ([]model.ProfitRecord, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	out := make([]model.ProfitRecord, 0, len(t.s.profits))
	for _, r := range t.s.profits {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b model.ProfitRecord) int {
		if c := cmp.Compare(b.TotalProfit, a.TotalProfit); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- House pot ---

func (t *memTx) AddHouseFees(_ context.Context, fees int64, at time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	prevUpdated := t.s.house.LastUpdated
	t.s.house.TotalFees += fees
	t.s.house.LastUpdated = at
	t.undo(func() {
		t.s.house.TotalFees -= fees
		t.s.house.LastUpdated = prevUpdated
	})
	return nil
}

func (t *memTx) HousePot(_ context.Context) (*model.HousePot, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	hp := t.s.house
	return &hp, nil
}

// --- Settlements ---

func (t *memTx) InsertSettlement(_ context.Context, st *model.Settlement) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for _, existing := range t.s.settlements[st.MarketID] {
		if existing.UserID == st.UserID {
			return fmt.Errorf("settlement %s/%s already exists: %w", st.MarketID, st.UserID, model.ErrConflict)
		}
	}
	n := len(t.s.settlements[st.MarketID])
	t.s.settlements[st.MarketID] = append(t.s.settlements[st.MarketID], *st)
	t.undo(func() { t.s.settlements[st.MarketID] = t.s.settlements[st.MarketID][:n] })
	return nil
}

func (t *memTx) MarketSettlements(_ context.Context, marketID string) ([]model.Settlement, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	return slices.Clone(t.s.settlements[marketID]), nil
}
