// Package book holds the resting orders of each market in price-time
// priority. A market has four queues, one per (side, direction).
package book

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/leaguehub/predex/internal/model"
)

// Entry is a resting order. Order is a private copy owned by the book.
type Entry struct {
	Price     int64
	CreatedAt time.Time
	OrderID   string
	Order     *model.Order
}

// PriceLevel aggregates the resting quantity at one price.
type PriceLevel struct {
	Price      int64 `json:"price"`
	Quantity   int64 `json:"quantity"`
	OrderCount int   `json:"order_count"`
}

// buyLess orders bids: price descending, then oldest first, then ID.
func buyLess(a, b Entry) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// sellLess orders asks: price ascending, then oldest first, then ID.
func sellLess(a, b Entry) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

type queueKey struct {
	side model.Side
	dir  model.Direction
}

// Book is the order book of one market. Mutations are expected to happen
// under the market's exclusive lock; the internal RWMutex only protects
// concurrent readers.
type Book struct {
	marketID string
	mu       sync.RWMutex
	queues   map[queueKey]*btree.BTreeG[Entry]
	index    map[string]Entry
}

// New creates an empty book.
func New(marketID string) *Book {
	const degree = 32
	b := &Book{
		marketID: marketID,
		queues:   make(map[queueKey]*btree.BTreeG[Entry], 4),
		index:    make(map[string]Entry),
	}
	for _, side := range []model.Side{model.SideYes, model.SideNo} {
		b.queues[queueKey{side, model.Buy}] = btree.NewG[Entry](degree, buyLess)
		b.queues[queueKey{side, model.Sell}] = btree.NewG[Entry](degree, sellLess)
	}
	return b
}

// MarketID returns the market this book belongs to.
func (b *Book) MarketID() string { return b.marketID }

func (b *Book) queue(side model.Side, dir model.Direction) *btree.BTreeG[Entry] {
	q, ok := b.queues[queueKey{side, dir}]
	if !ok {
		panic(fmt.Sprintf("book: unknown queue %s/%s", side, dir))
	}
	return q
}

// Insert adds an open order with remaining quantity. Other orders are
// ignored.
func (b *Book) Insert(o model.Order) {
	if o.Status != model.OrderOpen || o.Remaining() <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.index[o.ID]; ok {
		b.queue(old.Order.Side, old.Order.Direction).Delete(old)
	}
	e := Entry{Price: o.Price, CreatedAt: o.CreatedAt, OrderID: o.ID, Order: &o}
	b.queue(o.Side, o.Direction).ReplaceOrInsert(e)
	b.index[o.ID] = e
}

// Get returns a copy of a resting order.
func (b *Book) Get(orderID string) (model.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.index[orderID]
	if !ok {
		return model.Order{}, false
	}
	return *e.Order, true
}

// ReduceRemaining records a fill of qty against a resting order. The
// order leaves the book once fully filled. It returns the order's state
// after the fill.
func (b *Book) ReduceRemaining(orderID string, qty int64, at time.Time) (model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.index[orderID]
	if !ok {
		return model.Order{}, fmt.Errorf("order %s not resting: %w", orderID, model.ErrNotFound)
	}
	if qty <= 0 || qty > e.Order.Remaining() {
		return model.Order{}, fmt.Errorf("fill of %d exceeds remaining %d on order %s: %w",
			qty, e.Order.Remaining(), orderID, model.ErrConflict)
	}
	e.Order.FilledQuantity += qty
	if e.Order.Remaining() == 0 {
		e.Order.Status = model.OrderFilled
		e.Order.FilledAt = &at
		b.queue(e.Order.Side, e.Order.Direction).Delete(e)
		delete(b.index, orderID)
	}
	return *e.Order, nil
}

// Cancel removes a resting order. An order that is not resting has
// already been filled or cancelled.
func (b *Book) Cancel(orderID string) (model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.index[orderID]
	if !ok {
		return model.Order{}, fmt.Errorf("order %s is not open: %w", orderID, model.ErrAlreadySettled)
	}
	b.queue(e.Order.Side, e.Order.Direction).Delete(e)
	delete(b.index, orderID)
	o := *e.Order
	o.Status = model.OrderCancelled
	return o, nil
}

// TopOfBook returns the best resting order of one queue.
func (b *Book) TopOfBook(side model.Side, dir model.Direction) (model.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.queue(side, dir).Min()
	if !ok {
		return model.Order{}, false
	}
	return *e.Order, true
}

// Walk visits one queue in priority order until fn returns false. fn must
// not mutate the book.
func (b *Book) Walk(side model.Side, dir model.Direction, fn func(o model.Order) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.queue(side, dir).Ascend(func(e Entry) bool {
		return fn(*e.Order)
	})
}

// Depth is the number of resting orders in one queue.
func (b *Book) Depth(side model.Side, dir model.Direction) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.queue(side, dir).Len()
}

// Len is the total number of resting orders.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.index)
}

// Levels aggregates up to n price levels of one queue in priority order.
func (b *Book) Levels(side model.Side, dir model.Direction, n int) []PriceLevel {
	if n <= 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := make([]PriceLevel, 0, n)
	b.queue(side, dir).Ascend(func(e Entry) bool {
		if len(levels) > 0 && levels[len(levels)-1].Price == e.Price {
			levels[len(levels)-1].Quantity += e.Order.Remaining()
			levels[len(levels)-1].OrderCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, PriceLevel{Price: e.Price, Quantity: e.Order.Remaining(), OrderCount: 1})
		return true
	})
	return levels
}

// Pending sums the remaining quantity of a user's resting orders in one
// queue.
func (b *Book) Pending(userID string, side model.Side, dir model.Direction) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var total int64
	for _, e := range b.index {
		if e.Order.UserID == userID && e.Order.Side == side && e.Order.Direction == dir {
			total += e.Order.Remaining()
		}
	}
	return total
}

// Snapshot is a depth view of all four queues.
type Snapshot struct {
	YesBids []PriceLevel `json:"yes_bids"`
	YesAsks []PriceLevel `json:"yes_asks"`
	NoBids  []PriceLevel `json:"no_bids"`
	NoAsks  []PriceLevel `json:"no_asks"`
}

// Snapshot aggregates up to n levels per queue.
func (b *Book) Snapshot(n int) Snapshot {
	return Snapshot{
		YesBids: b.Levels(model.SideYes, model.Buy, n),
		YesAsks: b.Levels(model.SideYes, model.Sell, n),
		NoBids:  b.Levels(model.SideNo, model.Buy, n),
		NoAsks:  b.Levels(model.SideNo, model.Sell, n),
	}
}
