package book

import (
	"context"
	"fmt"
	"sync"

	"github.com/leaguehub/predex/internal/model"
)

// Loader reads the open orders a book is rebuilt from.
type Loader interface {
	OpenOrders(ctx context.Context, marketID string) ([]model.Order, error)
}

// Manager keeps one book per market, built lazily from the store.
//
// Cached books assume this process is the only writer for its markets.
// With caching disabled every Load rebuilds the book from the store, which
// is what several engine instances sharing one database need.
type Manager struct {
	mu    sync.Mutex
	books map[string]*Book
	cache bool
}

// NewManager creates a manager. cache=false rebuilds books on every Load.
func NewManager(cache bool) *Manager {
	return &Manager{
		books: make(map[string]*Book),
		cache: cache,
	}
}

// Load returns the market's book, reading open orders through l on a miss.
// Callers hold the market's lock, so l may be the market's transaction.
func (m *Manager) Load(ctx context.Context, l Loader, marketID string) (*Book, error) {
	if m.cache {
		m.mu.Lock()
		b, ok := m.books[marketID]
		m.mu.Unlock()
		if ok {
			return b, nil
		}
	}

	orders, err := l.OpenOrders(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("load book %s: %w", marketID, err)
	}
	b := New(marketID)
	for _, o := range orders {
		b.Insert(o)
	}

	if m.cache {
		m.mu.Lock()
		m.books[marketID] = b
		m.mu.Unlock()
	}
	return b, nil
}

// Invalidate drops the cached book so the next Load rebuilds it. Called
// whenever a transaction touching the market rolls back.
func (m *Manager) Invalidate(marketID string) {
	m.mu.Lock()
	delete(m.books, marketID)
	m.mu.Unlock()
}
