// Package store defines the persistence interface for the exchange.
// Implementations include PostgreSQL and SQLite (durable), Redis
// (read-through cache over either), and in-memory (tests, development).
//
// Every mutation runs inside WithTx. A transaction either commits all of
// its writes or none of them.
package store

import (
	"context"
	"time"

	"github.com/leaguehub/predex/internal/model"
)

// MarketFilter narrows ListMarkets. Zero fields match everything.
type MarketFilter struct {
	GuildID string
	Status  model.MarketStatus
}

// Reader holds the queries usable both inside and outside a transaction.
type Reader interface {
	// --- Markets ---

	// GetMarket returns model.ErrNotFound for unknown IDs.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns markets newest first.
	ListMarkets(ctx context.Context, f MarketFilter) ([]model.Market, error)

	// --- Orders ---

	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// OpenOrders returns a market's resting orders, oldest first.
	OpenOrders(ctx context.Context, marketID string) ([]model.Order, error)

	// UserOpenOrders returns a user's resting orders across markets.
	UserOpenOrders(ctx context.Context, userID string) ([]model.Order, error)

	// --- Trades (append-only) ---

	// MarketTrades returns up to limit trades, newest first. limit <= 0
	// returns all of them.
	MarketTrades(ctx context.Context, marketID string, limit int) ([]model.Trade, error)

	// --- Positions ---

	// GetPosition returns a zero position when the user never traded.
	GetPosition(ctx context.Context, marketID, userID string) (*model.Position, error)
	MarketPositions(ctx context.Context, marketID string) ([]model.Position, error)
	UserPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Lifetime records, house pot, settlements ---

	// GetProfit returns a zero record for users that never settled.
	GetProfit(ctx context.Context, userID string) (*model.ProfitRecord, error)

	// Leaderboard returns the top records by total profit.
	Leaderboard(ctx context.Context, limit int) ([]model.ProfitRecord, error)

	HousePot(ctx context.Context) (*model.HousePot, error)
	MarketSettlements(ctx context.Context, marketID string) ([]model.Settlement, error)
}

// Tx is a unit of work. Writes are only available here.
type Tx interface {
	Reader

	// LockMarket reads a market and holds it exclusively until the
	// transaction ends where the backend supports row locks.
	LockMarket(ctx context.Context, id string) (*model.Market, error)

	CountMarkets(ctx context.Context) (int, error)

	// CreateMarket returns model.ErrConflict when the ID is taken.
	CreateMarket(ctx context.Context, m *model.Market) error

	// UpdateMarketTrading adds to the volume and sets the Yes price.
	UpdateMarketTrading(ctx context.Context, id string, volumeDelta, yesPrice int64) error

	ResolveMarket(ctx context.Context, id string, result model.Side, at time.Time) error

	InsertOrder(ctx context.Context, o *model.Order) error

	// FillOrder adds qty to an open order's filled quantity and marks it
	// filled when complete. It returns model.ErrConflict if the order is
	// no longer open or qty exceeds its remainder.
	FillOrder(ctx context.Context, id string, qty int64, at time.Time) error

	// CancelOrder cancels an open order, or returns model.ErrConflict.
	CancelOrder(ctx context.Context, id string, at time.Time) error

	// CancelOpenOrders cancels every resting order of a market.
	CancelOpenOrders(ctx context.Context, marketID string, at time.Time) (int, error)

	InsertTrade(ctx context.Context, t *model.Trade) error

	// SavePosition upserts a position. Only the ledger calls it.
	SavePosition(ctx context.Context, p *model.Position) error

	// AddProfit adds rec's counters to the user's lifetime record.
	AddProfit(ctx context.Context, rec *model.ProfitRecord) error

	// AddHouseFees adds to the singleton pot.
	AddHouseFees(ctx context.Context, fees int64, at time.Time) error

	InsertSettlement(ctx context.Context, s *model.Settlement) error
}

// Store is the persistence interface.
type Store interface {
	Reader

	// WithTx runs fn in a transaction, committing if fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}
