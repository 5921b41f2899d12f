package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/leaguehub/predex/internal/book"
	"github.com/leaguehub/predex/internal/model"
	"github.com/leaguehub/predex/internal/store"
)

// Read view sizes.
const (
	bookDepth    = 5
	recentTrades = 10
)

// MarketView is a market with its aggregated book and latest trades.
type MarketView struct {
	Market model.Market  `json:"market"`
	Book   book.Snapshot `json:"book"`
	Recent []model.Trade `json:"recent_trades"`
}

// GetMarket returns a market with its book depth and recent trades.
func (s *Service) GetMarket(ctx context.Context, marketID string) (*MarketView, error) {
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	snap, err := s.Book(ctx, marketID, bookDepth)
	if err != nil {
		return nil, err
	}
	recent, err := s.store.MarketTrades(ctx, marketID, recentTrades)
	if err != nil {
		return nil, err
	}
	return &MarketView{Market: *m, Book: snap, Recent: recent}, nil
}

// Book aggregates up to depth price levels per queue. The market lock is
// held so a cached book is never built from a half-applied trade.
func (s *Service) Book(ctx context.Context, marketID string, depth int) (book.Snapshot, error) {
	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		return book.Snapshot{}, err
	}
	unlock := s.locks.lock(marketID)
	defer unlock()

	b, err := s.books.Load(ctx, s.store, marketID)
	if err != nil {
		return book.Snapshot{}, err
	}
	return b.Snapshot(depth), nil
}

// ListMarkets returns markets newest first.
func (s *Service) ListMarkets(ctx context.Context, f store.MarketFilter) ([]model.Market, error) {
	return s.store.ListMarkets(ctx, f)
}

// MarketTrades returns up to limit trades of a market, newest first.
func (s *Service) MarketTrades(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	return s.store.MarketTrades(ctx, marketID, limit)
}

// Portfolio marks a user's non-empty positions to their markets' current
// Yes price and lists the user's resting orders and lifetime record. A
// non-empty guildID restricts it to that guild's markets.
func (s *Service) Portfolio(ctx context.Context, userID, guildID string) (*model.Portfolio, error) {
	positions, err := s.store.UserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	pf := &model.Portfolio{UserID: userID, Holdings: []model.Holding{}, OpenOrders: []model.Order{}}
	markets := make(map[string]*model.Market)
	market := func(id string) (*model.Market, error) {
		if m, ok := markets[id]; ok {
			return m, nil
		}
		m, err := s.store.GetMarket(ctx, id)
		if err != nil {
			return nil, err
		}
		markets[id] = m
		return m, nil
	}

	for _, p := range positions {
		if p.YesShares == 0 && p.NoShares == 0 {
			continue
		}
		m, err := market(p.MarketID)
		if err != nil {
			return nil, err
		}
		if guildID != "" && m.GuildID != guildID {
			continue
		}
		value := p.Value(m.YesPrice)
		h := model.Holding{
			Position:      p,
			Question:      m.Question,
			Status:        m.Status,
			YesPrice:      m.YesPrice,
			CurrentValue:  value,
			UnrealizedPnL: value - p.TotalInvested,
		}
		pf.Holdings = append(pf.Holdings, h)
		pf.TotalValue += h.CurrentValue
		pf.TotalUnrealized += h.UnrealizedPnL
	}

	orders, err := s.store.UserOpenOrders(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		m, err := market(o.MarketID)
		if err != nil {
			return nil, err
		}
		if guildID != "" && m.GuildID != guildID {
			continue
		}
		pf.OpenOrders = append(pf.OpenOrders, o)
	}

	rec, err := s.store.GetProfit(ctx, userID)
	if err != nil {
		return nil, err
	}
	pf.Lifetime = *rec
	return pf, nil
}

// LeaderboardEntry is one ranked lifetime record.
type LeaderboardEntry struct {
	Rank int `json:"rank"`
	model.ProfitRecord
	WinRate decimal.Decimal `json:"win_rate"`
}

// Leaderboard ranks users by lifetime net profit.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	records, err := s.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(records))
	for i, r := range records {
		entries = append(entries, LeaderboardEntry{Rank: i + 1, ProfitRecord: r, WinRate: r.WinRate()})
	}
	return entries, nil
}

// HousePot returns the accumulated settlement fees.
func (s *Service) HousePot(ctx context.Context) (*model.HousePot, error) {
	return s.store.HousePot(ctx)
}

// Settlements returns the payout records of a resolved market.
func (s *Service) Settlements(ctx context.Context, marketID string) ([]model.Settlement, error) {
	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	return s.store.MarketSettlements(ctx, marketID)
}
