package exchange

import (
	"context"
	"log/slog"

	"github.com/leaguehub/predex/internal/metrics"
	"github.com/leaguehub/predex/internal/model"
	"github.com/leaguehub/predex/internal/store"
)

// Replenish refreshes a market's Yes price from its recent trades and, if
// any book queue has run thin, seeds a fresh set of bot quotes around it.
// Resolved markets are skipped. It reports whether quotes were added.
func (s *Service) Replenish(ctx context.Context, marketID string) (bool, error) {
	unlock := s.locks.lock(marketID)
	defer unlock()

	var (
		reseeded bool
		price    int64
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		m, err := tx.LockMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if m.Status != model.MarketActive {
			return nil
		}

		price, err = s.recentPrice(ctx, tx, m.ID, m.YesPrice)
		if err != nil {
			return err
		}
		if price != m.YesPrice {
			if err := tx.UpdateMarketTrading(ctx, m.ID, 0, price); err != nil {
				return err
			}
		}

		b, err := s.books.Load(ctx, tx, m.ID)
		if err != nil {
			return err
		}
		if !s.provider.NeedsReplenish(b) {
			return nil
		}
		reseeded = true
		return s.seed(ctx, tx, m.ID, price, s.now())
	})
	if err != nil {
		s.books.Invalidate(marketID)
		return false, err
	}

	if reseeded {
		metrics.Replenishments.Inc()
		slog.Info("market replenished", "market", marketID, "yes_price", price)
	}
	return reseeded, nil
}
