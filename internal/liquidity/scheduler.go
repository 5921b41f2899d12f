package liquidity

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Replenisher is the exchange surface the scheduler drives.
type Replenisher interface {
	ActiveMarketIDs(ctx context.Context) ([]string, error)
	// Replenish refreshes the market's price and reseeds a thin book. It
	// reports whether new quotes were placed.
	Replenish(ctx context.Context, marketID string) (bool, error)
}

// Scheduler runs the periodic price refresh and reseed cycle.
type Scheduler struct {
	target      Replenisher
	interval    time.Duration
	concurrency int
}

// NewScheduler creates a scheduler. concurrency bounds how many markets
// are processed at once.
func NewScheduler(target Replenisher, interval time.Duration, concurrency int) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{target: target, interval: interval, concurrency: concurrency}
}

// Start runs RunCycle every interval until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("replenish scheduler started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("replenish scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.RunCycle(ctx); err != nil {
				slog.Error("replenish cycle failed", "err", err)
			}
		}
	}
}

// RunCycle processes every active market once and returns how many were
// reseeded. A failing market is logged and does not stop the others.
func (s *Scheduler) RunCycle(ctx context.Context) (int, error) {
	ids, err := s.target.ActiveMarketIDs(ctx)
	if err != nil {
		return 0, err
	}

	var reseeded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ok, err := s.target.Replenish(gctx, id)
			if err != nil {
				slog.Warn("replenish failed", "market", id, "err", err)
				return nil
			}
			if ok {
				reseeded.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	slog.Info("replenish cycle complete", "markets", len(ids), "reseeded", reseeded.Load())
	return int(reseeded.Load()), err
}
