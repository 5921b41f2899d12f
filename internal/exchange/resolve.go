package exchange

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leaguehub/predex/internal/metrics"
	"github.com/leaguehub/predex/internal/model"
	"github.com/leaguehub/predex/internal/settlement"
	"github.com/leaguehub/predex/internal/store"
)

// Resolve settles a market on result. Every non-bot position is paid out,
// lifetime records and the house pot are updated, resting orders are
// cancelled and the market is closed, all in one transaction. A second
// call returns model.ErrAlreadyResolved and changes nothing.
func (s *Service) Resolve(ctx context.Context, marketID string, result model.Side) (*settlement.Report, error) {
	result, err := model.ParseSide(string(result))
	if err != nil {
		return nil, reject(err)
	}

	unlock := s.locks.lock(marketID)
	defer unlock()

	var (
		report    settlement.Report
		question  string
		cancelled int
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		m, err := tx.LockMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if m.Status != model.MarketActive {
			return fmt.Errorf("market %s: %w", marketID, model.ErrAlreadyResolved)
		}
		question = m.Question

		positions, err := tx.MarketPositions(ctx, marketID)
		if err != nil {
			return err
		}
		now := s.now()
		report = settlement.Settle(marketID, result, positions, s.feeRate, now)

		for _, st := range report.Settlements {
			delta := settlement.Lifetime(st)
			if err := tx.AddProfit(ctx, &delta); err != nil {
				return err
			}
			if err := tx.InsertSettlement(ctx, &st); err != nil {
				return err
			}
		}
		if err := tx.AddHouseFees(ctx, report.HouseFee, now); err != nil {
			return err
		}
		if cancelled, err = tx.CancelOpenOrders(ctx, marketID, now); err != nil {
			return err
		}
		return tx.ResolveMarket(ctx, marketID, result, now)
	})
	// The book is either stale (rollback) or empty (resolved).
	s.books.Invalidate(marketID)
	if err != nil {
		return nil, reject(err)
	}

	metrics.MarketsResolved.WithLabelValues(string(result)).Inc()
	metrics.HouseFees.Add(float64(report.HouseFee))
	metrics.ActiveMarkets.Dec()
	slog.Info("market resolved",
		"market", marketID,
		"result", result,
		"settled_users", len(report.Settlements),
		"winners", len(report.Winners()),
		"house_fee", report.HouseFee,
		"total_payout", report.TotalPayout,
		"cancelled_orders", cancelled,
	)
	s.pub.Publish(model.Event{
		Type:     model.EventMarketResolved,
		MarketID: marketID,
		Result:   result,
		Question: question,
		At:       report.ResolvedAt,
	})
	return &report, nil
}
