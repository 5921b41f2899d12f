package exchange

import (
	"context"

	"github.com/leaguehub/predex/internal/model"
	"github.com/leaguehub/predex/internal/store"
)

// YesVWAP is the volume-weighted average of trades in Yes terms, with No
// trades counted at 100 minus their price. ok is false without volume.
func YesVWAP(trades []model.Trade) (price int64, ok bool) {
	var qty, notional int64
	for _, t := range trades {
		qty += t.Quantity
		notional += t.Quantity * t.YesPrice()
	}
	if qty == 0 {
		return 0, false
	}
	return notional / qty, true
}

// recentPrice recomputes the Yes price from the latest trades, keeping
// current when the market has none.
func (s *Service) recentPrice(ctx context.Context, r store.Reader, marketID string, current int64) (int64, error) {
	trades, err := r.MarketTrades(ctx, marketID, s.priceWindow)
	if err != nil {
		return 0, err
	}
	p, ok := YesVWAP(trades)
	if !ok {
		return current, nil
	}
	return s.limits.ClampPrice(p), nil
}

func (s *Service) isBigMove(from, to int64) bool {
	d := to - from
	if d < 0 {
		d = -d
	}
	return d >= s.bigMove
}
