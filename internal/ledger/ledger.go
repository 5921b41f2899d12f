// Package ledger maintains per-user, per-market share inventory and
// weighted-average cost. ApplyFill is the only code path that writes
// positions; it runs once per trade leg.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/leaguehub/predex/internal/model"
)

// Positions is the slice of the store the ledger needs.
type Positions interface {
	GetPosition(ctx context.Context, marketID, userID string) (*model.Position, error)
	SavePosition(ctx context.Context, p *model.Position) error
}

// Apply returns p after one fill leg. Average price uses truncating
// integer division on every fill. Sells floor shares at zero and may
// drive TotalInvested negative.
func Apply(p model.Position, leg model.Leg) model.Position {
	shares, avg := &p.YesShares, &p.AvgYesPrice
	if leg.Side == model.SideNo {
		shares, avg = &p.NoShares, &p.AvgNoPrice
	}
	cost := leg.Quantity * leg.Price

	if leg.IsBuy {
		newShares := *shares + leg.Quantity
		if newShares > 0 {
			*avg = ((*shares)*(*avg) + cost) / newShares
		}
		*shares = newShares
		p.TotalInvested += cost
		return p
	}

	*shares = max(0, *shares-leg.Quantity)
	p.TotalInvested -= cost
	return p
}

// ApplyFill loads the leg owner's position, applies the leg and saves it.
func ApplyFill(ctx context.Context, ps Positions, marketID string, leg model.Leg, at time.Time) (*model.Position, error) {
	cur, err := ps.GetPosition(ctx, marketID, leg.UserID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load position %s/%s: %w", marketID, leg.UserID, err)
	}
	next := Apply(*cur, leg)
	next.MarketID = marketID
	next.UserID = leg.UserID
	next.UpdatedAt = at
	if err := ps.SavePosition(ctx, &next); err != nil {
		return nil, fmt.Errorf("ledger: save position %s/%s: %w", marketID, leg.UserID, err)
	}
	return &next, nil
}
