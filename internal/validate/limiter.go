// Package validate implements the pre-trade checks that run before any
// state is touched: order size and increment, price bounds, market state,
// and the per-user, per-side share cap.
//
// Every failure is a *model.ValidationError whose Reason is shown to the
// user verbatim, except for missing or closed markets which carry the
// corresponding sentinel error.
package validate

import (
	"fmt"

	"github.com/leaguehub/predex/internal/model"
)

// Limiter holds the exchange's trading limits.
type Limiter struct {
	// MinAmount is the smallest accepted order, in dollars (= shares).
	MinAmount int64

	// Increment is the order size step, in dollars.
	Increment int64

	// MinPrice and MaxPrice bound limit prices, in cents.
	MinPrice int64
	MaxPrice int64

	// MaxSharesPerSide caps a user's holding of one outcome in one
	// market, counting shares already owned and shares pending in the
	// user's resting buy orders.
	MaxSharesPerSide int64
}

// Default limits.
const (
	DefaultMinAmount        = 10
	DefaultIncrement        = 10
	DefaultMinPrice         = 5
	DefaultMaxPrice         = 95
	DefaultMaxSharesPerSide = 500
)

// NewLimiter returns a limiter with the default limits.
func NewLimiter() *Limiter {
	return &Limiter{
		MinAmount:        DefaultMinAmount,
		Increment:        DefaultIncrement,
		MinPrice:         DefaultMinPrice,
		MaxPrice:         DefaultMaxPrice,
		MaxSharesPerSide: DefaultMaxSharesPerSide,
	}
}

// ValidateTrade checks order size and limit price.
func (l *Limiter) ValidateTrade(amount, limitPrice int64) error {
	if amount < l.MinAmount {
		return model.Rejected("minimum trade is $%d", l.MinAmount)
	}
	if l.Increment > 0 && amount%l.Increment != 0 {
		return model.Rejected("not a $%d increment", l.Increment)
	}
	if limitPrice < l.MinPrice || limitPrice > l.MaxPrice {
		return model.Rejected("price must be between %d¢ and %d¢", l.MinPrice, l.MaxPrice)
	}
	return nil
}

// CheckMarket rejects trading on unknown or resolved markets.
func (l *Limiter) CheckMarket(m *model.Market) error {
	if m == nil {
		return model.ErrNotFound
	}
	if m.Status != model.MarketActive {
		return fmt.Errorf("market %s is not active: %w", m.ID, model.ErrAlreadySettled)
	}
	return nil
}

// CheckPosition enforces the share cap for buys and inventory for sells.
// owned is the user's current holding of side; pending is the unfilled
// quantity of the user's resting orders in the same direction and side.
func (l *Limiter) CheckPosition(dir model.Direction, side model.Side, owned, pending, quantity int64) error {
	if dir == model.Buy {
		if owned+pending+quantity > l.MaxSharesPerSide {
			return model.Rejected("volume cap exceeded: max %d shares per side per market (you have %d %s shares)",
				l.MaxSharesPerSide, owned+pending, side)
		}
		return nil
	}
	if quantity+pending > owned {
		return model.Rejected("insufficient shares: you have %d %s shares available", owned-pending, side)
	}
	return nil
}

// ClampPrice bounds p to the tradable range.
func (l *Limiter) ClampPrice(p int64) int64 {
	return max(l.MinPrice, min(l.MaxPrice, p))
}
