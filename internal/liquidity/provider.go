// Package liquidity is the synthetic market maker. It seeds every market
// with resting quotes around the current price, fills whatever an incoming
// trade could not match, and reseeds thin books on a schedule.
package liquidity

import (
	"time"

	"github.com/google/uuid"

	"github.com/leaguehub/predex/internal/book"
	"github.com/leaguehub/predex/internal/model"
)

// Config parameterizes the provider.
type Config struct {
	// Spread is added to and subtracted from the mid price, in cents.
	Spread int64 `yaml:"spread"`

	// Quantity is the size of each seeded order.
	Quantity int64 `yaml:"quantity"`

	// MinDepth is the fewest resting orders a queue may hold before the
	// market is reseeded.
	MinDepth int `yaml:"min_depth"`

	MinPrice int64 `yaml:"min_price"`
	MaxPrice int64 `yaml:"max_price"`
}

// DefaultConfig returns the standard quoting parameters.
func DefaultConfig() Config {
	return Config{Spread: 5, Quantity: 100, MinDepth: 2, MinPrice: 5, MaxPrice: 95}
}

// Provider creates the bot's orders and fills.
type Provider struct {
	cfg   Config
	newID func() string
}

// NewProvider creates a provider.
func NewProvider(cfg Config) *Provider {
	return &Provider{cfg: cfg, newID: uuid.NewString}
}

// Config returns the provider's parameters.
func (p *Provider) Config() Config { return p.cfg }

func (p *Provider) clamp(price int64) int64 {
	return max(p.cfg.MinPrice, min(p.cfg.MaxPrice, price))
}

// SeedOrders quotes both outcomes around yesPrice: a Yes ask and bid at
// yesPrice±Spread and the mirrored No ask and bid around 100-yesPrice.
func (p *Provider) SeedOrders(marketID string, yesPrice int64, at time.Time) []model.Order {
	noPrice := model.ShareValue - yesPrice
	quotes := []struct {
		side  model.Side
		dir   model.Direction
		price int64
	}{
		{model.SideYes, model.Sell, yesPrice + p.cfg.Spread},
		{model.SideYes, model.Buy, yesPrice - p.cfg.Spread},
		{model.SideNo, model.Sell, noPrice + p.cfg.Spread},
		{model.SideNo, model.Buy, noPrice - p.cfg.Spread},
	}

	orders := make([]model.Order, 0, len(quotes))
	for _, q := range quotes {
		orders = append(orders, model.Order{
			ID:        p.newID(),
			MarketID:  marketID,
			UserID:    model.BotUserID,
			Side:      q.side,
			Direction: q.dir,
			Quantity:  p.cfg.Quantity,
			Price:     p.clamp(q.price),
			Status:    model.OrderOpen,
			CreatedAt: at,
			IsBot:     true,
		})
	}
	return orders
}

// FillRemainder takes the other side of a taker's unmatched quantity at
// the taker's limit price. The bot order is born filled and never rests.
// Only the taker's leg of the returned trade is booked to a position.
func (p *Provider) FillRemainder(taker *model.Order, remainder int64, at time.Time) (model.Order, model.Trade) {
	botOrder := model.Order{
		ID:             p.newID(),
		MarketID:       taker.MarketID,
		UserID:         model.BotUserID,
		Side:           taker.Side,
		Direction:      taker.Direction.Opposite(),
		Quantity:       remainder,
		Price:          taker.Price,
		FilledQuantity: remainder,
		Status:         model.OrderFilled,
		CreatedAt:      at,
		FilledAt:       &at,
		IsBot:          true,
	}

	tr := model.Trade{
		ID:         p.newID(),
		MarketID:   taker.MarketID,
		Side:       taker.Side,
		Quantity:   remainder,
		Price:      taker.Price,
		Amount:     remainder * taker.Price,
		Kind:       model.KindBotFill,
		ExecutedAt: at,
	}
	if taker.Direction == model.Buy {
		tr.BuyerID, tr.BuyerOrderID = taker.UserID, taker.ID
		tr.SellerID, tr.SellerOrderID = model.BotUserID, botOrder.ID
	} else {
		tr.SellerID, tr.SellerOrderID = taker.UserID, taker.ID
		tr.BuyerID, tr.BuyerOrderID = model.BotUserID, botOrder.ID
	}
	return botOrder, tr
}

// NeedsReplenish reports whether any of the four queues is thinner than
// MinDepth.
func (p *Provider) NeedsReplenish(b *book.Book) bool {
	for _, side := range []model.Side{model.SideYes, model.SideNo} {
		for _, dir := range []model.Direction{model.Buy, model.Sell} {
			if b.Depth(side, dir) < p.cfg.MinDepth {
				return true
			}
		}
	}
	return false
}
