// Package model defines the core domain types shared across the exchange.
// Prices are integer cents (5–95, a probability), quantities are whole
// shares and $1 buys one share. Money that leaves the core for display is
// converted with Dollars, never float64.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BotUserID is the synthetic liquidity provider's identity.
const BotUserID = "bot"

// ShareValue is what one winning share pays out, in cents.
const ShareValue = 100

// Side is the outcome a share represents.
type Side string

const (
	SideYes Side = "Yes"
	SideNo  Side = "No"
)

// ParseSide accepts "yes"/"no" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes":
		return SideYes, nil
	case "no":
		return SideNo, nil
	}
	return "", &ValidationError{Reason: fmt.Sprintf("side must be Yes or No, got %q", s)}
}

// Opposite returns the complementary outcome.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Direction is the intent of an order.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// ParseDirection accepts "buy"/"sell" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return "", &ValidationError{Reason: fmt.Sprintf("direction must be buy or sell, got %q", s)}
}

// Opposite returns the counter direction.
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// MarketStatus is the lifecycle state of a market. Resolved is terminal.
type MarketStatus string

const (
	MarketActive   MarketStatus = "active"
	MarketResolved MarketStatus = "resolved"
)

// OrderStatus is the state of an order. Filled and cancelled are terminal.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// TradeKind says how the two legs of a trade relate.
type TradeKind string

const (
	// KindTransfer moves shares of Side from seller to buyer at Price.
	KindTransfer TradeKind = "transfer"
	// KindMint pairs a buy of Side at Price with a buy of the opposite
	// outcome at 100-Price. SellerID holds the opposite-outcome leg.
	KindMint TradeKind = "mint"
	// KindBurn pairs a sell of Side at Price with a sell of the opposite
	// outcome at 100-Price. BuyerID holds the opposite-outcome leg.
	KindBurn TradeKind = "burn"
	// KindBotFill is a transfer against a synthetic order that never rested.
	KindBotFill TradeKind = "bot_fill"
)

// Market is one binary question. Markets are never deleted.
type Market struct {
	ID             string       `json:"id"`
	GuildID        string       `json:"guild_id"`
	ChannelID      string       `json:"channel_id"`
	Question       string       `json:"question"`
	CreatorID      string       `json:"creator_id"`
	CreatedAt      time.Time    `json:"created_at"`
	ResolutionWeek *int         `json:"resolution_week,omitempty"`
	ResolutionMode string       `json:"resolution_mode"`
	Status         MarketStatus `json:"status"`
	Result         *Side        `json:"result,omitempty"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty"`
	YesPrice       int64        `json:"yes_price"`
	TotalVolume    int64        `json:"total_volume"` // cents
}

// NoPrice is the implied price of the No outcome.
func (m *Market) NoPrice() int64 { return ShareValue - m.YesPrice }

// Order is a limit order. FilledQuantity never exceeds Quantity.
type Order struct {
	ID             string      `json:"id"`
	MarketID       string      `json:"market_id"`
	UserID         string      `json:"user_id"`
	Side           Side        `json:"side"`
	Direction      Direction   `json:"direction"`
	Quantity       int64       `json:"quantity"`
	Price          int64       `json:"price"`
	FilledQuantity int64       `json:"filled_quantity"`
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	FilledAt       *time.Time  `json:"filled_at,omitempty"`
	CancelledAt    *time.Time  `json:"cancelled_at,omitempty"`
	IsBot          bool        `json:"is_bot"`
}

// Remaining is the unfilled quantity.
func (o *Order) Remaining() int64 { return o.Quantity - o.FilledQuantity }

// Trade is an immutable execution record.
type Trade struct {
	ID            string    `json:"id"`
	MarketID      string    `json:"market_id"`
	BuyerID       string    `json:"buyer_id"`
	SellerID      string    `json:"seller_id"`
	Side          Side      `json:"side"`
	Quantity      int64     `json:"quantity"`
	Price         int64     `json:"price"`
	Amount        int64     `json:"amount"` // Quantity * Price, cents
	Kind          TradeKind `json:"kind"`
	BuyerOrderID  string    `json:"buyer_order_id,omitempty"`
	SellerOrderID string    `json:"seller_order_id,omitempty"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// Leg is one party's share of a trade as seen by the position ledger.
type Leg struct {
	UserID   string
	Side     Side
	Quantity int64
	Price    int64
	IsBuy    bool
}

// Legs splits a trade into the position change of each party.
func (t *Trade) Legs() [2]Leg {
	comp := ShareValue - t.Price
	switch t.Kind {
	case KindMint:
		return [2]Leg{
			{UserID: t.BuyerID, Side: t.Side, Quantity: t.Quantity, Price: t.Price, IsBuy: true},
			{UserID: t.SellerID, Side: t.Side.Opposite(), Quantity: t.Quantity, Price: comp, IsBuy: true},
		}
	case KindBurn:
		return [2]Leg{
			{UserID: t.SellerID, Side: t.Side, Quantity: t.Quantity, Price: t.Price, IsBuy: false},
			{UserID: t.BuyerID, Side: t.Side.Opposite(), Quantity: t.Quantity, Price: comp, IsBuy: false},
		}
	default:
		return [2]Leg{
			{UserID: t.BuyerID, Side: t.Side, Quantity: t.Quantity, Price: t.Price, IsBuy: true},
			{UserID: t.SellerID, Side: t.Side, Quantity: t.Quantity, Price: t.Price, IsBuy: false},
		}
	}
}

// YesPrice is the trade price expressed in Yes terms.
func (t *Trade) YesPrice() int64 {
	if t.Side == SideNo {
		return ShareValue - t.Price
	}
	return t.Price
}

// Position is one user's inventory in one market.
type Position struct {
	MarketID      string    `json:"market_id"`
	UserID        string    `json:"user_id"`
	YesShares     int64     `json:"yes_shares"`
	NoShares      int64     `json:"no_shares"`
	AvgYesPrice   int64     `json:"avg_yes_price"`
	AvgNoPrice    int64     `json:"avg_no_price"`
	TotalInvested int64     `json:"total_invested"` // cents, may be negative
	UpdatedAt     time.Time `json:"updated_at"`
}

// Shares returns the holding on one side.
func (p *Position) Shares(side Side) int64 {
	if side == SideYes {
		return p.YesShares
	}
	return p.NoShares
}

// Value marks the position to market at the given Yes price.
func (p *Position) Value(yesPrice int64) int64 {
	return p.YesShares*yesPrice + p.NoShares*(ShareValue-yesPrice)
}

// ProfitRecord is a user's lifetime settlement record. AddProfit treats it
// as a delta.
type ProfitRecord struct {
	UserID              string    `json:"user_id"`
	TotalProfit         int64     `json:"total_profit"`
	TotalVolume         int64     `json:"total_volume"`
	MarketsWon          int64     `json:"markets_won"`
	MarketsLost         int64     `json:"markets_lost"`
	MarketsParticipated int64     `json:"markets_participated"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// WinRate is won / participated as a percentage.
func (r *ProfitRecord) WinRate() decimal.Decimal {
	if r.MarketsParticipated == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(r.MarketsWon * 100).Div(decimal.NewFromInt(r.MarketsParticipated)).Round(1)
}

// HousePot is the singleton fee accumulator.
type HousePot struct {
	TotalFees   int64     `json:"total_fees"`
	LastUpdated time.Time `json:"last_updated"`
}

// Settlement is the payout record for one user in a resolved market.
type Settlement struct {
	MarketID      string    `json:"market_id"`
	UserID        string    `json:"user_id"`
	Result        Side      `json:"result"`
	WinningShares int64     `json:"winning_shares"`
	Payout        int64     `json:"payout"`
	Invested      int64     `json:"invested"`
	Profit        int64     `json:"profit"`
	Fee           int64     `json:"fee"`
	NetProfit     int64     `json:"net_profit"`
	SettledAt     time.Time `json:"settled_at"`
}

// Holding is a position marked to the market's current price.
type Holding struct {
	Position
	Question      string       `json:"question"`
	Status        MarketStatus `json:"status"`
	YesPrice      int64        `json:"yes_price"`
	CurrentValue  int64        `json:"current_value"`
	UnrealizedPnL int64        `json:"unrealized_pnl"`
}

// Portfolio aggregates a user's holdings, resting orders and record.
type Portfolio struct {
	UserID          string       `json:"user_id"`
	Holdings        []Holding    `json:"holdings"`
	OpenOrders      []Order      `json:"open_orders"`
	Lifetime        ProfitRecord `json:"lifetime"`
	TotalValue      int64        `json:"total_value"`
	TotalUnrealized int64        `json:"total_unrealized"`
}

// Event is pushed to live subscribers after a committed state change.
type Event struct {
	Type          string    `json:"type"`
	MarketID      string    `json:"market_id"`
	YesPrice      int64     `json:"yes_price,omitempty"`
	PreviousPrice int64     `json:"previous_price,omitempty"`
	Side          Side      `json:"side,omitempty"`
	Quantity      int64     `json:"quantity,omitempty"`
	Price         int64     `json:"price,omitempty"`
	Result        Side      `json:"result,omitempty"`
	Question      string    `json:"question,omitempty"`
	At            time.Time `json:"at"`
}

// Event types.
const (
	EventMarketCreated  = "market_created"
	EventTradeExecuted  = "trade_executed"
	EventBigMove        = "big_move"
	EventMarketResolved = "market_resolved"
)

// Dollars converts cents for display.
func Dollars(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
