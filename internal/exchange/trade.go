package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leaguehub/predex/internal/book"
	"github.com/leaguehub/predex/internal/ledger"
	"github.com/leaguehub/predex/internal/matching"
	"github.com/leaguehub/predex/internal/metrics"
	"github.com/leaguehub/predex/internal/model"
	"github.com/leaguehub/predex/internal/store"
)

// TradeRequest is an order from a user. Amount is in dollars, which is
// also the share count.
type TradeRequest struct {
	MarketID  string          `json:"market_id"`
	UserID    string          `json:"user_id"`
	Side      model.Side      `json:"side"`
	Direction model.Direction `json:"direction"`
	Amount    int64           `json:"amount"`
	Price     int64           `json:"price"` // limit, cents
}

// TradeResult reports what an order did.
type TradeResult struct {
	Order         model.Order    `json:"order"`
	Trades        []model.Trade  `json:"trades"`
	Filled        int64          `json:"filled"`
	BotFilled     int64          `json:"bot_filled"`
	Resting       int64          `json:"resting"`
	AvgPrice      int64          `json:"avg_price"`
	Cost          int64          `json:"cost"` // cents
	Position      model.Position `json:"position"`
	YesPrice      int64          `json:"yes_price"`
	PreviousPrice int64          `json:"previous_price"`
}

// PlaceTrade executes an order that always fills completely: it crosses
// the book first and the liquidity bot takes whatever is left at the
// order's limit price.
func (s *Service) PlaceTrade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	return s.execute(ctx, req, true)
}

// PostOrder crosses the book like PlaceTrade, but any unmatched quantity
// rests as a limit order instead of being filled by the bot.
func (s *Service) PostOrder(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	return s.execute(ctx, req, false)
}

func (s *Service) execute(ctx context.Context, req TradeRequest, botFill bool) (*TradeResult, error) {
	start := time.Now()
	req, err := s.checkRequest(req)
	if err != nil {
		return nil, reject(err)
	}

	unlock := s.locks.lock(req.MarketID)
	defer unlock()

	var res *TradeResult
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		m, err := tx.LockMarket(ctx, req.MarketID)
		if err != nil {
			return err
		}
		if err := s.limits.CheckMarket(m); err != nil {
			return err
		}
		b, err := s.books.Load(ctx, tx, m.ID)
		if err != nil {
			return err
		}
		pos, err := tx.GetPosition(ctx, m.ID, req.UserID)
		if err != nil {
			return err
		}
		pending := b.Pending(req.UserID, req.Side, req.Direction)
		if err := s.limits.CheckPosition(req.Direction, req.Side, pos.Shares(req.Side), pending, req.Amount); err != nil {
			return err
		}

		res, err = s.fill(ctx, tx, b, m, req, botFill)
		return err
	})
	if err != nil {
		s.books.Invalidate(req.MarketID)
		return nil, reject(err)
	}

	metrics.TradeLatency.WithLabelValues(string(req.Direction)).Observe(time.Since(start).Seconds())
	s.announce(req, res)
	return res, nil
}

// checkRequest validates req and returns it with side and direction
// normalized.
func (s *Service) checkRequest(req TradeRequest) (TradeRequest, error) {
	switch {
	case req.UserID == "":
		return req, model.Rejected("user is required")
	case req.UserID == model.BotUserID:
		return req, fmt.Errorf("user id %q is reserved: %w", req.UserID, model.ErrForbidden)
	case req.MarketID == "":
		return req, model.Rejected("market is required")
	}
	var err error
	if req.Side, err = model.ParseSide(string(req.Side)); err != nil {
		return req, err
	}
	if req.Direction, err = model.ParseDirection(string(req.Direction)); err != nil {
		return req, err
	}
	return req, s.limits.ValidateTrade(req.Amount, req.Price)
}

// fill records the taker order, applies every planned fill, bot-fills or
// rests the remainder and updates the market's volume and price. It runs
// inside the market's transaction.
func (s *Service) fill(ctx context.Context, tx store.Tx, b *book.Book, m *model.Market, req TradeRequest, botFill bool) (*TradeResult, error) {
	now := s.now()
	order := model.Order{
		ID:        s.newID(),
		MarketID:  m.ID,
		UserID:    req.UserID,
		Side:      req.Side,
		Direction: req.Direction,
		Quantity:  req.Amount,
		Price:     req.Price,
		Status:    model.OrderOpen,
		CreatedAt: now,
	}
	if err := tx.InsertOrder(ctx, &order); err != nil {
		return nil, err
	}

	in := matching.Incoming{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Side:      order.Side,
		Direction: order.Direction,
		Quantity:  order.Quantity,
		Limit:     order.Price,
	}
	plan := matching.Match(b, in)

	res := &TradeResult{PreviousPrice: m.YesPrice}
	var volume int64
	for _, f := range plan.Fills {
		tr := matching.Trade(m.ID, in, f, s.newID(), now)
		if err := tx.FillOrder(ctx, f.Maker.ID, f.Quantity, now); err != nil {
			return nil, err
		}
		if err := tx.InsertTrade(ctx, &tr); err != nil {
			return nil, err
		}
		for _, leg := range tr.Legs() {
			if _, err := ledger.ApplyFill(ctx, tx, m.ID, leg, now); err != nil {
				return nil, err
			}
		}
		if _, err := b.ReduceRemaining(f.Maker.ID, f.Quantity, now); err != nil {
			return nil, err
		}
		res.Trades = append(res.Trades, tr)
		volume += tr.Amount
	}
	res.Filled = plan.Filled
	res.Cost = plan.Cost

	if plan.Remaining > 0 && botFill {
		botOrder, tr := s.provider.FillRemainder(&order, plan.Remaining, now)
		if err := tx.InsertOrder(ctx, &botOrder); err != nil {
			return nil, err
		}
		if err := tx.InsertTrade(ctx, &tr); err != nil {
			return nil, err
		}
		// Only the taker's leg is booked; the bot's inventory is synthetic.
		for _, leg := range tr.Legs() {
			if leg.UserID != order.UserID {
				continue
			}
			if _, err := ledger.ApplyFill(ctx, tx, m.ID, leg, now); err != nil {
				return nil, err
			}
		}
		res.Trades = append(res.Trades, tr)
		res.BotFilled = plan.Remaining
		res.Filled += plan.Remaining
		res.Cost += tr.Amount
		volume += tr.Amount
	}

	if res.Filled > 0 {
		if err := tx.FillOrder(ctx, order.ID, res.Filled, now); err != nil {
			return nil, err
		}
		order.FilledQuantity = res.Filled
		if order.FilledQuantity == order.Quantity {
			order.Status = model.OrderFilled
			order.FilledAt = &now
		}
	}
	if order.Remaining() > 0 {
		b.Insert(order)
		res.Resting = order.Remaining()
	}
	res.Order = order
	if res.Filled > 0 {
		res.AvgPrice = res.Cost / res.Filled
	}

	res.YesPrice = m.YesPrice
	if len(res.Trades) > 0 {
		price, err := s.recentPrice(ctx, tx, m.ID, m.YesPrice)
		if err != nil {
			return nil, err
		}
		if err := tx.UpdateMarketTrading(ctx, m.ID, volume, price); err != nil {
			return nil, err
		}
		res.YesPrice = price
	}

	pos, err := tx.GetPosition(ctx, m.ID, order.UserID)
	if err != nil {
		return nil, err
	}
	res.Position = *pos
	return res, nil
}

// announce logs, counts and publishes a committed order.
func (s *Service) announce(req TradeRequest, res *TradeResult) {
	for _, tr := range res.Trades {
		metrics.TradesTotal.WithLabelValues(string(tr.Side), string(tr.Kind)).Inc()
	}
	if res.BotFilled > 0 {
		metrics.BotFilledShares.Add(float64(res.BotFilled))
	}
	slog.Info("order executed",
		"market", req.MarketID,
		"user", req.UserID,
		"side", req.Side,
		"direction", req.Direction,
		"quantity", req.Amount,
		"limit", req.Price,
		"filled", res.Filled,
		"bot_filled", res.BotFilled,
		"resting", res.Resting,
		"avg_price", res.AvgPrice,
		"yes_price", res.YesPrice,
	)

	if res.Filled == 0 {
		return
	}
	at := res.Trades[len(res.Trades)-1].ExecutedAt
	s.pub.Publish(model.Event{
		Type:          model.EventTradeExecuted,
		MarketID:      req.MarketID,
		YesPrice:      res.YesPrice,
		PreviousPrice: res.PreviousPrice,
		Side:          req.Side,
		Quantity:      res.Filled,
		Price:         res.AvgPrice,
		At:            at,
	})
	if s.isBigMove(res.PreviousPrice, res.YesPrice) {
		slog.Info("big price move", "market", req.MarketID, "from", res.PreviousPrice, "to", res.YesPrice)
		s.pub.Publish(model.Event{
			Type:          model.EventBigMove,
			MarketID:      req.MarketID,
			YesPrice:      res.YesPrice,
			PreviousPrice: res.PreviousPrice,
			At:            at,
		})
	}
}

// CancelOrder cancels one of the user's resting orders.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	if userID == model.BotUserID {
		return nil, reject(fmt.Errorf("user id %q is reserved: %w", userID, model.ErrForbidden))
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, reject(err)
	}

	unlock := s.locks.lock(o.MarketID)
	defer unlock()

	var cancelled model.Order
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		// Re-read under the lock; a trade may have filled it meanwhile.
		cur, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if cur.UserID != userID {
			return fmt.Errorf("order %s belongs to another user: %w", orderID, model.ErrForbidden)
		}
		if cur.Status != model.OrderOpen {
			return fmt.Errorf("order %s is %s: %w", orderID, cur.Status, model.ErrAlreadySettled)
		}
		now := s.now()
		if err := tx.CancelOrder(ctx, orderID, now); err != nil {
			return err
		}
		b, err := s.books.Load(ctx, tx, cur.MarketID)
		if err != nil {
			return err
		}
		// A freshly loaded book already excludes the cancelled order.
		if _, ok := b.Get(orderID); ok {
			if _, err := b.Cancel(orderID); err != nil {
				return err
			}
		}
		cancelled = *cur
		cancelled.Status = model.OrderCancelled
		cancelled.CancelledAt = &now
		return nil
	})
	if err != nil {
		s.books.Invalidate(o.MarketID)
		return nil, reject(err)
	}

	slog.Info("order cancelled", "market", cancelled.MarketID, "order", orderID, "user", userID,
		"remaining", cancelled.Remaining())
	return &cancelled, nil
}
