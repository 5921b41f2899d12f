// Package matching crosses an incoming order against a market's book.
//
// A binary market has two linked books: a Yes buy at p is economically a
// No sell at 100-p. An incoming buy of one outcome therefore matches both
// the same-outcome sells and the opposite-outcome buys whose complement is
// within its limit; an incoming sell matches same-outcome buys and
// opposite-outcome sells. Candidates from both queues are taken best
// effective price first, then oldest first. Orders owned by the incoming
// user are skipped, never cancelled.
//
// Match only plans fills; the caller applies them to the book and store
// inside the market's transaction.
package matching

import (
	"slices"
	"strings"
	"time"

	"github.com/leaguehub/predex/internal/book"
	"github.com/leaguehub/predex/internal/model"
)

// Incoming is the order being matched.
type Incoming struct {
	OrderID   string
	UserID    string
	Side      model.Side
	Direction model.Direction
	Quantity  int64
	Limit     int64
}

// Fill is one planned execution against a resting order.
type Fill struct {
	Maker    model.Order
	Quantity int64
	Price    int64 // in the incoming order's outcome
	Kind     model.TradeKind
}

// Result is the outcome of a matching pass.
type Result struct {
	Fills     []Fill
	Filled    int64
	Cost      int64 // sum of Quantity*Price
	Remaining int64
}

// AvgPrice is the volume-weighted fill price, truncated.
func (r *Result) AvgPrice() int64 {
	if r.Filled == 0 {
		return 0
	}
	return r.Cost / r.Filled
}

type candidate struct {
	order model.Order
	price int64
	kind  model.TradeKind
}

// Match plans the fills for in against b without mutating the book.
func Match(b *book.Book, in Incoming) Result {
	cands := candidates(b, in)

	res := Result{Remaining: in.Quantity}
	for _, c := range cands {
		if res.Remaining == 0 {
			break
		}
		if c.order.UserID == in.UserID {
			continue
		}
		qty := min(res.Remaining, c.order.Remaining())
		res.Fills = append(res.Fills, Fill{Maker: c.order, Quantity: qty, Price: c.price, Kind: c.kind})
		res.Filled += qty
		res.Cost += qty * c.price
		res.Remaining -= qty
	}
	return res
}

func candidates(b *book.Book, in Incoming) []candidate {
	var cands []candidate
	opp := in.Side.Opposite()

	if in.Direction == model.Buy {
		b.Walk(in.Side, model.Sell, func(o model.Order) bool {
			if o.Price > in.Limit {
				return false
			}
			cands = append(cands, candidate{order: o, price: o.Price, kind: model.KindTransfer})
			return true
		})
		b.Walk(opp, model.Buy, func(o model.Order) bool {
			eff := model.ShareValue - o.Price
			if eff > in.Limit {
				return false
			}
			cands = append(cands, candidate{order: o, price: eff, kind: model.KindMint})
			return true
		})
	} else {
		b.Walk(in.Side, model.Buy, func(o model.Order) bool {
			if o.Price < in.Limit {
				return false
			}
			cands = append(cands, candidate{order: o, price: o.Price, kind: model.KindTransfer})
			return true
		})
		b.Walk(opp, model.Sell, func(o model.Order) bool {
			eff := model.ShareValue - o.Price
			if eff < in.Limit {
				return false
			}
			cands = append(cands, candidate{order: o, price: eff, kind: model.KindBurn})
			return true
		})
	}

	buying := in.Direction == model.Buy
	slices.SortStableFunc(cands, func(x, y candidate) int {
		if x.price != y.price {
			if (x.price < y.price) == buying {
				return -1
			}
			return 1
		}
		if c := x.order.CreatedAt.Compare(y.order.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(x.order.ID, y.order.ID)
	})
	return cands
}

// Trade builds the trade record for a fill. The incoming order's user is
// the buyer of Side for buys and the seller for sells; for mint and burn
// fills the maker takes the opposite-outcome leg.
func Trade(marketID string, in Incoming, f Fill, id string, at time.Time) model.Trade {
	t := model.Trade{
		ID:         id,
		MarketID:   marketID,
		Side:       in.Side,
		Quantity:   f.Quantity,
		Price:      f.Price,
		Amount:     f.Quantity * f.Price,
		Kind:       f.Kind,
		ExecutedAt: at,
	}
	if in.Direction == model.Buy {
		t.BuyerID, t.BuyerOrderID = in.UserID, in.OrderID
		t.SellerID, t.SellerOrderID = f.Maker.UserID, f.Maker.ID
	} else {
		t.SellerID, t.SellerOrderID = in.UserID, in.OrderID
		t.BuyerID, t.BuyerOrderID = f.Maker.UserID, f.Maker.ID
	}
	return t
}
