package book

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/leaguehub/predex/internal/model"
)

func genOrder(id int, side model.Side, dir model.Direction) *rapid.Generator[model.Order] {
	return rapid.Custom(func(t *rapid.T) model.Order {
		price := rapid.Int64Range(5, 95).Draw(t, "price")
		// Few distinct seconds so that time ties exercise the ID tiebreak.
		sec := rapid.IntRange(0, 10).Draw(t, "sec")
		qty := rapid.Int64Range(1, 50).Draw(t, "qty") * 10
		return order(fmt.Sprintf("o-%03d", id), "u", side, dir, qty,
			price, time.Date(2025, 1, 1, 0, 0, sec, 0, time.UTC))
	})
}

func TestProperty_QueueOrdering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dir := rapid.SampledFrom([]model.Direction{model.Buy, model.Sell}).Draw(t, "dir")
		n := rapid.IntRange(1, 40).Draw(t, "n")
		b := New("MKT001")
		for i := 0; i < n; i++ {
			b.Insert(genOrder(i, model.SideYes, dir).Draw(t, fmt.Sprintf("order-%d", i)))
		}

		var prev *model.Order
		count := 0
		b.Walk(model.SideYes, dir, func(o model.Order) bool {
			count++
			if prev != nil {
				better := o.Price < prev.Price
				if dir == model.Sell {
					better = o.Price > prev.Price
				}
				if o.Price != prev.Price && !better {
					t.Fatalf("%s queue out of price order: %d after %d", dir, o.Price, prev.Price)
				}
				if o.Price == prev.Price {
					if o.CreatedAt.Before(prev.CreatedAt) {
						t.Fatalf("same price %d: %v after %v", o.Price, o.CreatedAt, prev.CreatedAt)
					}
					if o.CreatedAt.Equal(prev.CreatedAt) && o.ID < prev.ID {
						t.Fatalf("same price and time: %s after %s", o.ID, prev.ID)
					}
				}
			}
			c := o
			prev = &c
			return true
		})
		if count != n {
			t.Fatalf("walked %d orders, inserted %d", count, n)
		}
	})
}

func TestProperty_FillsNeverExceedQuantity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := New("MKT001")
		o := genOrder(0, model.SideNo, model.Sell).Draw(t, "order")
		b.Insert(o)

		var filled int64
		for i := 0; i < 20; i++ {
			qty := rapid.Int64Range(1, 100).Draw(t, fmt.Sprintf("fill-%d", i))
			got, err := b.ReduceRemaining(o.ID, qty, time.Now())
			if filled+qty > o.Quantity {
				if err == nil {
					t.Fatalf("overfill accepted: filled %d + %d > %d", filled, qty, o.Quantity)
				}
				continue
			}
			if err != nil {
				t.Fatalf("valid fill rejected: %v", err)
			}
			filled += qty
			if got.FilledQuantity != filled {
				t.Fatalf("FilledQuantity = %d, want %d", got.FilledQuantity, filled)
			}
			if filled == o.Quantity {
				if got.Status != model.OrderFilled || b.Len() != 0 {
					t.Fatalf("fully filled order must leave the book")
				}
				return
			}
		}
	})
}
