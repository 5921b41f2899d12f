package ledger

import (
	"context"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/leaguehub/predex/internal/model"
)

func buy(side model.Side, qty, price int64) model.Leg {
	return model.Leg{UserID: "u1", Side: side, Quantity: qty, Price: price, IsBuy: true}
}

func sell(side model.Side, qty, price int64) model.Leg {
	return model.Leg{UserID: "u1", Side: side, Quantity: qty, Price: price}
}

func TestApply_FirstBuy(t *testing.T) {
	p := Apply(model.Position{}, buy(model.SideYes, 20, 55))

	if p.YesShares != 20 || p.AvgYesPrice != 55 || p.TotalInvested != 1100 {
		t.Fatalf("position = %+v", p)
	}
	if p.NoShares != 0 || p.AvgNoPrice != 0 {
		t.Errorf("No side touched: %+v", p)
	}
}

func TestApply_AverageTruncates(t *testing.T) {
	p := Apply(model.Position{}, buy(model.SideNo, 10, 40))
	p = Apply(p, buy(model.SideNo, 20, 45))

	// (10*40 + 20*45) / 30 = 43.33
	if p.AvgNoPrice != 43 {
		t.Errorf("AvgNoPrice = %d, want 43", p.AvgNoPrice)
	}
	if p.NoShares != 30 || p.TotalInvested != 1300 {
		t.Errorf("position = %+v", p)
	}
}

func TestApply_SellKeepsAverage(t *testing.T) {
	p := Apply(model.Position{}, buy(model.SideYes, 30, 50))
	p = Apply(p, sell(model.SideYes, 10, 70))

	if p.YesShares != 20 || p.AvgYesPrice != 50 {
		t.Errorf("position = %+v", p)
	}
	if p.TotalInvested != 1500-700 {
		t.Errorf("TotalInvested = %d", p.TotalInvested)
	}
}

func TestApply_SellBelowZeroClampsShares(t *testing.T) {
	p := Apply(model.Position{}, sell(model.SideYes, 100, 55))

	if p.YesShares != 0 {
		t.Errorf("YesShares = %d", p.YesShares)
	}
	if p.TotalInvested != -5500 {
		t.Errorf("TotalInvested = %d, want -5500", p.TotalInvested)
	}
}

type memPositions map[string]model.Position

func (m memPositions) GetPosition(_ context.Context, marketID, userID string) (*model.Position, error) {
	p := m[marketID+"/"+userID]
	return &p, nil
}

func (m memPositions) SavePosition(_ context.Context, p *model.Position) error {
	m[p.MarketID+"/"+p.UserID] = *p
	return nil
}

func TestApplyFill_PersistsPosition(t *testing.T) {
	ps := memPositions{}
	at := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	if _, err := ApplyFill(ctx, ps, "MKT001", buy(model.SideYes, 20, 55), at); err != nil {
		t.Fatal(err)
	}
	got, err := ApplyFill(ctx, ps, "MKT001", buy(model.SideYes, 10, 40), at)
	if err != nil {
		t.Fatal(err)
	}
	if got.YesShares != 30 || got.AvgYesPrice != 50 || got.TotalInvested != 1500 {
		t.Errorf("position = %+v", got)
	}
	if got.MarketID != "MKT001" || got.UserID != "u1" || !got.UpdatedAt.Equal(at) {
		t.Errorf("keys not set: %+v", got)
	}
	if ps["MKT001/u1"].YesShares != 30 {
		t.Error("position not saved")
	}
}

func TestProperty_SharesNeverNegative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := model.Position{}
		var bought, sold int64
		n := rapid.IntRange(1, 50).Draw(t, "n")
		for i := 0; i < n; i++ {
			leg := model.Leg{
				UserID:   "u1",
				Side:     rapid.SampledFrom([]model.Side{model.SideYes, model.SideNo}).Draw(t, "side"),
				Quantity: rapid.Int64Range(1, 50).Draw(t, "qty") * 10,
				Price:    rapid.Int64Range(5, 95).Draw(t, "price"),
				IsBuy:    rapid.Bool().Draw(t, "buy"),
			}
			p = Apply(p, leg)
			if leg.IsBuy {
				bought += leg.Quantity * leg.Price
			} else {
				sold += leg.Quantity * leg.Price
			}
			if p.YesShares < 0 || p.NoShares < 0 {
				t.Fatalf("negative shares: %+v", p)
			}
			if p.TotalInvested != bought-sold {
				t.Fatalf("invested %d != buys %d - sells %d", p.TotalInvested, bought, sold)
			}
		}
	})
}
