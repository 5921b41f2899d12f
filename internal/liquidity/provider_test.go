package liquidity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leaguehub/predex/internal/book"
	"github.com/leaguehub/predex/internal/model"
)

var t0 = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

func TestSeedOrders_AroundFifty(t *testing.T) {
	p := NewProvider(DefaultConfig())
	orders := p.SeedOrders("MKT001", 50, t0)

	if len(orders) != 4 {
		t.Fatalf("got %d orders", len(orders))
	}
	want := map[[2]string]int64{
		{"Yes", "sell"}: 55,
		{"Yes", "buy"}:  45,
		{"No", "sell"}:  55,
		{"No", "buy"}:   45,
	}
	for _, o := range orders {
		key := [2]string{string(o.Side), string(o.Direction)}
		if o.Price != want[key] {
			t.Errorf("%v price = %d, want %d", key, o.Price, want[key])
		}
		if o.UserID != model.BotUserID || !o.IsBot || o.Quantity != 100 || o.Status != model.OrderOpen {
			t.Errorf("seed order = %+v", o)
		}
	}
}

func TestSeedOrders_ClampsAtBounds(t *testing.T) {
	p := NewProvider(DefaultConfig())
	orders := p.SeedOrders("MKT001", 93, t0)

	for _, o := range orders {
		if o.Price < 5 || o.Price > 95 {
			t.Errorf("%s %s price %d out of bounds", o.Side, o.Direction, o.Price)
		}
	}
	// Yes ask 98 clamps to 95; No bid 2 clamps to 5.
	if orders[0].Price != 95 || orders[3].Price != 5 {
		t.Errorf("clamped prices = %d, %d", orders[0].Price, orders[3].Price)
	}
}

func TestFillRemainder_BuyTaker(t *testing.T) {
	p := NewProvider(DefaultConfig())
	taker := &model.Order{ID: "o1", MarketID: "MKT001", UserID: "u1", Side: model.SideYes, Direction: model.Buy, Quantity: 20, Price: 55}

	bot, tr := p.FillRemainder(taker, 20, t0)

	if bot.Status != model.OrderFilled || bot.FilledQuantity != 20 || bot.Direction != model.Sell || bot.Price != 55 {
		t.Errorf("bot order = %+v", bot)
	}
	if tr.BuyerID != "u1" || tr.SellerID != model.BotUserID || tr.Amount != 1100 || tr.Kind != model.KindBotFill {
		t.Errorf("trade = %+v", tr)
	}
	if tr.SellerOrderID != bot.ID || tr.BuyerOrderID != "o1" {
		t.Errorf("order refs = %s / %s", tr.BuyerOrderID, tr.SellerOrderID)
	}
}

func TestFillRemainder_SellTaker(t *testing.T) {
	p := NewProvider(DefaultConfig())
	taker := &model.Order{ID: "o1", MarketID: "MKT001", UserID: "u1", Side: model.SideNo, Direction: model.Sell, Quantity: 30, Price: 40}

	bot, tr := p.FillRemainder(taker, 10, t0)

	if bot.Direction != model.Buy || bot.Quantity != 10 {
		t.Errorf("bot order = %+v", bot)
	}
	if tr.SellerID != "u1" || tr.BuyerID != model.BotUserID || tr.Quantity != 10 {
		t.Errorf("trade = %+v", tr)
	}
}

func TestNeedsReplenish(t *testing.T) {
	p := NewProvider(DefaultConfig())
	b := book.New("MKT001")
	if !p.NeedsReplenish(b) {
		t.Fatal("empty book needs liquidity")
	}

	for i := 0; i < 2; i++ {
		for _, o := range p.SeedOrders("MKT001", 50, t0.Add(time.Duration(i)*time.Second)) {
			b.Insert(o)
		}
	}
	if p.NeedsReplenish(b) {
		t.Fatal("two orders per queue is deep enough")
	}

	top, _ := b.TopOfBook(model.SideNo, model.Buy)
	b.Cancel(top.ID)
	if !p.NeedsReplenish(b) {
		t.Fatal("one thin queue should trigger a reseed")
	}
}

type fakeReplenisher struct {
	mu     sync.Mutex
	ids    []string
	seen   []string
	failOn string
}

func (f *fakeReplenisher) ActiveMarketIDs(context.Context) ([]string, error) {
	return f.ids, nil
}

func (f *fakeReplenisher) Replenish(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	f.seen = append(f.seen, id)
	f.mu.Unlock()
	if id == f.failOn {
		return false, errors.New("boom")
	}
	return id != "MKT002", nil
}

func TestScheduler_RunCycle(t *testing.T) {
	f := &fakeReplenisher{ids: []string{"MKT001", "MKT002", "MKT003", "MKT004"}, failOn: "MKT003"}
	s := NewScheduler(f, time.Hour, 2)

	n, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// MKT002 was deep enough and MKT003 failed.
	if n != 2 {
		t.Errorf("reseeded = %d, want 2", n)
	}
	if len(f.seen) != 4 {
		t.Errorf("visited %v", f.seen)
	}
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	s := NewScheduler(&fakeReplenisher{}, time.Millisecond, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
