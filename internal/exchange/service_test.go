package exchange_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/leaguehub/predex/internal/exchange"
	"github.com/leaguehub/predex/internal/model"
	"github.com/leaguehub/predex/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(ev model.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) ofType(typ string) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// newTestEnv creates a Service over an in-memory store with cached books.
func newTestEnv(t *testing.T) (*exchange.Service, store.Store, *recorder) {
	t.Helper()
	return newTestEnvWith(t, store.NewMemoryStore(), true)
}

func newTestEnvWith(t *testing.T, st store.Store, cache bool) (*exchange.Service, store.Store, *recorder) {
	t.Helper()
	rec := &recorder{}
	svc := exchange.NewService(st, exchange.Options{Publisher: rec, CacheBooks: cache})
	return svc, st, rec
}

// seedMarket creates a market directly in the store, without bot quotes.
func seedMarket(t *testing.T, st store.Store, id string, yesPrice int64) {
	t.Helper()
	err := st.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateMarket(context.Background(), &model.Market{
			ID:             id,
			GuildID:        "g1",
			Question:       "Will the Bears make the playoffs?",
			CreatorID:      "admin",
			CreatedAt:      time.Now().UTC(),
			ResolutionMode: "manual",
			Status:         model.MarketActive,
			YesPrice:       yesPrice,
		})
	})
	if err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
}

func buy(market, user string, side model.Side, amount, price int64) exchange.TradeRequest {
	return exchange.TradeRequest{MarketID: market, UserID: user, Side: side, Direction: model.Buy, Amount: amount, Price: price}
}

func sell(market, user string, side model.Side, amount, price int64) exchange.TradeRequest {
	return exchange.TradeRequest{MarketID: market, UserID: user, Side: side, Direction: model.Sell, Amount: amount, Price: price}
}

func mustTrade(t *testing.T, svc *exchange.Service, req exchange.TradeRequest) *exchange.TradeResult {
	t.Helper()
	res, err := svc.PlaceTrade(context.Background(), req)
	if err != nil {
		t.Fatalf("PlaceTrade(%+v): %v", req, err)
	}
	return res
}

func assertVolumeInvariant(t *testing.T, st store.Store, marketID string) {
	t.Helper()
	ctx := context.Background()
	m, err := st.GetMarket(ctx, marketID)
	if err != nil {
		t.Fatal(err)
	}
	trades, err := st.MarketTrades(ctx, marketID, 0)
	if err != nil {
		t.Fatal(err)
	}
	var sum int64
	for _, tr := range trades {
		sum += tr.Amount
	}
	if m.TotalVolume != sum {
		t.Errorf("total volume = %d, sum of trade amounts = %d", m.TotalVolume, sum)
	}
}

func TestCreateMarket_SeedsQuotesAroundPrice(t *testing.T) {
	svc, _, rec := newTestEnv(t)
	ctx := context.Background()

	m, err := svc.CreateMarket(ctx, exchange.CreateMarketRequest{GuildID: "g1", Question: "Will it rain?", CreatorID: "admin"})
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != "MKT001" || m.YesPrice != 50 || m.Status != model.MarketActive {
		t.Fatalf("market = %+v", m)
	}

	snap, err := svc.Book(ctx, m.ID, 5)
	if err != nil {
		t.Fatal(err)
	}
	checks := []struct {
		name   string
		levels int
		price  int64
		qty    int64
	}{
		{"yes bids", len(snap.YesBids), snap.YesBids[0].Price, snap.YesBids[0].Quantity},
		{"yes asks", len(snap.YesAsks), snap.YesAsks[0].Price, snap.YesAsks[0].Quantity},
		{"no bids", len(snap.NoBids), snap.NoBids[0].Price, snap.NoBids[0].Quantity},
		{"no asks", len(snap.NoAsks), snap.NoAsks[0].Price, snap.NoAsks[0].Quantity},
	}
	wantPrice := map[string]int64{"yes bids": 45, "yes asks": 55, "no bids": 45, "no asks": 55}
	for _, c := range checks {
		if c.levels != 1 || c.price != wantPrice[c.name] || c.qty != 100 {
			t.Errorf("%s: levels=%d price=%d qty=%d", c.name, c.levels, c.price, c.qty)
		}
	}

	m2, err := svc.CreateMarket(ctx, exchange.CreateMarketRequest{GuildID: "g1", Question: "Second?", CreatorID: "admin", InitialPrice: 99})
	if err != nil {
		t.Fatal(err)
	}
	if m2.ID != "MKT002" || m2.YesPrice != 95 {
		t.Errorf("second market = %s @ %d, want MKT002 @ 95 (clamped)", m2.ID, m2.YesPrice)
	}
	if n := len(rec.ofType(model.EventMarketCreated)); n != 2 {
		t.Errorf("market_created events = %d", n)
	}
}

func TestCreateMarket_Validation(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	_, err := svc.CreateMarket(context.Background(), exchange.CreateMarketRequest{GuildID: "g1", Question: "   ", CreatorID: "admin"})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestPlaceTrade_EmptyBookIsBotFilled(t *testing.T) {
	svc, st, _ := newTestEnv(t)
	seedMarket(t, st, "MKT001", 50)

	res := mustTrade(t, svc, buy("MKT001", "alice", model.SideYes, 20, 55))

	if res.Filled != 20 || res.BotFilled != 20 || res.AvgPrice != 55 || res.Cost != 1100 {
		t.Errorf("result = filled %d bot %d avg %d cost %d", res.Filled, res.BotFilled, res.AvgPrice, res.Cost)
	}
	if len(res.Trades) != 1 || res.Trades[0].SellerID != model.BotUserID || res.Trades[0].Kind != model.KindBotFill {
		t.Fatalf("trades = %+v", res.Trades)
	}
	if res.Order.Status != model.OrderFilled {
		t.Errorf("order status = %s", res.Order.Status)
	}
	p := res.Position
	if p.YesShares != 20 || p.AvgYesPrice != 55 || p.TotalInvested != 1100 {
		t.Errorf("position = %+v, want yes=20 avg=55 invested=1100", p)
	}

	m, _ := st.GetMarket(context.Background(), "MKT001")
	if m.TotalVolume != 1100 || m.YesPrice != 55 {
		t.Errorf("market volume %d price %d", m.TotalVolume, m.YesPrice)
	}
	bot, _ := st.GetPosition(context.Background(), "MKT001", model.BotUserID)
	if bot.YesShares != 0 || bot.TotalInvested != 0 {
		t.Errorf("bot fill must not touch the bot's position: %+v", bot)
	}
}

func TestPlaceTrade_FillsAgainstSeedQuotes(t *testing.T) {
	svc, st, _ := newTestEnv(t)
	m, err := svc.CreateMarket(context.Background(), exchange.CreateMarketRequest{GuildID: "g1", Question: "Q?", CreatorID: "admin"})
	if err != nil {
		t.Fatal(err)
	}

	res := mustTrade(t, svc, buy(m.ID, "alice", model.SideYes, 20, 55))

	if res.Filled != 20 || res.BotFilled != 0 || res.AvgPrice != 55 {
		t.Errorf("result = filled %d bot %d avg %d", res.Filled, res.BotFilled, res.AvgPrice)
	}
	for _, tr := range res.Trades {
		if tr.SellerID != model.BotUserID {
			t.Errorf("counterparty = %s, want the bot's resting quote", tr.SellerID)
		}
	}
	if res.Position.YesShares != 20 || res.Position.TotalInvested != 1100 {
		t.Errorf("position = %+v", res.Position)
	}
	assertVolumeInvariant(t, st, m.ID)
}

func TestPlaceTrade_CrossingUsersMatchEachOther(t *testing.T) {
	for _, tc := range []struct {
		name  string
		newSt func(t *testing.T) store.Store
		cache bool
	}{
		{"memory/cached", func(t *testing.T) store.Store { return store.NewMemoryStore() }, true},
		{"sqlite/uncached", func(t *testing.T) store.Store {
			st, err := store.NewSQLiteStore(context.Background(), ":memory:")
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { st.Close() })
			return st
		}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			svc, st, _ := newTestEnvWith(t, tc.newSt(t), tc.cache)
			seedMarket(t, st, "MKT001", 50)

			posted, err := svc.PostOrder(ctx, buy("MKT001", "bob", model.SideNo, 50, 45))
			if err != nil {
				t.Fatal(err)
			}
			if posted.Filled != 0 || posted.Resting != 50 {
				t.Fatalf("posted = filled %d resting %d", posted.Filled, posted.Resting)
			}

			res := mustTrade(t, svc, buy("MKT001", "alice", model.SideYes, 60, 60))

			if len(res.Trades) != 2 {
				t.Fatalf("trades = %+v", res.Trades)
			}
			direct := res.Trades[0]
			if direct.Kind != model.KindMint || direct.BuyerID != "alice" || direct.SellerID != "bob" ||
				direct.Quantity != 50 || direct.Price != 55 {
				t.Errorf("direct match = %+v, want mint alice/bob 50 @ 55", direct)
			}
			if res.Trades[1].Kind != model.KindBotFill || res.Trades[1].Quantity != 10 || res.Trades[1].Price != 60 {
				t.Errorf("remainder = %+v, want bot fill 10 @ 60", res.Trades[1])
			}

			alice, _ := st.GetPosition(ctx, "MKT001", "alice")
			if alice.YesShares != 60 || alice.TotalInvested != 3350 || alice.AvgYesPrice != 55 {
				t.Errorf("alice = %+v", alice)
			}
			bob, _ := st.GetPosition(ctx, "MKT001", "bob")
			if bob.NoShares != 50 || bob.AvgNoPrice != 45 || bob.TotalInvested != 2250 {
				t.Errorf("bob = %+v", bob)
			}
			bobOrder, _ := st.GetOrder(ctx, posted.Order.ID)
			if bobOrder.Status != model.OrderFilled || bobOrder.FilledQuantity != 50 {
				t.Errorf("bob's order = %+v", bobOrder)
			}
			assertVolumeInvariant(t, st, "MKT001")
		})
	}
}

func TestPlaceTrade_RejectsBadIncrement(t *testing.T) {
	svc, st, _ := newTestEnv(t)
	seedMarket(t, st, "MKT001", 50)

	_, err := svc.PlaceTrade(context.Background(), buy("MKT001", "alice", model.SideYes, 15, 50))
	var ve *model.ValidationError
	if !errors.As(err, &ve) || ve.Reason != "not a $10 increment" {
		t.Fatalf("err = %v, want not a $10 increment", err)
	}
	if o, _ := st.UserOpenOrders(context.Background(), "alice"); len(o) != 0 {
		t.Errorf("rejected trade left orders: %+v", o)
	}
}

func TestPlaceTrade_Limits(t *testing.T) {
	tests := []struct {
		name string
		prep []exchange.TradeRequest
		req  exchange.TradeRequest
		want string
	}{
		{
			name: "sell without shares",
			req:  sell("MKT001", "alice", model.SideYes, 10, 50),
			want: "insufficient shares: you have 0 Yes shares available",
		},
		{
			name: "cap counts owned shares",
			prep: []exchange.TradeRequest{buy("MKT001", "alice", model.SideNo, 500, 50)},
			req:  buy("MKT001", "alice", model.SideNo, 10, 50),
			want: "volume cap exceeded: max 500 shares per side per market (you have 500 No shares)",
		},
		{
			name: "price out of range",
			req:  buy("MKT001", "alice", model.SideYes, 10, 96),
			want: "price must be between 5¢ and 95¢",
		},
		{
			name: "minimum",
			req:  buy("MKT001", "alice", model.SideYes, 0, 50),
			want: "minimum trade is $10",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st, _ := newTestEnv(t)
			seedMarket(t, st, "MKT001", 50)
			for _, p := range tt.prep {
				mustTrade(t, svc, p)
			}
			_, err := svc.PlaceTrade(context.Background(), tt.req)
			var ve *model.ValidationError
			if !errors.As(err, &ve) || ve.Reason != tt.want {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestPlaceTrade_SellAfterBuy(t *testing.T) {
	svc, st, _ := newTestEnv(t)
	seedMarket(t, st, "MKT001", 50)
	mustTrade(t, svc, buy("MKT001", "alice", model.SideYes, 30, 50))

	res := mustTrade(t, svc, sell("MKT001", "alice", model.SideYes, 20, 60))
	if res.Position.YesShares != 10 || res.Position.TotalInvested != 1500-1200 {
		t.Errorf("position = %+v", res.Position)
	}
	if res.Trades[0].BuyerID != model.BotUserID || res.Trades[0].SellerID != "alice" {
		t.Errorf("trade = %+v", res.Trades[0])
	}
	assertVolumeInvariant(t, st, "MKT001")
}

func TestPlaceTrade_MarketState(t *testing.T) {
	svc, st, _ := newTestEnv(t)
	ctx := context.Background()

	_, err := svc.PlaceTrade(ctx, buy("MKT404", "alice", model.SideYes, 10, 50))
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown market: err = %v", err)
	}

	seedMarket(t, st, "MKT001", 50)
	if _, err := svc.Resolve(ctx, "MKT001", model.SideNo); err != nil {
		t.Fatal(err)
	}
	_, err = svc.PlaceTrade(ctx, buy("MKT001", "alice", model.SideYes, 10, 50))
	if !errors.Is(err, model.ErrAlreadySettled) {
		t.Errorf("resolved market: err = %v", err)
	}

	_, err = svc.PlaceTrade(ctx, buy("MKT001", model.BotUserID, model.SideYes, 10, 50))
	if !errors.Is(err, model.ErrForbidden) {
		t.Errorf("bot identity: err = %v", err)
	}
}

func TestPostOrder_PendingCountsTowardCap(t *testing.T) {
	svc, st, _ := newTestEnv(t)
	seedMarket(t, st, "MKT001", 50)
	ctx := context.Background()

	if _, err := svc.PostOrder(ctx, buy("MKT001", "alice", model.SideYes, 490, 10)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.PlaceTrade(ctx, buy("MKT001", "alice", model.SideYes, 20, 50)); model.Code(err) != model.CodeValidation {
		t.Fatalf("err = %v, want cap rejection", err)
	}
	mustTrade(t, svc, buy("MKT001", "alice", model.SideYes, 10, 50))
}

func TestPostOrder_NoSelfTrade(t *testing.T) {
	svc, st, _ := newTestEnv(t)
	seedMarket(t, st, "MKT001", 50)
	ctx := context.Background()

	mustTrade(t, svc, buy("MKT001", "alice", model.SideYes, 50, 50))
	if _, err := svc.PostOrder(ctx, sell("MKT001", "alice", model.SideYes, 20, 50)); err != nil {
		t.Fatal(err)
	}
	res := mustTrade(t, svc, buy("MKT001", "alice", model.SideYes, 10, 50))
	for _, tr := range res.Trades {
		if tr.BuyerID == tr.SellerID {
			t.Fatalf("self trade: %+v", tr)
		}
	}
	if res.BotFilled != 10 {
		t.Errorf("bot filled = %d, own resting sell must be skipped", res.BotFilled)
	}
}

func TestCancelOrder(t *testing.T) {
	svc, st, _ := newTestEnv(t)
	seedMarket(t, st, "MKT001", 50)
	ctx := context.Background()

	posted, err := svc.PostOrder(ctx, buy("MKT001", "alice", model.SideYes, 30, 20))
	if err != nil {
		t.Fatal(err)
	}
	id := posted.Order.ID

	if _, err := svc.CancelOrder(ctx, "bob", id); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("other user: err = %v", err)
	}
	o, err := svc.CancelOrder(ctx, "alice", id)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != model.OrderCancelled || o.CancelledAt == nil {
		t.Errorf("cancelled order = %+v", o)
	}
	if _, err := svc.CancelOrder(ctx, "alice", id); !errors.Is(err, model.ErrAlreadySettled) {
		t.Errorf("second cancel: err = %v", err)
	}
	if _, err := svc.CancelOrder(ctx, "alice", "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown order: err = %v", err)
	}

	snap, err := svc.Book(ctx, "MKT001", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.YesBids) != 0 {
		t.Errorf("cancelled order still in book: %+v", snap.YesBids)
	}
}

func TestCancelOrder_BotQuotesAreReserved(t *testing.T) {
	svc, st, _ := newTestEnv(t)
	ctx := context.Background()

	m, err := svc.CreateMarket(ctx, exchange.CreateMarketRequest{GuildID: "g1", Question: "Will it rain?", CreatorID: "admin"})
	if err != nil {
		t.Fatal(err)
	}
	before, err := svc.Book(ctx, m.ID, 5)
	if err != nil {
		t.Fatal(err)
	}
	quotes, err := st.OpenOrders(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(quotes) != 4 {
		t.Fatalf("seeded %d quotes, want 4", len(quotes))
	}

	for _, q := range quotes {
		if _, err := svc.CancelOrder(ctx, model.BotUserID, q.ID); model.Code(err) != model.CodeForbidden {
			t.Errorf("cancel bot quote %s: err = %v, want forbidden", q.ID, err)
		}
	}

	after, err := svc.Book(ctx, m.ID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("book changed:\nbefore %+v\nafter  %+v", before, after)
	}
	if open, _ := st.OpenOrders(ctx, m.ID); len(open) != 4 {
		t.Errorf("open orders = %d, want 4", len(open))
	}
}

// failingStore hands out transactions that fail when a bot fill is recorded.
type failingStore struct {
	store.Store
}

func (s failingStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		return fn(failingTx{tx})
	})
}

type failingTx struct {
	store.Tx
}

func (tx failingTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	if tr.Kind == model.KindBotFill {
		return errors.New("disk full")
	}
	return tx.Tx.InsertTrade(ctx, tr)
}

func TestPlaceTrade_FailedWriteRollsBack(t *testing.T) {
	svc, st, rec := newTestEnvWith(t, failingStore{store.NewMemoryStore()}, true)
	ctx := context.Background()

	m, err := svc.CreateMarket(ctx, exchange.CreateMarketRequest{GuildID: "g1", Question: "Will it rain?", CreatorID: "admin"})
	if err != nil {
		t.Fatal(err)
	}
	before, err := svc.Book(ctx, m.ID, 5)
	if err != nil {
		t.Fatal(err)
	}

	// The seeded quotes fill first; the bot fill for the rest fails.
	if _, err := svc.PlaceTrade(ctx, buy(m.ID, "alice", model.SideYes, 300, 60)); err == nil {
		t.Fatal("expected the trade to fail")
	}

	pos, err := st.GetPosition(ctx, m.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if pos.YesShares != 0 || pos.NoShares != 0 || pos.TotalInvested != 0 {
		t.Errorf("position = %+v, want zero", pos)
	}
	got, err := st.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalVolume != m.TotalVolume || got.YesPrice != m.YesPrice {
		t.Errorf("market = %+v, want volume %d price %d", got, m.TotalVolume, m.YesPrice)
	}
	if trades, _ := st.MarketTrades(ctx, m.ID, 0); len(trades) != 0 {
		t.Errorf("trades = %d, want 0", len(trades))
	}
	after, err := svc.Book(ctx, m.ID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("book changed:\nbefore %+v\nafter  %+v", before, after)
	}
	if len(rec.ofType(model.EventTradeExecuted)) != 0 {
		t.Error("failed trade was announced")
	}

	// A trade the seeded quotes cover alone still goes through.
	res := mustTrade(t, svc, buy(m.ID, "alice", model.SideYes, 50, 60))
	if res.Filled != 50 || res.BotFilled != 0 {
		t.Errorf("filled = %d, bot filled = %d", res.Filled, res.BotFilled)
	}
}

func TestResolve_PaysWinnersAndTakesFee(t *testing.T) {
	svc, st, rec := newTestEnv(t)
	seedMarket(t, st, "MKT001", 50)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx store.Tx) error {
		for _, p := range []model.Position{
			{MarketID: "MKT001", UserID: "alice", YesShares: 30, AvgYesPrice: 83, TotalInvested: 2500},
			{MarketID: "MKT001", UserID: "bob", NoShares: 20, AvgNoPrice: 45, TotalInvested: 900},
			{MarketID: "MKT001", UserID: model.BotUserID, NoShares: 40, TotalInvested: -500},
		} {
			if err := tx.SavePosition(ctx, &p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	posted, err := svc.PostOrder(ctx, buy("MKT001", "carol", model.SideYes, 10, 20))
	if err != nil {
		t.Fatal(err)
	}

	report, err := svc.Resolve(ctx, "MKT001", model.SideYes)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Settlements) != 2 {
		t.Fatalf("settlements = %+v, bot must be skipped", report.Settlements)
	}
	byUser := map[string]model.Settlement{}
	for _, s := range report.Settlements {
		byUser[s.UserID] = s
	}
	a := byUser["alice"]
	if a.Payout != 3000 || a.Profit != 500 || a.Fee != 30 || a.NetProfit != 470 {
		t.Errorf("alice = %+v, want payout 3000 profit 500 fee 30 net 470", a)
	}
	if b := byUser["bob"]; b.Payout != 0 || b.Profit != -900 || b.Fee != 0 {
		t.Errorf("bob = %+v", b)
	}
	if report.HouseFee != 30 {
		t.Errorf("house fee = %d", report.HouseFee)
	}

	hp, _ := svc.HousePot(ctx)
	if hp.TotalFees != 30 {
		t.Errorf("house pot = %d", hp.TotalFees)
	}
	aliceRec, _ := st.GetProfit(ctx, "alice")
	if aliceRec.TotalProfit != 470 || aliceRec.MarketsWon != 1 || aliceRec.MarketsParticipated != 1 {
		t.Errorf("alice lifetime = %+v", aliceRec)
	}
	bobRec, _ := st.GetProfit(ctx, "bob")
	if bobRec.TotalProfit != -900 || bobRec.MarketsLost != 1 {
		t.Errorf("bob lifetime = %+v", bobRec)
	}
	o, _ := st.GetOrder(ctx, posted.Order.ID)
	if o.Status != model.OrderCancelled {
		t.Errorf("resting order after resolve = %s", o.Status)
	}
	m, _ := st.GetMarket(ctx, "MKT001")
	if m.Status != model.MarketResolved || m.Result == nil || *m.Result != model.SideYes || m.ResolvedAt == nil {
		t.Errorf("market = %+v", m)
	}
	if n := len(rec.ofType(model.EventMarketResolved)); n != 1 {
		t.Errorf("resolved events = %d", n)
	}

	// Resolving again is rejected and changes nothing.
	_, err = svc.Resolve(ctx, "MKT001", model.SideNo)
	if !errors.Is(err, model.ErrAlreadyResolved) || !errors.Is(err, model.ErrAlreadySettled) {
		t.Fatalf("second resolve: err = %v", err)
	}
	hp, _ = svc.HousePot(ctx)
	aliceRec, _ = st.GetProfit(ctx, "alice")
	if hp.TotalFees != 30 || aliceRec.TotalProfit != 470 || aliceRec.MarketsParticipated != 1 {
		t.Errorf("second resolve changed state: pot %d alice %+v", hp.TotalFees, aliceRec)
	}

	board, err := svc.Leaderboard(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(board) != 2 || board[0].UserID != "alice" || board[0].Rank != 1 || board[0].WinRate.String() != "100" {
		t.Errorf("leaderboard = %+v", board)
	}
}

func TestReplenish(t *testing.T) {
	svc, st, _ := newTestEnv(t)
	seedMarket(t, st, "MKT001", 50)
	ctx := context.Background()

	// One quote per queue is still thinner than the minimum depth of two.
	for i, want := range []bool{true, true, false} {
		got, err := svc.Replenish(ctx, "MKT001")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("replenish #%d = %v, want %v", i+1, got, want)
		}
	}
	snap, _ := svc.Book(ctx, "MKT001", 5)
	if len(snap.YesAsks) != 1 || snap.YesAsks[0].OrderCount != 2 {
		t.Errorf("yes asks = %+v", snap.YesAsks)
	}

	if _, err := svc.Resolve(ctx, "MKT001", model.SideYes); err != nil {
		t.Fatal(err)
	}
	if got, err := svc.Replenish(ctx, "MKT001"); err != nil || got {
		t.Errorf("resolved market replenish = %v, %v", got, err)
	}
}

func TestReplenish_RefreshesPriceFromTrades(t *testing.T) {
	svc, st, _ := newTestEnv(t)
	seedMarket(t, st, "MKT001", 50)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertTrade(ctx, &model.Trade{
			ID: "t1", MarketID: "MKT001", BuyerID: "alice", SellerID: model.BotUserID,
			Side: model.SideNo, Quantity: 10, Price: 30, Amount: 300, Kind: model.KindBotFill, ExecutedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Replenish(ctx, "MKT001"); err != nil {
		t.Fatal(err)
	}
	m, _ := st.GetMarket(ctx, "MKT001")
	if m.YesPrice != 70 {
		t.Errorf("yes price = %d, want 70 (No @30)", m.YesPrice)
	}
	snap, _ := svc.Book(ctx, "MKT001", 5)
	if snap.YesAsks[0].Price != 75 || snap.NoBids[0].Price != 25 {
		t.Errorf("reseeded around 70: %+v", snap)
	}
}

func TestPlaceTrade_BigMoveEvent(t *testing.T) {
	svc, st, rec := newTestEnv(t)
	seedMarket(t, st, "MKT001", 50)

	res := mustTrade(t, svc, buy("MKT001", "alice", model.SideYes, 10, 70))
	if res.PreviousPrice != 50 || res.YesPrice != 70 {
		t.Fatalf("price %d -> %d", res.PreviousPrice, res.YesPrice)
	}
	moves := rec.ofType(model.EventBigMove)
	if len(moves) != 1 || moves[0].PreviousPrice != 50 || moves[0].YesPrice != 70 {
		t.Errorf("big move events = %+v", moves)
	}
	if n := len(rec.ofType(model.EventTradeExecuted)); n != 1 {
		t.Errorf("trade events = %d", n)
	}

	mustTrade(t, svc, buy("MKT001", "bob", model.SideYes, 10, 72))
	if n := len(rec.ofType(model.EventBigMove)); n != 1 {
		t.Errorf("small move raised an alert")
	}
}

func TestYesVWAP(t *testing.T) {
	trades := []model.Trade{
		{Side: model.SideYes, Quantity: 10, Price: 60},
		{Side: model.SideNo, Quantity: 30, Price: 50},
	}
	p, ok := exchange.YesVWAP(trades)
	if !ok || p != 52 {
		t.Errorf("vwap = %d, %v; want 52 ((600+1500)/40 truncated)", p, ok)
	}
	if _, ok := exchange.YesVWAP(nil); ok {
		t.Error("no trades has no price")
	}
}

func TestPortfolio(t *testing.T) {
	svc, st, _ := newTestEnv(t)
	seedMarket(t, st, "MKT001", 50)
	ctx := context.Background()

	mustTrade(t, svc, buy("MKT001", "alice", model.SideYes, 20, 55))
	if _, err := svc.PostOrder(ctx, buy("MKT001", "alice", model.SideNo, 10, 20)); err != nil {
		t.Fatal(err)
	}

	pf, err := svc.Portfolio(ctx, "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(pf.Holdings) != 1 || len(pf.OpenOrders) != 1 {
		t.Fatalf("portfolio = %+v", pf)
	}
	h := pf.Holdings[0]
	if h.YesPrice != 55 || h.CurrentValue != 1100 || h.UnrealizedPnL != 0 || h.Question == "" {
		t.Errorf("holding = %+v", h)
	}

	other, err := svc.Portfolio(ctx, "alice", "another-guild")
	if err != nil {
		t.Fatal(err)
	}
	if len(other.Holdings) != 0 || len(other.OpenOrders) != 0 {
		t.Errorf("guild filter leaked: %+v", other)
	}
}

func TestGetMarket_View(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	ctx := context.Background()
	m, err := svc.CreateMarket(ctx, exchange.CreateMarketRequest{GuildID: "g1", Question: "Q?", CreatorID: "admin"})
	if err != nil {
		t.Fatal(err)
	}
	mustTrade(t, svc, buy(m.ID, "alice", model.SideYes, 10, 55))

	view, err := svc.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Recent) == 0 || view.Market.TotalVolume != 550 {
		t.Errorf("view = %+v", view)
	}
	// The fill took 10 from either the Yes ask or the complementary No bid.
	taken := (100 - view.Book.YesAsks[0].Quantity) + (100 - view.Book.NoBids[0].Quantity)
	if taken != 10 {
		t.Errorf("book after fill = %+v", view.Book)
	}
	if _, err := svc.GetMarket(ctx, "MKT404"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing market: %v", err)
	}
}

func TestConcurrentTrades_KeepInvariants(t *testing.T) {
	svc, st, _ := newTestEnv(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if _, err := svc.CreateMarket(ctx, exchange.CreateMarketRequest{GuildID: "g1", Question: "Q?", CreatorID: "admin"}); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 60)
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			market := fmt.Sprintf("MKT%03d", i%3+1)
			user := fmt.Sprintf("user%d", i%7)
			side := model.SideYes
			if i%2 == 1 {
				side = model.SideNo
			}
			if _, err := svc.PlaceTrade(ctx, buy(market, user, side, 10, 50+int64(i%5))); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent trade: %v", err)
	}

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("MKT%03d", i)
		assertVolumeInvariant(t, st, id)

		positions, _ := st.MarketPositions(ctx, id)
		var userShares int64
		for _, p := range positions {
			if p.YesShares < 0 || p.NoShares < 0 {
				t.Errorf("negative shares: %+v", p)
			}
			if p.UserID != model.BotUserID {
				userShares += p.YesShares + p.NoShares
			}
		}
		if userShares != 20*10 {
			t.Errorf("%s: users hold %d shares, want 200 (every order filled)", id, userShares)
		}
	}
}

func TestActiveMarketIDs(t *testing.T) {
	svc, st, _ := newTestEnv(t)
	seedMarket(t, st, "MKT001", 50)
	seedMarket(t, st, "MKT002", 50)
	if _, err := svc.Resolve(context.Background(), "MKT001", model.SideYes); err != nil {
		t.Fatal(err)
	}
	ids, err := svc.ActiveMarketIDs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "MKT002" {
		t.Errorf("active = %v", ids)
	}
}
