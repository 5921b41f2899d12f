// Package exchange runs the prediction-market operations: market creation,
// trading, cancels, replenishment and resolution, plus the read views the
// command surface renders.
//
// Every mutating operation holds the market's lock and runs in a single
// store transaction. Events and metrics are emitted only after commit.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/leaguehub/predex/internal/book"
	"github.com/leaguehub/predex/internal/liquidity"
	"github.com/leaguehub/predex/internal/metrics"
	"github.com/leaguehub/predex/internal/model"
	"github.com/leaguehub/predex/internal/settlement"
	"github.com/leaguehub/predex/internal/store"
	"github.com/leaguehub/predex/internal/validate"
)

// Publisher receives committed state changes.
type Publisher interface {
	Publish(ev model.Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(model.Event) {}

// Options configures a Service. Zero fields take defaults.
type Options struct {
	Limits    *validate.Limiter
	Liquidity liquidity.Config
	FeeRate   decimal.Decimal
	Publisher Publisher

	// CacheBooks keeps order books in memory between requests. Only safe
	// when this process is the sole writer.
	CacheBooks bool

	// PriceWindow is how many recent trades the Yes price averages over.
	PriceWindow int

	// BigMove is the Yes price change, in cents, that raises an alert.
	BigMove int64
}

// Defaults.
const (
	DefaultInitialPrice = 50
	DefaultPriceWindow  = 10
	DefaultBigMove      = 10
	maxQuestionLen      = 300
)

// Service is the exchange.
type Service struct {
	store    store.Store
	limits   *validate.Limiter
	provider *liquidity.Provider
	books    *book.Manager
	feeRate  decimal.Decimal
	pub      Publisher

	priceWindow int
	bigMove     int64

	locks    *marketLocks
	createMu sync.Mutex

	newID func() string
	now   func() time.Time
}

// NewService creates an exchange over st.
func NewService(st store.Store, opts Options) *Service {
	if opts.Limits == nil {
		opts.Limits = validate.NewLimiter()
	}
	if opts.Liquidity == (liquidity.Config{}) {
		opts.Liquidity = liquidity.DefaultConfig()
	}
	if opts.FeeRate.IsZero() {
		opts.FeeRate = settlement.DefaultFeeRate
	}
	if opts.Publisher == nil {
		opts.Publisher = noopPublisher{}
	}
	if opts.PriceWindow <= 0 {
		opts.PriceWindow = DefaultPriceWindow
	}
	if opts.BigMove <= 0 {
		opts.BigMove = DefaultBigMove
	}
	return &Service{
		store:       st,
		limits:      opts.Limits,
		provider:    liquidity.NewProvider(opts.Liquidity),
		books:       book.NewManager(opts.CacheBooks),
		feeRate:     opts.FeeRate,
		pub:         opts.Publisher,
		priceWindow: opts.PriceWindow,
		bigMove:     opts.BigMove,
		locks:       newMarketLocks(),
		newID:       uuid.NewString,
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// CreateMarketRequest describes a new market.
type CreateMarketRequest struct {
	GuildID        string `json:"guild_id"`
	ChannelID      string `json:"channel_id"`
	Question       string `json:"question"`
	CreatorID      string `json:"creator_id"`
	ResolutionWeek *int   `json:"resolution_week,omitempty"`
	InitialPrice   int64  `json:"initial_price,omitempty"` // Yes cents; 0 means 50
}

// CreateMarket opens a market with the next sequential ID and seeds it
// with bot quotes around the initial price.
func (s *Service) CreateMarket(ctx context.Context, req CreateMarketRequest) (*model.Market, error) {
	question := strings.TrimSpace(req.Question)
	switch {
	case question == "":
		return nil, model.Rejected("question is required")
	case len(question) > maxQuestionLen:
		return nil, model.Rejected("question is longer than %d characters", maxQuestionLen)
	case req.GuildID == "":
		return nil, model.Rejected("guild is required")
	case req.CreatorID == "":
		return nil, model.Rejected("creator is required")
	}
	price := req.InitialPrice
	if price == 0 {
		price = DefaultInitialPrice
	}
	price = s.limits.ClampPrice(price)

	// IDs come from the market count, so creations are serialized.
	s.createMu.Lock()
	defer s.createMu.Unlock()

	var m *model.Market
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		n, err := tx.CountMarkets(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		m = &model.Market{
			ID:             fmt.Sprintf("MKT%03d", n+1),
			GuildID:        req.GuildID,
			ChannelID:      req.ChannelID,
			Question:       question,
			CreatorID:      req.CreatorID,
			CreatedAt:      now,
			ResolutionWeek: req.ResolutionWeek,
			ResolutionMode: "manual",
			Status:         model.MarketActive,
			YesPrice:       price,
		}
		if err := tx.CreateMarket(ctx, m); err != nil {
			return err
		}
		return s.seed(ctx, tx, m.ID, price, now)
	})
	if err != nil {
		return nil, err
	}

	metrics.ActiveMarkets.Inc()
	slog.Info("market created", "market", m.ID, "guild", m.GuildID, "price", m.YesPrice)
	s.pub.Publish(model.Event{
		Type:     model.EventMarketCreated,
		MarketID: m.ID,
		YesPrice: m.YesPrice,
		Question: m.Question,
		At:       m.CreatedAt,
	})
	return m, nil
}

// seed inserts the four bot quotes. Cached books for the market are
// dropped so the next load sees them.
func (s *Service) seed(ctx context.Context, tx store.Tx, marketID string, yesPrice int64, at time.Time) error {
	for _, o := range s.provider.SeedOrders(marketID, yesPrice, at) {
		if err := tx.InsertOrder(ctx, &o); err != nil {
			return fmt.Errorf("seed %s: %w", marketID, err)
		}
	}
	s.books.Invalidate(marketID)
	return nil
}

// ActiveMarketIDs lists markets still open for trading.
func (s *Service) ActiveMarketIDs(ctx context.Context) ([]string, error) {
	markets, err := s.store.ListMarkets(ctx, store.MarketFilter{Status: model.MarketActive})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(markets))
	for _, m := range markets {
		ids = append(ids, m.ID)
	}
	metrics.ActiveMarkets.Set(float64(len(ids)))
	return ids, nil
}

// reject counts a failed request by error code before returning it.
func reject(err error) error {
	if err != nil {
		metrics.Rejections.WithLabelValues(model.Code(err)).Inc()
	}
	return err
}
