package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leaguehub/predex/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL or SQLite) with a Redis
// read-through cache. Writes go to the primary store and invalidate the
// touched keys after commit; reads check Redis first then fall back to
// the primary.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	ct := &cachedTx{markets: make(map[string]struct{})}
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		ct.Tx = tx
		return fn(ct)
	})
	if err != nil {
		return err
	}

	// Invalidate; next read will re-populate.
	keys := ct.dirtyKeys()
	if len(keys) > 0 {
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			slog.Warn("cache invalidation failed", "keys", keys, "err", err)
		}
	}
	return nil
}

func (s *CachedStore) Close() error {
	err := s.Store.Close()
	if cerr := s.rdb.Close(); err == nil {
		err = cerr
	}
	return err
}

// cachedTx records which cached entities a transaction wrote.
type cachedTx struct {
	Tx

	mu          sync.Mutex
	markets     map[string]struct{}
	leaderboard bool
	house       bool
}

func (t *cachedTx) touchMarket(id string) {
	t.mu.Lock()
	t.markets[id] = struct{}{}
	t.mu.Unlock()
}

func (t *cachedTx) dirtyKeys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var keys []string
	for id := range t.markets {
		keys = append(keys, marketKey(id))
	}
	if t.leaderboard {
		keys = append(keys, leaderboardKey)
	}
	if t.house {
		keys = append(keys, houseKey)
	}
	return keys
}

func (t *cachedTx) CreateMarket(ctx context.Context, m *model.Market) error {
	t.touchMarket(m.ID)
	return t.Tx.CreateMarket(ctx, m)
}

func (t *cachedTx) UpdateMarketTrading(ctx context.Context, id string, volumeDelta, yesPrice int64) error {
	t.touchMarket(id)
	return t.Tx.UpdateMarketTrading(ctx, id, volumeDelta, yesPrice)
}

func (t *cachedTx) ResolveMarket(ctx context.Context, id string, result model.Side, at time.Time) error {
	t.touchMarket(id)
	return t.Tx.ResolveMarket(ctx, id, result, at)
}

func (t *cachedTx) AddProfit(ctx context.Context, rec *model.ProfitRecord) error {
	t.mu.Lock()
	t.leaderboard = true
	t.mu.Unlock()
	return t.Tx.AddProfit(ctx, rec)
}

func (t *cachedTx) AddHouseFees(ctx context.Context, fees int64, at time.Time) error {
	t.mu.Lock()
	t.house = true
	t.mu.Unlock()
	return t.Tx.AddHouseFees(ctx, fees, at)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.Store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.set(ctx, marketKey(id), m)
	return m, nil
}

func (s *CachedStore) Leaderboard(ctx context.Context, limit int) ([]model.ProfitRecord, error) {
	field := strconv.Itoa(limit)
	data, err := s.rdb.HGet(ctx, leaderboardKey, field).Bytes()
	if err == nil {
		var records []model.ProfitRecord
		if json.Unmarshal(data, &records) == nil {
			return records, nil
		}
	}

	records, err := s.Store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}

	// All limits share one hash so a single Del invalidates them.
	if data, err := json.Marshal(records); err == nil {
		pipe := s.rdb.TxPipeline()
		pipe.HSet(ctx, leaderboardKey, field, data)
		pipe.Expire(ctx, leaderboardKey, s.ttl)
		pipe.Exec(ctx)
	}
	return records, nil
}

func (s *CachedStore) HousePot(ctx context.Context) (*model.HousePot, error) {
	data, err := s.rdb.Get(ctx, houseKey).Bytes()
	if err == nil {
		var hp model.HousePot
		if json.Unmarshal(data, &hp) == nil {
			return &hp, nil
		}
	}

	hp, err := s.Store.HousePot(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, houseKey, hp)
	return hp, nil
}

// --- Cache helpers ---

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const (
	leaderboardKey = "leaderboard"
	houseKey       = "house_pot"
)

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }
