package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Options selects and configures a backend.
type Options struct {
	// DatabaseURL selects PostgreSQL when set.
	DatabaseURL string
	// SQLitePath selects SQLite when DatabaseURL is empty.
	SQLitePath string
	// RedisURL adds a read-through cache over the durable backend.
	RedisURL string
	CacheTTL time.Duration
}

// Open returns PostgreSQL, then SQLite, then the in-memory store,
// depending on which options are set. The schema is migrated on open.
func Open(ctx context.Context, opts Options) (Store, error) {
	var primary Store
	switch {
	case opts.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		pg := NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		slog.Info("using PostgreSQL store")
		primary = pg

	case opts.SQLitePath != "":
		lite, err := NewSQLiteStore(ctx, opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("using SQLite store", "path", opts.SQLitePath)
		primary = lite

	default:
		slog.Info("using in-memory store (no DATABASE_URL or SQLITE_PATH)")
		return NewMemoryStore(), nil
	}

	if opts.RedisURL == "" {
		return primary, nil
	}
	ropts, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, running uncached", "err", err)
		rdb.Close()
		return primary, nil
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	slog.Info("redis cache enabled", "ttl", ttl.String())
	return NewCachedStore(primary, rdb, ttl), nil
}
