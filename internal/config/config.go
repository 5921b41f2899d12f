// Package config loads service settings from an optional YAML file, a
// .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/leaguehub/predex/internal/liquidity"
	"github.com/leaguehub/predex/internal/store"
	"github.com/leaguehub/predex/internal/validate"
)

// PathEnv names the variable holding the config file path.
const PathEnv = "PREDEX_CONFIG"

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            string  `yaml:"port"`
	RateLimitRPS    float64 `yaml:"rate_limit_rps"` // per client; 0 disables
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	ShutdownSeconds int     `yaml:"shutdown_seconds"`
}

// StorageConfig selects the backend. DatabaseURL wins over SQLitePath;
// with neither set the store is in memory.
type StorageConfig struct {
	DatabaseURL     string `yaml:"database_url"`
	SQLitePath      string `yaml:"sqlite_path"`
	RedisURL        string `yaml:"redis_url"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// ExchangeConfig holds trading and settlement parameters.
type ExchangeConfig struct {
	FeeRate                  float64          `yaml:"fee_rate"`
	MaxSharesPerSide         int64            `yaml:"max_shares_per_side"`
	ReplenishIntervalSeconds int              `yaml:"replenish_interval_seconds"`
	ReplenishConcurrency     int              `yaml:"replenish_concurrency"`
	PriceWindow              int              `yaml:"price_window"`
	BigMove                  int64            `yaml:"big_move"`
	CacheBooks               *bool            `yaml:"cache_books"`
	Liquidity                liquidity.Config `yaml:"liquidity"`
}

// LogConfig controls log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// Load reads path (if non-empty), then .env, then the environment, fills
// in defaults and validates the result.
func Load(path string) (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(PathEnv)
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides overwrites values with environment variables that are
// set.
func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"PORT":         &cfg.Server.Port,
		"DATABASE_URL": &cfg.Storage.DatabaseURL,
		"SQLITE_PATH":  &cfg.Storage.SQLitePath,
		"REDIS_URL":    &cfg.Storage.RedisURL,
		"LOG_LEVEL":    &cfg.Log.Level,
		"LOG_FORMAT":   &cfg.Log.Format,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	var errs []error
	if v := os.Getenv("FEE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEE_RATE: %w", err))
		}
		cfg.Exchange.FeeRate = f
	}
	if v := os.Getenv("REPLENISH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("REPLENISH_INTERVAL: %w", err))
		}
		cfg.Exchange.ReplenishIntervalSeconds = int(d / time.Second)
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS: %w", err))
		}
		cfg.Server.RateLimitRPS = f
	}
	return errors.Join(errs...)
}

// setDefaults fills every unset value.
func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.ShutdownSeconds <= 0 {
		cfg.Server.ShutdownSeconds = 5
	}
	if cfg.Storage.CacheTTLSeconds <= 0 {
		cfg.Storage.CacheTTLSeconds = 30
	}
	if cfg.Exchange.FeeRate == 0 {
		cfg.Exchange.FeeRate = 0.06
	}
	if cfg.Exchange.MaxSharesPerSide <= 0 {
		cfg.Exchange.MaxSharesPerSide = validate.DefaultMaxSharesPerSide
	}
	if cfg.Exchange.ReplenishIntervalSeconds <= 0 {
		cfg.Exchange.ReplenishIntervalSeconds = 3600
	}
	if cfg.Exchange.ReplenishConcurrency <= 0 {
		cfg.Exchange.ReplenishConcurrency = 4
	}
	if cfg.Exchange.CacheBooks == nil {
		on := true
		cfg.Exchange.CacheBooks = &on
	}
	def := liquidity.DefaultConfig()
	lq := &cfg.Exchange.Liquidity
	if lq.Spread <= 0 {
		lq.Spread = def.Spread
	}
	if lq.Quantity <= 0 {
		lq.Quantity = def.Quantity
	}
	if lq.MinDepth <= 0 {
		lq.MinDepth = def.MinDepth
	}
	if lq.MinPrice <= 0 {
		lq.MinPrice = def.MinPrice
	}
	if lq.MaxPrice <= 0 {
		lq.MaxPrice = def.MaxPrice
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		errs = append(errs, fmt.Errorf("server.port %q is not a number", c.Server.Port))
	}
	if c.Exchange.FeeRate < 0 || c.Exchange.FeeRate >= 1 {
		errs = append(errs, fmt.Errorf("exchange.fee_rate %v must be in [0, 1)", c.Exchange.FeeRate))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, errors.New("server.rate_limit_rps must not be negative"))
	}
	lq := c.Exchange.Liquidity
	if lq.MinPrice >= lq.MaxPrice || lq.MaxPrice >= 100 {
		errs = append(errs, fmt.Errorf("exchange.liquidity price range [%d, %d] is invalid", lq.MinPrice, lq.MaxPrice))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}
	return errors.Join(errs...)
}

// StoreOptions maps the storage section onto store.Open options.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		DatabaseURL: c.Storage.DatabaseURL,
		SQLitePath:  c.Storage.SQLitePath,
		RedisURL:    c.Storage.RedisURL,
		CacheTTL:    time.Duration(c.Storage.CacheTTLSeconds) * time.Second,
	}
}

// Fee returns the settlement fee rate.
func (c *Config) Fee() decimal.Decimal {
	return decimal.NewFromFloat(c.Exchange.FeeRate)
}

// Limits returns the trading limits with the configured share cap. Limit
// prices share the liquidity quote range, so traders and the bot clamp to
// the same bounds.
func (c *Config) Limits() *validate.Limiter {
	l := validate.NewLimiter()
	l.MaxSharesPerSide = c.Exchange.MaxSharesPerSide
	l.MinPrice = c.Exchange.Liquidity.MinPrice
	l.MaxPrice = c.Exchange.Liquidity.MaxPrice
	return l
}

// ReplenishInterval returns the scheduler period.
func (c *Config) ReplenishInterval() time.Duration {
	return time.Duration(c.Exchange.ReplenishIntervalSeconds) * time.Second
}

// ShutdownTimeout returns how long in-flight requests get on shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}

// NewLogger builds a slog logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q must be debug, info, warn or error", s)
}
