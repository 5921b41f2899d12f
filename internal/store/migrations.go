package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/adlio/schema"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// Column types that differ between the two engines.
var columnTypes = map[dialect]*strings.Replacer{
	dialectPostgres: strings.NewReplacer(
		"{{timestamp}}", "TIMESTAMPTZ",
		"{{seq}}", "BIGSERIAL PRIMARY KEY",
	),
	dialectSQLite: strings.NewReplacer(
		"{{timestamp}}", "DATETIME",
		"{{seq}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
	),
}

var migrations = []struct{ id, script string }{
	{"2025-09-01 001 markets", `
CREATE TABLE markets (
	id               TEXT PRIMARY KEY,
	guild_id         TEXT NOT NULL,
	channel_id       TEXT NOT NULL DEFAULT '',
	question         TEXT NOT NULL,
	creator_id       TEXT NOT NULL,
	created_at       {{timestamp}} NOT NULL,
	resolution_week  INTEGER,
	resolution_mode  TEXT NOT NULL DEFAULT 'manual',
	status           TEXT NOT NULL DEFAULT 'active',
	result           TEXT,
	resolved_at      {{timestamp}},
	yes_price        BIGINT NOT NULL,
	total_volume     BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX markets_guild_status ON markets (guild_id, status);
`},
	{"2025-09-01 002 orders", `
CREATE TABLE orders (
	id               TEXT PRIMARY KEY,
	market_id        TEXT NOT NULL REFERENCES markets (id),
	user_id          TEXT NOT NULL,
	side             TEXT NOT NULL,
	direction        TEXT NOT NULL,
	quantity         BIGINT NOT NULL CHECK (quantity > 0),
	price            BIGINT NOT NULL,
	filled_quantity  BIGINT NOT NULL DEFAULT 0 CHECK (filled_quantity <= quantity),
	status           TEXT NOT NULL,
	created_at       {{timestamp}} NOT NULL,
	filled_at        {{timestamp}},
	cancelled_at     {{timestamp}},
	is_bot           BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX orders_market_status ON orders (market_id, status);
CREATE INDEX orders_user_status ON orders (user_id, status);
`},
	{"2025-09-01 003 trades", `
CREATE TABLE trades (
	seq              {{seq}},
	id               TEXT NOT NULL UNIQUE,
	market_id        TEXT NOT NULL REFERENCES markets (id),
	buyer_id         TEXT NOT NULL,
	seller_id        TEXT NOT NULL,
	side             TEXT NOT NULL,
	quantity         BIGINT NOT NULL,
	price            BIGINT NOT NULL,
	amount           BIGINT NOT NULL,
	kind             TEXT NOT NULL,
	buyer_order_id   TEXT NOT NULL DEFAULT '',
	seller_order_id  TEXT NOT NULL DEFAULT '',
	executed_at      {{timestamp}} NOT NULL
);
CREATE INDEX trades_market ON trades (market_id, seq);
`},
	{"2025-09-01 004 positions", `
CREATE TABLE positions (
	market_id        TEXT NOT NULL REFERENCES markets (id),
	user_id          TEXT NOT NULL,
	yes_shares       BIGINT NOT NULL DEFAULT 0 CHECK (yes_shares >= 0),
	no_shares        BIGINT NOT NULL DEFAULT 0 CHECK (no_shares >= 0),
	avg_yes_price    BIGINT NOT NULL DEFAULT 0,
	avg_no_price     BIGINT NOT NULL DEFAULT 0,
	total_invested   BIGINT NOT NULL DEFAULT 0,
	updated_at       {{timestamp}} NOT NULL,
	PRIMARY KEY (market_id, user_id)
);
CREATE INDEX positions_user ON positions (user_id);
`},
	{"2025-09-01 005 settlement", `
CREATE TABLE user_profits (
	user_id               TEXT PRIMARY KEY,
	total_profit          BIGINT NOT NULL DEFAULT 0,
	total_volume          BIGINT NOT NULL DEFAULT 0,
	markets_won           BIGINT NOT NULL DEFAULT 0,
	markets_lost          BIGINT NOT NULL DEFAULT 0,
	markets_participated  BIGINT NOT NULL DEFAULT 0,
	updated_at            {{timestamp}} NOT NULL
);
CREATE TABLE house_pot (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	total_fees    BIGINT NOT NULL DEFAULT 0,
	last_updated  {{timestamp}}
);
INSERT INTO house_pot (id, total_fees) VALUES (1, 0);
CREATE TABLE settlements (
	market_id       TEXT NOT NULL REFERENCES markets (id),
	user_id         TEXT NOT NULL,
	result          TEXT NOT NULL,
	winning_shares  BIGINT NOT NULL,
	payout          BIGINT NOT NULL,
	invested        BIGINT NOT NULL,
	profit          BIGINT NOT NULL,
	fee             BIGINT NOT NULL,
	net_profit      BIGINT NOT NULL,
	settled_at      {{timestamp}} NOT NULL,
	PRIMARY KEY (market_id, user_id)
);
`},
}

// migrate brings db up to the latest schema. Applied migrations are
// recorded and skipped on later runs.
func migrate(ctx context.Context, db *sql.DB, d dialect) error {
	opts := []schema.Option{schema.WithContext(ctx)}
	if d == dialectSQLite {
		opts = append(opts, schema.WithDialect(schema.SQLite))
	} else {
		opts = append(opts, schema.WithDialect(schema.Postgres))
	}

	r := columnTypes[d]
	ms := make([]*schema.Migration, 0, len(migrations))
	for _, m := range migrations {
		ms = append(ms, &schema.Migration{ID: m.id, Script: r.Replace(m.script)})
	}
	if err := schema.NewMigrator(opts...).Apply(db, ms); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
