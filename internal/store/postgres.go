package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/leaguehub/predex/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Money is stored as BIGINT cents. LockMarket takes a row lock.
type PostgresStore struct {
	sqlTx
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		sqlTx: sqlTx{q: pgxQuerier{pool}, forUpdate: " FOR UPDATE"},
		pool:  pool,
	}
}

// Migrate applies the schema through a database/sql view of the pool.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	return migrate(ctx, db, dialectPostgres)
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	err := pgx.BeginFunc(ctx, s.pool, func(ptx pgx.Tx) error {
		return fn(&sqlTx{q: pgxQuerier{ptx}, forUpdate: s.forUpdate})
	})
	return mapPgError(err)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// pgxConn is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgxQuerier struct{ c pgxConn }

func (p pgxQuerier) exec(ctx context.Context, q string, args ...any) (int64, error) {
	tag, err := p.c.Exec(ctx, rebind(q), args...)
	if err != nil {
		return 0, mapPgError(err)
	}
	return tag.RowsAffected(), nil
}

func (p pgxQuerier) query(ctx context.Context, q string, args ...any) (rows, error) {
	rs, err := p.c.Query(ctx, rebind(q), args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	return rs, nil
}

func (p pgxQuerier) queryRow(ctx context.Context, q string, args ...any) row {
	return pgxRow{p.c.QueryRow(ctx, rebind(q), args...)}
}

type pgxRow struct{ r pgx.Row }

func (r pgxRow) Scan(dest ...any) error {
	return mapPgError(r.r.Scan(dest...))
}

// mapPgError translates driver errors into the store's vocabulary:
// no rows becomes sql.ErrNoRows, and serialization failures, deadlocks
// and unique violations become model.ErrConflict.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return sql.ErrNoRows
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%s: %w", pgErr.Message, model.ErrConflict)
		}
	}
	return err
}
