/*
Package postgres provides a PostgreSQL-backed implementation of loyalty.TxStore.

PURPOSE:
  Multi-instance persistence. Several API servers can share one database:
  conditional updates and row locks decide races instead of a process
  mutex.

CONCURRENCY:
  - Transitions: UPDATE ... WHERE id = $1 AND status = $2. Under READ
    COMMITTED a concurrent loser waits on the row lock, re-checks the
    predicate and affects 0 rows.
  - LockBalance: upserts the user_balances row then SELECT ... FOR UPDATE,
    so balance checks for one user run one at a time.
  - BumpRevision: the single ledger_meta row orders commits.

MIGRATIONS:
  Versioned, embedded in migrations.go, tracked in schema_migrations and
  applied in a transaction each.

USAGE:
  pool, err := postgres.NewPool(ctx, postgres.PoolConfig{DSN: dsn, MaxConns: 10})
  store, err := postgres.New(ctx, pool)

SEE ALSO:
  - loyalty/store.go:   Interface definitions
  - store/sqlite:       Single-node implementation
*/
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/sebastianahumada1/Leal/loyalty"
)

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// NewPool opens a connection pool and checks the database answers.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	log.WithField("max_conns", poolConfig.MaxConns).Info("connected to PostgreSQL")
	return pool, nil
}

// Store implements loyalty.TxStore on a pgx pool.
type Store struct {
	queries
	pool *pgxpool.Pool
}

// New runs pending migrations and returns a store over pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := Migrate(ctx, pool); err != nil {
		return nil, err
	}
	return &Store{queries: queries{db: pool}, pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store loyalty.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return loyalty.WrapStore("begin", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}

	return loyalty.WrapStore("commit", tx.Commit(ctx))
}
