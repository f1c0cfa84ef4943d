// Package store is the local durable store: a set of Postgres tables,
// scoped per run_id, that hold tokens, fan-in records, context sections,
// branch tables, subworkflow records, the pending-dispatch trampoline
// queue, and workflow status (spec.md §3, "local durable store").
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonderhq/coordinator/internal/config"
	"github.com/wonderhq/coordinator/internal/logger"
)

// Querier is the slice of pgxpool.Pool / pgx.Tx every repository actually
// calls. Repositories are built against this interface rather than *DB
// directly so internal/apply can run a batch of repository calls inside a
// single pgx.Tx (spec.md §4.5's "one local-store transaction per command").
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// DB wraps pgxpool.Pool with the connection lifecycle the rest of the
// store package's repositories share.
type DB struct {
	*pgxpool.Pool
	log *logger.Logger
}

// BeginTx starts a transaction; callers build Querier-scoped repositories
// over the returned pgx.Tx and must Commit or Rollback explicitly.
func (db *DB) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}

// New opens a pool sized per cfg and verifies connectivity before returning.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Store.MaxConns)
	poolConfig.MinConns = int32(cfg.Store.MinConns)
	poolConfig.MaxConnLifetime = cfg.Store.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Store.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("local store connected", "host", cfg.Store.Host, "db", cfg.Store.Database)

	return &DB{Pool: pool, log: log}, nil
}

// Close releases every pooled connection.
func (db *DB) Close() {
	db.log.Info("closing local store connection pool")
	db.Pool.Close()
}

// Health pings the pool with a bounded timeout.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}
