// Package storage provides the PostgreSQL storage layer for warecell.
//
// It manages a pgxpool connection pool, runs the embedded migrations, and
// implements the operation, task, product and state checkpoint repositories.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/warecell/internal/telemetry"
)

// DB wraps a pgxpool.Pool.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to dsn and verifies the connection.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}
	if cfg.MaxConns > 8 {
		// One device, one writer at a time; a small pool is plenty.
		cfg.MaxConns = 8
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Name identifies the backend in health output.
func (db *DB) Name() string { return "postgres" }

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close(_ context.Context) {
	db.pool.Close()
}

// RegisterPoolMetrics exposes pool occupancy as observable gauges. Call it
// after telemetry.Init.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("warecell/storage")
	gauge := func(name, desc string, read func(*pgxpool.Stat) int64) {
		_, err := meter.Int64ObservableGauge(name,
			metric.WithDescription(desc),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(read(db.pool.Stat()))
				return nil
			}),
		)
		if err != nil {
			db.logger.Warn("storage: register pool metric", "metric", name, "error", err)
		}
	}
	gauge("warecell.db.pool.acquired", "Connections currently in use", func(s *pgxpool.Stat) int64 { return int64(s.AcquiredConns()) })
	gauge("warecell.db.pool.idle", "Idle connections", func(s *pgxpool.Stat) int64 { return int64(s.IdleConns()) })
	gauge("warecell.db.pool.total", "Open connections", func(s *pgxpool.Stat) int64 { return int64(s.TotalConns()) })
}
