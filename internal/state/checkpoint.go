package state

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/warecell/internal/telemetry"
)

// Repository persists store checkpoints.
type Repository interface {
	SaveState(ctx context.Context, cp Checkpoint) error
	LoadState(ctx context.Context) (Checkpoint, bool, error)
}

// Checkpointer periodically writes dirty store state to a Repository.
type Checkpointer struct {
	store    *Store
	repo     Repository
	logger   *slog.Logger
	interval time.Duration

	failedFlushes atomic.Int64

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context // set by Drain so the final flush respects the caller's deadline
}

// NewCheckpointer creates a checkpointer for store.
func NewCheckpointer(store *Store, repo Repository, logger *slog.Logger, interval time.Duration) *Checkpointer {
	return &Checkpointer{
		store:    store,
		repo:     repo,
		logger:   logger,
		interval: interval,
		flushCh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Load restores the store from the repository, if a checkpoint exists.
func (c *Checkpointer) Load(ctx context.Context) error {
	cp, ok, err := c.repo.LoadState(ctx)
	if err != nil {
		return err
	}
	if ok {
		c.store.Restore(cp)
		c.logger.Info("state: restored checkpoint", "cells", len(cp.Cells))
	}
	return nil
}

// Start begins the background flush loop. Call Drain to stop.
func (c *Checkpointer) Start(ctx context.Context) {
	c.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancelLoop = cancel
	go c.flushLoop(loopCtx)
}

// Flush requests an immediate checkpoint without waiting for it.
func (c *Checkpointer) Flush() {
	select {
	case c.flushCh <- struct{}{}:
	default:
	}
}

func (c *Checkpointer) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if c.drainCtx != nil {
				c.flush(c.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				c.flush(fallbackCtx)
				cancel()
			}
			close(c.done)
			return
		case <-ticker.C:
			c.flush(ctx)
		case <-c.flushCh:
			c.flush(ctx)
		}
	}
}

func (c *Checkpointer) flush(ctx context.Context) {
	cp, dirty := c.store.TakeCheckpoint()
	if !dirty {
		return
	}
	start := time.Now()
	if err := c.repo.SaveState(ctx, cp); err != nil {
		c.failedFlushes.Add(1)
		c.store.MarkDirty()
		c.logger.Error("state: checkpoint failed", "error", err)
		return
	}
	c.logger.Debug("state: checkpoint written", "flush_duration_ms", time.Since(start).Milliseconds())
}

// Drain stops the flush loop after a final flush. ctx bounds the wait and
// the final write.
func (c *Checkpointer) Drain(ctx context.Context) {
	c.drainCtx = ctx
	if c.cancelLoop != nil {
		c.cancelLoop()
	} else {
		c.flush(ctx)
		return
	}
	select {
	case <-c.done:
	case <-ctx.Done():
		c.logger.Warn("state: drain timed out waiting for checkpoint loop")
	}
}

func (c *Checkpointer) registerMetrics() {
	meter := telemetry.Meter("warecell/state")

	_, _ = meter.Int64ObservableCounter("warecell.state.checkpoint_failures",
		metric.WithDescription("Checkpoint writes that failed and were retried later"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(c.failedFlushes.Load())
			return nil
		}),
	)
}
