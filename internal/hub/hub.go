// Package hub fans state changes out to connected observers.
//
// Each observer owns a buffered channel of encoded events. Publishing never
// blocks: an observer whose buffer is full misses that event and heals on
// the next periodic snapshot. Events carry a global sequence number assigned
// under the hub lock, so every observer sees them in publish order.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/warecell/internal/model"
	"github.com/ashita-ai/warecell/internal/telemetry"
)

// Source produces full snapshots. View must call fn while holding whatever
// lock serializes state mutations, so no delta can be published between
// the snapshot and an observer's registration.
type Source interface {
	View(fn func(model.Snapshot))
}

// Config tunes the hub.
type Config struct {
	BufferSize       int
	SnapshotInterval time.Duration
	OriginPatterns   []string
}

// Observer is one connected client.
type Observer struct {
	ID      string
	ch      chan []byte
	dropped atomic.Int64
	closed  bool // guarded by Hub.mu
}

// Events returns the observer's outbound stream. It is closed on Unsubscribe.
func (o *Observer) Events() <-chan []byte { return o.ch }

// Dropped returns how many events were skipped because the buffer was full.
func (o *Observer) Dropped() int64 { return o.dropped.Load() }

// Hub is the observer registry.
type Hub struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	srcMu  sync.RWMutex
	source Source

	mu        sync.Mutex
	seq       uint64
	observers map[*Observer]struct{}
}

// New creates a hub. Call SetSource before observers connect.
func New(cfg Config, logger *slog.Logger) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 3 * time.Second
	}
	return &Hub{
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		observers: make(map[*Observer]struct{}),
	}
}

// SetSource wires the snapshot producer. The state store publishes into the
// hub, so the two are connected after both exist.
func (h *Hub) SetSource(src Source) {
	h.srcMu.Lock()
	h.source = src
	h.srcMu.Unlock()
}

func (h *Hub) getSource() Source {
	h.srcMu.RLock()
	defer h.srcMu.RUnlock()
	return h.source
}

// Publish assigns the next sequence number to an event and offers it to
// every observer.
func (h *Hub) Publish(eventType model.EventType, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	msg, err := h.encode(eventType, h.seq, data)
	if err != nil {
		h.logger.Error("hub: encode event", "type", eventType, "error", err)
		return
	}
	for o := range h.observers {
		select {
		case o.ch <- msg:
		default:
			o.dropped.Add(1)
		}
	}
}

func (h *Hub) encode(eventType model.EventType, seq uint64, data any) ([]byte, error) {
	return json.Marshal(model.Event{
		Type:      eventType,
		Seq:       seq,
		Timestamp: h.now(),
		Data:      data,
	})
}

// Subscribe registers a new observer whose first event is a full snapshot.
// The snapshot carries the current sequence number, so the next delta the
// observer receives has seq+1.
func (h *Hub) Subscribe() *Observer {
	o := &Observer{ID: uuid.New().String(), ch: make(chan []byte, h.cfg.BufferSize)}
	register := func(snap *model.Snapshot) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.observers[o] = struct{}{}
		if snap == nil {
			return
		}
		msg, err := h.encode(model.EventSnapshot, h.seq, snap)
		if err != nil {
			h.logger.Error("hub: encode snapshot", "error", err)
			return
		}
		o.ch <- msg // the buffer is empty and has room for at least one
	}
	if src := h.getSource(); src != nil {
		src.View(func(snap model.Snapshot) { register(&snap) })
	} else {
		register(nil)
	}
	h.logger.Debug("hub: observer connected", "observer_id", o.ID)
	return o
}

// Unsubscribe removes o and closes its channel. It is safe to call twice.
func (h *Hub) Unsubscribe(o *Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	delete(h.observers, o)
	close(o.ch)
	h.logger.Debug("hub: observer disconnected", "observer_id", o.ID, "dropped", o.dropped.Load())
}

// Resync sends a fresh snapshot to o alone.
func (h *Hub) Resync(o *Observer) {
	src := h.getSource()
	if src == nil {
		return
	}
	src.View(func(snap model.Snapshot) { h.direct(o, model.EventSnapshot, snap) })
}

// direct sends an event to one observer without consuming a sequence number.
func (h *Hub) direct(o *Observer, eventType model.EventType, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if o.closed {
		return
	}
	msg, err := h.encode(eventType, h.seq, data)
	if err != nil {
		h.logger.Error("hub: encode event", "type", eventType, "error", err)
		return
	}
	select {
	case o.ch <- msg:
	default:
		o.dropped.Add(1)
	}
}

// PublishSnapshot broadcasts the full state.
func (h *Hub) PublishSnapshot() {
	src := h.getSource()
	if src == nil {
		return
	}
	src.View(func(snap model.Snapshot) { h.Publish(model.EventSnapshot, snap) })
}

// Count returns the number of connected observers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// Run publishes a full snapshot every SnapshotInterval until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	h.registerMetrics()
	ticker := time.NewTicker(h.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.PublishSnapshot()
		}
	}
}

func (h *Hub) registerMetrics() {
	meter := telemetry.Meter("warecell/hub")
	_, _ = meter.Int64ObservableGauge("warecell.hub.observers",
		metric.WithDescription("Connected observers"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(h.Count()))
			return nil
		}),
	)
}
