// Package operations dispatches commands to the device and keeps the audit
// trail of every dispatch. At most one command is in flight at a time.
package operations

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/warecell/internal/ctxutil"
	"github.com/ashita-ai/warecell/internal/model"
	"github.com/ashita-ai/warecell/internal/telemetry"
)

// List limits for Recent.
const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

// StatusCommand is the status poll understood by the device.
const StatusCommand = "GET_STATUS"

var tracer = telemetry.Tracer("warecell/operations")

// Repository persists operation records.
type Repository interface {
	CreateOperation(ctx context.Context, op *model.Operation) error
	UpdateOperation(ctx context.Context, op model.Operation) error
	GetOperation(ctx context.Context, id int64) (model.Operation, error)
	ListOperations(ctx context.Context, limit int) ([]model.Operation, error)
}

// Sender is the device link.
type Sender interface {
	Registered() bool
	Send(ctx context.Context, cmd string) (string, error)
}

// Effects is the part of the state store that command outcomes mutate.
type Effects interface {
	Cell(id int64) (model.Cell, error)
	OccupyCell(id int64, productID *int64, quantity int) (model.Cell, error)
	EmptyCell(id int64) (model.Cell, error)
	MoveCellToLoadingZone(id int64, productID *int64) (model.Cell, model.LoadingZone, error)
	BeginLoadingZoneWork() model.LoadingZoneStatus
	EndLoadingZoneWork(prev model.LoadingZoneStatus)
}

// ProductLookup checks that a referenced product exists.
type ProductLookup interface {
	GetProduct(ctx context.Context, id int64) (model.Product, error)
}

// Publisher receives operation updates.
type Publisher interface {
	Publish(eventType model.EventType, data any)
}

// Request describes one command submission.
type Request struct {
	Kind      model.OperationKind
	Command   string
	CellID    *int64
	ProductID *int64
	Priority  model.OperationPriority
}

// Tracker owns the dispatch lock and the operation lifecycle.
type Tracker struct {
	repo         Repository
	link         Sender
	effects      Effects
	products     ProductLookup
	pub          Publisher
	logger       *slog.Logger
	dispatchWait time.Duration
	now          func() time.Time

	lock chan struct{} // dispatch lock, capacity 1

	mu      sync.Mutex
	current *model.Operation

	submitted metric.Int64Counter
	durations metric.Float64Histogram
}

// New creates a Tracker. dispatchWait bounds how long a submission waits
// for the in-flight command before failing with model.ErrBusy.
func New(repo Repository, link Sender, effects Effects, products ProductLookup, pub Publisher, logger *slog.Logger, dispatchWait time.Duration) *Tracker {
	t := &Tracker{
		repo:         repo,
		link:         link,
		effects:      effects,
		products:     products,
		pub:          pub,
		logger:       logger,
		dispatchWait: dispatchWait,
		now:          func() time.Time { return time.Now().UTC() },
		lock:         make(chan struct{}, 1),
	}
	meter := telemetry.Meter("warecell/operations")
	t.submitted, _ = meter.Int64Counter("warecell.operations.total",
		metric.WithDescription("Operations reaching a terminal status"))
	t.durations, _ = meter.Float64Histogram("warecell.operations.duration",
		metric.WithDescription("Device round-trip time per operation"),
		metric.WithUnit("ms"))
	return t
}

func (t *Tracker) acquire(ctx context.Context) error {
	select {
	case t.lock <- struct{}{}:
		return nil
	default:
	}
	if t.dispatchWait <= 0 {
		return model.ErrBusy
	}
	timer := time.NewTimer(t.dispatchWait)
	defer timer.Stop()
	select {
	case t.lock <- struct{}{}:
		return nil
	case <-timer.C:
		return model.ErrBusy
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", model.ErrBusy, ctx.Err())
	}
}

func (t *Tracker) tryAcquire() bool {
	select {
	case t.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (t *Tracker) release() { <-t.lock }

// validate rejects malformed requests before anything touches the device.
func (t *Tracker) validate(ctx context.Context, req *Request) error {
	if req.Kind == "" {
		req.Kind = model.OpManual
	}
	if req.Priority == "" {
		req.Priority = model.OpPriorityMedium
	}
	if err := model.ValidateCommand(req.Command); err != nil {
		return err
	}
	if req.CellID != nil {
		if _, err := t.effects.Cell(*req.CellID); err != nil {
			return err
		}
	}
	if req.ProductID != nil && t.products != nil {
		if _, err := t.products.GetProduct(ctx, *req.ProductID); err != nil {
			return err
		}
	}
	if model.IsPassThrough(req.Command) {
		return nil
	}
	switch req.Kind {
	case model.OpPlace:
		if req.CellID == nil || req.ProductID == nil {
			return fmt.Errorf("%w: %s requires cell_id and product_id", model.ErrInvalidCommand, req.Kind)
		}
	case model.OpTake, model.OpMoveToLoading, model.OpAutoRetrieve:
		if req.CellID == nil {
			return fmt.Errorf("%w: %s requires cell_id", model.ErrInvalidCommand, req.Kind)
		}
	}
	return nil
}

// Submit validates req, dispatches it and returns the terminal record. When
// the device fails, the ERROR record is returned together with an error
// matching model.ErrTransport. Validation, registration and busy failures
// create no record.
func (t *Tracker) Submit(ctx context.Context, req Request) (model.Operation, error) {
	ctx, span := tracer.Start(ctx, "operations.submit")
	defer span.End()
	surface := ctxutil.SurfaceFromContext(ctx)
	span.SetAttributes(
		attribute.String("warecell.operation.kind", string(req.Kind)),
		attribute.String("warecell.command", req.Command),
		attribute.String("warecell.surface", string(surface)),
	)

	if err := t.validate(ctx, &req); err != nil {
		return model.Operation{}, fmt.Errorf("operations: submit: %w", err)
	}
	if !t.link.Registered() {
		return model.Operation{}, fmt.Errorf("operations: submit: %w", model.ErrNotRegistered)
	}
	if err := t.acquire(ctx); err != nil {
		return model.Operation{}, fmt.Errorf("operations: submit: %w", err)
	}
	defer t.release()

	// The device exchange is never aborted mid-flight; its own timeout bounds it.
	dctx := context.WithoutCancel(ctx)

	op := model.Operation{
		Kind:      req.Kind,
		Command:   req.Command,
		CellID:    req.CellID,
		ProductID: req.ProductID,
		Priority:  req.Priority,
		Status:    model.OpPending,
		CreatedAt: t.now(),
	}
	if err := t.repo.CreateOperation(dctx, &op); err != nil {
		return model.Operation{}, fmt.Errorf("operations: create record: %w", err)
	}
	span.SetAttributes(attribute.Int64("warecell.operation.id", op.ID))
	t.publish(op)

	if err := ctx.Err(); err != nil {
		_ = op.Transition(model.OpCancelled, t.now())
		op.ErrorMessage = ptr("cancelled before dispatch")
		t.finish(dctx, op)
		return op, fmt.Errorf("operations: submit: %w", err)
	}

	if err := op.Transition(model.OpProcessing, t.now()); err != nil {
		return op, fmt.Errorf("operations: submit: %w", err)
	}
	if err := t.repo.UpdateOperation(dctx, op); err != nil {
		t.logger.Error("operations: persist processing", "error", err, "operation_id", op.ID)
	}
	t.setCurrent(&op)
	t.publish(op)

	lzPrev, lzBusy := model.LoadingZoneStatus(""), model.TargetsLoadingZone(op.Kind, op.Command)
	if lzBusy {
		lzPrev = t.effects.BeginLoadingZoneWork()
	}

	resp, sendErr := t.link.Send(dctx, op.Command)
	if sendErr != nil {
		_ = op.Transition(model.OpError, t.now())
		op.ErrorMessage = ptr(sendErr.Error())
	} else {
		_ = op.Transition(model.OpCompleted, t.now())
		op.Response = &resp
		if !model.IsPassThrough(op.Command) {
			if err := t.applyEffects(op); err != nil {
				t.logger.Error("operations: apply effects", "error", err, "operation_id", op.ID)
			}
		}
	}
	if lzBusy {
		t.effects.EndLoadingZoneWork(lzPrev)
	}

	t.setCurrent(nil)
	t.finish(dctx, op)

	if sendErr != nil {
		span.RecordError(sendErr)
		t.logger.Warn("operation failed", "operation_id", op.ID, "command", op.Command,
			"surface", surface, "request_id", ctxutil.RequestIDFromContext(ctx), "error", sendErr)
		return op, fmt.Errorf("operations: dispatch %q: %w", op.Command, sendErr)
	}
	t.logger.Info("operation completed", "operation_id", op.ID, "command", op.Command,
		"surface", surface, "request_id", ctxutil.RequestIDFromContext(ctx), "duration_ms", deref(op.DurationMS))
	return op, nil
}

func (t *Tracker) applyEffects(op model.Operation) error {
	if op.CellID == nil {
		return nil
	}
	var err error
	switch op.Kind {
	case model.OpPlace:
		_, err = t.effects.OccupyCell(*op.CellID, op.ProductID, 1)
	case model.OpTake, model.OpAutoRetrieve:
		_, err = t.effects.EmptyCell(*op.CellID)
	case model.OpMoveToLoading:
		_, _, err = t.effects.MoveCellToLoadingZone(*op.CellID, op.ProductID)
	}
	return err
}

func (t *Tracker) finish(ctx context.Context, op model.Operation) {
	if err := t.repo.UpdateOperation(ctx, op); err != nil {
		t.logger.Error("operations: persist terminal status", "error", err, "operation_id", op.ID)
	}
	t.publish(op)
	attrs := metric.WithAttributes(
		attribute.String("kind", string(op.Kind)),
		attribute.String("status", string(op.Status)),
	)
	t.submitted.Add(ctx, 1, attrs)
	if op.DurationMS != nil {
		t.durations.Record(ctx, float64(*op.DurationMS), attrs)
	}
}

func (t *Tracker) publish(op model.Operation) {
	if t.pub != nil {
		t.pub.Publish(model.EventOperationUpdate, op)
	}
}

func (t *Tracker) setCurrent(op *model.Operation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if op == nil {
		t.current = nil
		return
	}
	c := *op
	t.current = &c
}

// Current returns the in-flight operation, if any.
func (t *Tracker) Current() (model.Operation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return model.Operation{}, false
	}
	return *t.current, true
}

// Signal sends a control command (mode or strategy change) under the
// dispatch lock without creating an operation record.
func (t *Tracker) Signal(ctx context.Context, cmd string) (string, error) {
	if err := model.ValidateCommand(cmd); err != nil {
		return "", fmt.Errorf("operations: signal: %w", err)
	}
	if !t.link.Registered() {
		return "", fmt.Errorf("operations: signal: %w", model.ErrNotRegistered)
	}
	if err := t.acquire(ctx); err != nil {
		return "", fmt.Errorf("operations: signal: %w", err)
	}
	defer t.release()
	resp, err := t.link.Send(context.WithoutCancel(ctx), cmd)
	if err != nil {
		return "", fmt.Errorf("operations: signal %q: %w", cmd, err)
	}
	return resp, nil
}

// Probe sends the status poll when the device is registered and no
// command is in flight. sent is false when the poll was skipped.
func (t *Tracker) Probe(ctx context.Context) (resp string, sent bool, err error) {
	if !t.link.Registered() || !t.tryAcquire() {
		return "", false, nil
	}
	defer t.release()
	resp, err = t.link.Send(ctx, StatusCommand)
	if err != nil {
		return "", true, fmt.Errorf("operations: probe: %w", err)
	}
	return resp, true, nil
}

// Get returns one operation record.
func (t *Tracker) Get(ctx context.Context, id int64) (model.Operation, error) {
	op, err := t.repo.GetOperation(ctx, id)
	if err != nil {
		return model.Operation{}, fmt.Errorf("operations: get %d: %w", id, err)
	}
	return op, nil
}

// Recent returns the newest operations first. limit is clamped to
// [1, MaxListLimit]; zero or negative means DefaultListLimit.
func (t *Tracker) Recent(ctx context.Context, limit int) ([]model.Operation, error) {
	ops, err := t.repo.ListOperations(ctx, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("operations: list: %w", err)
	}
	return ops, nil
}

// ClampLimit applies the list limit policy.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

func ptr[T any](v T) *T { return &v }

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
