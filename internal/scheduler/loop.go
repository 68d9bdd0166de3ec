package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/warecell/internal/ctxutil"
	"github.com/ashita-ai/warecell/internal/model"
	"github.com/ashita-ai/warecell/internal/operations"
	"github.com/ashita-ai/warecell/internal/telemetry"
)

// Dispatcher submits operations to the device.
type Dispatcher interface {
	Submit(ctx context.Context, req operations.Request) (model.Operation, error)
}

// CellLookup resolves grid positions.
type CellLookup interface {
	Cell(id int64) (model.Cell, error)
}

// ProductLookup resolves product identification tags.
type ProductLookup interface {
	GetProduct(ctx context.Context, id int64) (model.Product, error)
}

// Result describes one RunOnce cycle.
type Result struct {
	Ran       bool // a task was selected
	NoOp      bool // the task had no device command
	Task      model.Task
	Operation *model.Operation
}

// Loop drives the queue while armed. Cycles run strictly one after another
// with a settle delay between them.
type Loop struct {
	queue      *Queue
	dispatcher Dispatcher
	cells      CellLookup
	products   ProductLookup
	logger     *slog.Logger
	settle     time.Duration
	noopSettle time.Duration

	armed atomic.Bool
	wake  chan struct{}

	finished metric.Int64Counter
}

// NewLoop creates a disarmed loop.
func NewLoop(queue *Queue, dispatcher Dispatcher, cells CellLookup, products ProductLookup, logger *slog.Logger, settle, noopSettle time.Duration) *Loop {
	l := &Loop{
		queue:      queue,
		dispatcher: dispatcher,
		cells:      cells,
		products:   products,
		logger:     logger,
		settle:     settle,
		noopSettle: noopSettle,
		wake:       make(chan struct{}, 1),
	}
	l.finished, _ = telemetry.Meter("warecell/scheduler").Int64Counter("warecell.scheduler.tasks",
		metric.WithDescription("Tasks finished by the scheduler loop"))
	queue.OnEnqueue(l.Wake)
	return l
}

// Arm lets the loop select tasks.
func (l *Loop) Arm() {
	if !l.armed.Swap(true) {
		l.logger.Info("scheduler: armed", "pending", l.queue.Pending())
	}
	l.Wake()
}

// Disarm stops selection after the in-flight task, if any, finishes.
func (l *Loop) Disarm() {
	if l.armed.Swap(false) {
		l.logger.Info("scheduler: disarmed")
	}
}

// Armed reports whether the loop selects tasks.
func (l *Loop) Armed() bool { return l.armed.Load() }

// Wake nudges an idle loop to look at the queue again.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if !l.armed.Load() {
			if !l.idle(ctx) {
				return nil
			}
			continue
		}

		res, err := l.RunOnce(ctx)
		if err != nil {
			l.logger.Error("scheduler: cycle failed", "error", err)
		}
		if !res.Ran {
			if !l.idle(ctx) {
				return nil
			}
			continue
		}

		delay := l.settle
		if res.NoOp {
			delay = l.noopSettle
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (l *Loop) idle(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-l.wake:
		return true
	}
}

// RunOnce selects one task and runs it to a terminal status. A device or
// validation failure marks the task FAILED; it is never returned as an
// error so the next cycle proceeds.
func (l *Loop) RunOnce(ctx context.Context) (Result, error) {
	task, ok, err := l.queue.Next(ctx)
	if err != nil || !ok {
		return Result{}, err
	}
	res := Result{Ran: true, Task: task}

	req, ok := l.command(ctx, task)
	if !ok {
		res.NoOp = true
		res.Task, err = l.queue.Complete(ctx, task.ID, nil)
		l.record(ctx, res.Task)
		l.logger.Info("scheduler: task has no device command", "task_id", task.ID, "type", task.Type)
		return res, err
	}

	op, subErr := l.dispatcher.Submit(ctxutil.WithSurface(ctx, ctxutil.SurfaceScheduler), req)
	var opID *int64
	if op.ID != 0 {
		id := op.ID
		opID = &id
		res.Operation = &op
	}
	if subErr != nil {
		res.Task, err = l.queue.Fail(ctx, task.ID, opID, subErr.Error())
		l.logger.Warn("scheduler: task failed", "task_id", task.ID, "command", req.Command, "error", subErr)
	} else {
		res.Task, err = l.queue.Complete(ctx, task.ID, opID)
		l.logger.Info("scheduler: task completed", "task_id", task.ID, "command", req.Command)
	}
	l.record(ctx, res.Task)
	return res, err
}

func (l *Loop) record(ctx context.Context, t model.Task) {
	l.finished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(t.Type)),
		attribute.String("status", string(t.Status)),
	))
}

// command derives the device command for a task. ok is false when the
// task type has no command or its references cannot be resolved.
func (l *Loop) command(ctx context.Context, t model.Task) (operations.Request, bool) {
	req := operations.Request{
		CellID:    t.CellID,
		ProductID: t.ProductID,
		Priority:  operationPriority(t.Priority),
	}
	switch t.Type {
	case model.TaskStock:
		tag := ""
		if t.ProductTag != nil {
			tag = strings.TrimSpace(*t.ProductTag)
		}
		if tag == "" && t.ProductID != nil && l.products != nil {
			p, err := l.products.GetProduct(ctx, *t.ProductID)
			if err == nil && p.Tag != nil {
				tag = *p.Tag
			}
		}
		if tag == "" {
			return req, false
		}
		req.Kind = model.OpAutoStock
		req.Command = "AUTO_STOCK:" + tag
		return req, true

	case model.TaskRetrieve:
		if t.CellID == nil {
			return req, false
		}
		c, err := l.cells.Cell(*t.CellID)
		if err != nil {
			return req, false
		}
		req.Kind = model.OpAutoRetrieve
		req.Command = fmt.Sprintf("TAKE %d %d", c.Column, c.Row)
		return req, true

	case model.TaskLoadingZoneOp:
		req.Kind = model.OpLoadingZone
		req.Command = "CHECK_LOADING"
		if t.Action != nil && strings.TrimSpace(*t.Action) != "" {
			req.Command = strings.TrimSpace(*t.Action)
		}
		return req, true

	default:
		return req, false
	}
}

func operationPriority(p model.TaskPriority) model.OperationPriority {
	switch p {
	case model.TaskPriorityUrgent, model.TaskPriorityHigh:
		return model.OpPriorityHigh
	case model.TaskPriorityLow:
		return model.OpPriorityLow
	default:
		return model.OpPriorityMedium
	}
}
