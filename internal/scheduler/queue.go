// Package scheduler runs queued autonomous tasks one at a time, highest
// priority first, through the operation tracker.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/warecell/internal/model"
	"github.com/ashita-ai/warecell/internal/telemetry"
)

// Repository persists tasks.
type Repository interface {
	CreateTask(ctx context.Context, t *model.Task) error
	UpdateTask(ctx context.Context, t model.Task) error
	GetTask(ctx context.Context, id int64) (model.Task, error)
	ListTasks(ctx context.Context, filter model.TaskFilter) ([]model.Task, error)
}

// Publisher receives task updates.
type Publisher interface {
	Publish(eventType model.EventType, data any)
}

// restartMessage is recorded on tasks found mid-flight at startup.
const restartMessage = "interrupted by restart"

// Queue holds pending tasks in selection order and writes every transition
// through to the repository.
type Queue struct {
	repo   Repository
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	pending    taskHeap
	byID       map[int64]*entry
	processing map[int64]model.Task
	onEnqueue  func()
}

// NewQueue creates an empty queue. Call Load to pick up persisted tasks.
func NewQueue(repo Repository, pub Publisher, logger *slog.Logger) *Queue {
	return &Queue{
		repo:       repo,
		pub:        pub,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		byID:       make(map[int64]*entry),
		processing: make(map[int64]model.Task),
	}
}

// OnEnqueue registers fn to run after each successful Enqueue.
func (q *Queue) OnEnqueue(fn func()) {
	q.mu.Lock()
	q.onEnqueue = fn
	q.mu.Unlock()
}

// Load restores PENDING tasks from the repository. Tasks left PROCESSING
// by a previous run are marked FAILED; they are never re-queued.
func (q *Queue) Load(ctx context.Context) error {
	processing := model.TaskProcessing
	stale, err := q.repo.ListTasks(ctx, model.TaskFilter{Status: &processing})
	if err != nil {
		return fmt.Errorf("scheduler: load processing tasks: %w", err)
	}
	for _, t := range stale {
		now := q.now()
		t.Status = model.TaskFailed
		t.CompletedAt = &now
		t.ErrorMessage = restartMessage
		if err := q.repo.UpdateTask(ctx, t); err != nil {
			return fmt.Errorf("scheduler: fail stale task %d: %w", t.ID, err)
		}
		q.logger.Warn("scheduler: task interrupted by restart", "task_id", t.ID)
	}

	pendingStatus := model.TaskPending
	pending, err := q.repo.ListTasks(ctx, model.TaskFilter{Status: &pendingStatus})
	if err != nil {
		return fmt.Errorf("scheduler: load pending tasks: %w", err)
	}
	q.mu.Lock()
	for i := range pending {
		q.pushLocked(pending[i])
	}
	q.mu.Unlock()
	q.logger.Info("scheduler: queue loaded", "pending", len(pending), "failed_stale", len(stale))
	return nil
}

// Enqueue stores t as PENDING and makes it eligible for selection.
func (q *Queue) Enqueue(ctx context.Context, t model.Task) (model.Task, error) {
	if t.Priority == "" {
		t.Priority = model.TaskPriorityMedium
	}
	if t.Quantity <= 0 {
		t.Quantity = 1
	}
	t.Status = model.TaskPending
	t.CreatedAt = q.now()
	t.StartedAt, t.CompletedAt, t.OperationID = nil, nil, nil
	t.ErrorMessage = ""

	if err := q.repo.CreateTask(ctx, &t); err != nil {
		return model.Task{}, fmt.Errorf("scheduler: enqueue: %w", err)
	}

	q.mu.Lock()
	q.pushLocked(t)
	fn := q.onEnqueue
	q.mu.Unlock()

	q.publish(t)
	if fn != nil {
		fn()
	}
	return t, nil
}

// Next removes the best PENDING task and marks it PROCESSING. ok is false
// when the queue is empty.
func (q *Queue) Next(ctx context.Context) (model.Task, bool, error) {
	q.mu.Lock()
	if q.pending.Len() == 0 {
		q.mu.Unlock()
		return model.Task{}, false, nil
	}
	e := heap.Pop(&q.pending).(*entry)
	delete(q.byID, e.task.ID)
	t := e.task
	now := q.now()
	t.Status = model.TaskProcessing
	t.StartedAt = &now
	q.processing[t.ID] = t
	q.mu.Unlock()

	if err := q.repo.UpdateTask(ctx, t); err != nil {
		q.logger.Error("scheduler: persist processing", "error", err, "task_id", t.ID)
	}
	q.publish(t)
	return t, true, nil
}

// Complete marks a PROCESSING task COMPLETED.
func (q *Queue) Complete(ctx context.Context, id int64, operationID *int64) (model.Task, error) {
	return q.finish(ctx, id, model.TaskCompleted, operationID, "")
}

// Fail marks a PROCESSING task FAILED with msg.
func (q *Queue) Fail(ctx context.Context, id int64, operationID *int64, msg string) (model.Task, error) {
	return q.finish(ctx, id, model.TaskFailed, operationID, msg)
}

func (q *Queue) finish(ctx context.Context, id int64, status model.TaskStatus, operationID *int64, msg string) (model.Task, error) {
	q.mu.Lock()
	t, ok := q.processing[id]
	if !ok {
		q.mu.Unlock()
		return model.Task{}, fmt.Errorf("scheduler: task %d is not processing: %w", id, model.ErrInvalidState)
	}
	delete(q.processing, id)
	q.mu.Unlock()

	now := q.now()
	t.Status = status
	t.CompletedAt = &now
	t.OperationID = operationID
	t.ErrorMessage = msg
	if err := q.repo.UpdateTask(ctx, t); err != nil {
		q.logger.Error("scheduler: persist terminal status", "error", err, "task_id", t.ID)
	}
	q.publish(t)
	return t, nil
}

// Cancel cancels a PENDING task. Tasks that already started cannot be
// cancelled.
func (q *Queue) Cancel(ctx context.Context, id int64) (model.Task, error) {
	q.mu.Lock()
	e, ok := q.byID[id]
	if ok {
		heap.Remove(&q.pending, e.index)
		delete(q.byID, id)
	}
	q.mu.Unlock()

	if !ok {
		t, err := q.repo.GetTask(ctx, id)
		if err != nil {
			return model.Task{}, fmt.Errorf("scheduler: cancel task %d: %w", id, err)
		}
		return model.Task{}, fmt.Errorf("scheduler: cancel task %d in status %s: %w", id, t.Status, model.ErrInvalidState)
	}

	t := e.task
	now := q.now()
	t.Status = model.TaskCancelled
	t.CompletedAt = &now
	if err := q.repo.UpdateTask(ctx, t); err != nil {
		// Still PENDING in storage, so it stays selectable.
		q.mu.Lock()
		q.pushLocked(e.task)
		q.mu.Unlock()
		return model.Task{}, fmt.Errorf("scheduler: cancel task %d: %w", id, err)
	}
	q.publish(t)
	return t, nil
}

// Get returns one task.
func (q *Queue) Get(ctx context.Context, id int64) (model.Task, error) {
	t, err := q.repo.GetTask(ctx, id)
	if err != nil {
		return model.Task{}, fmt.Errorf("scheduler: get task %d: %w", id, err)
	}
	return t, nil
}

// List returns tasks matching filter, newest first.
func (q *Queue) List(ctx context.Context, filter model.TaskFilter) ([]model.Task, error) {
	tasks, err := q.repo.ListTasks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list tasks: %w", err)
	}
	return tasks, nil
}

// Pending returns the number of tasks waiting for selection.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// RegisterMetrics exposes the queue depth gauge.
func (q *Queue) RegisterMetrics() {
	meter := telemetry.Meter("warecell/scheduler")
	_, _ = meter.Int64ObservableGauge("warecell.scheduler.pending",
		metric.WithDescription("Tasks waiting for selection"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(q.Pending()))
			return nil
		}),
	)
}

func (q *Queue) pushLocked(t model.Task) {
	e := &entry{task: t}
	heap.Push(&q.pending, e)
	q.byID[t.ID] = e
}

func (q *Queue) publish(t model.Task) {
	if q.pub != nil {
		q.pub.Publish(model.EventTaskUpdate, t)
	}
}

type entry struct {
	task  model.Task
	index int
}

// taskHeap orders entries with model.TaskBefore.
type taskHeap []*entry

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return model.TaskBefore(&h[i].task, &h[j].task) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
