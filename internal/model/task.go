package model

import (
	"fmt"
	"strings"
	"time"
)

// TaskType is the kind of autonomous work a task describes.
type TaskType string

const (
	TaskStock          TaskType = "STOCK"
	TaskRetrieve       TaskType = "RETRIEVE"
	TaskMove           TaskType = "MOVE"
	TaskOrganize       TaskType = "ORGANIZE"
	TaskInventoryCheck TaskType = "INVENTORY_CHECK"
	TaskLoadingZoneOp  TaskType = "LOADING_ZONE_OP"
)

// ParseTaskType resolves a task type name.
func ParseTaskType(s string) (TaskType, error) {
	switch t := TaskType(strings.ToUpper(strings.TrimSpace(s))); t {
	case TaskStock, TaskRetrieve, TaskMove, TaskOrganize, TaskInventoryCheck, TaskLoadingZoneOp:
		return t, nil
	case "LOADING_ZONE_OPERATION":
		return TaskLoadingZoneOp, nil
	default:
		return "", fmt.Errorf("%w: unknown task type %q", ErrInvalidCommand, s)
	}
}

// TaskPriority orders the autonomous queue.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "LOW"
	TaskPriorityMedium TaskPriority = "MEDIUM"
	TaskPriorityHigh   TaskPriority = "HIGH"
	TaskPriorityUrgent TaskPriority = "URGENT"
)

// Rank returns the selection rank; lower runs first. Unknown priorities
// sort after LOW.
func (p TaskPriority) Rank() int {
	switch p {
	case TaskPriorityUrgent:
		return 1
	case TaskPriorityHigh:
		return 2
	case TaskPriorityMedium:
		return 3
	case TaskPriorityLow:
		return 4
	default:
		return 5
	}
}

// ParseTaskPriority defaults to MEDIUM when s is empty.
func ParseTaskPriority(s string) (TaskPriority, error) {
	p := TaskPriority(strings.ToUpper(strings.TrimSpace(s)))
	if p == "" {
		return TaskPriorityMedium, nil
	}
	if p.Rank() > 4 {
		return "", fmt.Errorf("%w: unknown task priority %q", ErrInvalidCommand, s)
	}
	return p, nil
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskCancelled  TaskStatus = "CANCELLED"
)

// Terminal reports whether the task can no longer change.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// ParseTaskStatus resolves a status filter value.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch st := TaskStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case TaskPending, TaskProcessing, TaskCompleted, TaskFailed, TaskCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown task status %q", ErrInvalidCommand, s)
	}
}

// Task is a unit of autonomous work consumed by the scheduler exactly once.
type Task struct {
	ID              int64           `json:"id"`
	Type            TaskType        `json:"type"`
	CellID          *int64          `json:"cell_id,omitempty"`
	ProductID       *int64          `json:"product_id,omitempty"`
	ProductTag      *string         `json:"product_tag,omitempty"`
	Action          *string         `json:"action,omitempty"`
	Quantity        int             `json:"quantity"`
	Priority        TaskPriority    `json:"priority"`
	Status          TaskStatus      `json:"status"`
	StorageStrategy StorageStrategy `json:"storage_strategy"`
	OperationID     *int64          `json:"operation_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
}

// TaskBefore reports whether a should be selected before b:
// rank, then creation time, then id.
func TaskBefore(a, b *Task) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra < rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// TaskFilter narrows List results.
type TaskFilter struct {
	Status *TaskStatus
	Limit  int
}
