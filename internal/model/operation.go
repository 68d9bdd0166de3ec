// Package model defines the domain types for the warehouse cell control plane.
//
// Types map onto storage rows and observer event payloads. Enumerations are
// string types so they serialize as their wire names.
package model

import (
	"fmt"
	"strings"
	"time"
)

// OperationKind names what a dispatched command is meant to do.
type OperationKind string

const (
	OpHome            OperationKind = "HOME"
	OpPick            OperationKind = "PICK"
	OpPlace           OperationKind = "PLACE"
	OpTake            OperationKind = "TAKE"
	OpGotoColumn      OperationKind = "GOTO_COLUMN"
	OpMoveToLoading   OperationKind = "MOVE_TO_LOADING"
	OpReturnToLoading OperationKind = "RETURN_TO_LOADING"
	OpManual          OperationKind = "MANUAL"
	OpAutoStock       OperationKind = "AUTO_STOCK"
	OpAutoRetrieve    OperationKind = "AUTO_RETRIEVE"
	OpLoadingZone     OperationKind = "LOADING_ZONE_OP"
	OpConveyorManual  OperationKind = "CONVEYOR_MANUAL"
)

var operationKinds = map[string]OperationKind{
	"HOME":              OpHome,
	"PICK":              OpPick,
	"PLACE":             OpPlace,
	"TAKE":              OpTake,
	"GOTO_COLUMN":       OpGotoColumn,
	"MOVE_TO_LOADING":   OpMoveToLoading,
	"RETURN_TO_LOADING": OpReturnToLoading,
	"MANUAL":            OpManual,
	"AUTO_STOCK":        OpAutoStock,
	"AUTO_RETRIEVE":     OpAutoRetrieve,
	"LOADING_ZONE_OP":   OpLoadingZone,
	"CONVEYOR_MANUAL":   OpConveyorManual,

	// Names used by older dashboards.
	"PICK_FROM_CONVEYOR":     OpPick,
	"PLACE_IN_CELL":          OpPlace,
	"TAKE_FROM_CELL":         OpTake,
	"MANUAL_CMD":             OpManual,
	"LOADING_ZONE_OPERATION": OpLoadingZone,
}

// ParseOperationKind resolves a kind name, accepting legacy aliases.
func ParseOperationKind(s string) (OperationKind, error) {
	k, ok := operationKinds[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unknown operation kind %q", ErrInvalidCommand, s)
	}
	return k, nil
}

// OperationPriority is advisory only; operations are dispatched in arrival order.
type OperationPriority string

const (
	OpPriorityLow    OperationPriority = "LOW"
	OpPriorityMedium OperationPriority = "MEDIUM"
	OpPriorityHigh   OperationPriority = "HIGH"
)

// ParseOperationPriority defaults to MEDIUM when s is empty.
func ParseOperationPriority(s string) (OperationPriority, error) {
	switch p := OperationPriority(strings.ToUpper(strings.TrimSpace(s))); p {
	case "":
		return OpPriorityMedium, nil
	case OpPriorityLow, OpPriorityMedium, OpPriorityHigh:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown operation priority %q", ErrInvalidCommand, s)
	}
}

// OperationStatus is the lifecycle state of an Operation.
type OperationStatus string

const (
	OpPending    OperationStatus = "PENDING"
	OpProcessing OperationStatus = "PROCESSING"
	OpCompleted  OperationStatus = "COMPLETED"
	OpError      OperationStatus = "ERROR"
	OpCancelled  OperationStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s OperationStatus) Terminal() bool {
	return s == OpCompleted || s == OpError || s == OpCancelled
}

// CanTransition reports whether moving from s to next is a legal step.
func (s OperationStatus) CanTransition(next OperationStatus) bool {
	switch s {
	case OpPending:
		return next == OpProcessing || next == OpCancelled
	case OpProcessing:
		return next == OpCompleted || next == OpError || next == OpCancelled
	default:
		return false
	}
}

// Operation is the audit record of one command dispatched to the device.
type Operation struct {
	ID           int64             `json:"id"`
	Kind         OperationKind     `json:"kind"`
	Command      string            `json:"command"`
	CellID       *int64            `json:"cell_id,omitempty"`
	ProductID    *int64            `json:"product_id,omitempty"`
	Priority     OperationPriority `json:"priority"`
	Status       OperationStatus   `json:"status"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	Response     *string           `json:"response,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	DurationMS   *int64            `json:"duration_ms,omitempty"`
}

// Transition moves the operation to next, stamping the matching timestamps.
// Terminal records are immutable.
func (o *Operation) Transition(next OperationStatus, at time.Time) error {
	if !o.Status.CanTransition(next) {
		return fmt.Errorf("%w: operation %d %s -> %s", ErrInvalidState, o.ID, o.Status, next)
	}
	o.Status = next
	switch {
	case next == OpProcessing:
		o.StartedAt = &at
	case next.Terminal():
		o.CompletedAt = &at
		if o.StartedAt != nil {
			d := at.Sub(*o.StartedAt).Milliseconds()
			o.DurationMS = &d
		}
	}
	return nil
}

// Command validation limits.
const (
	MaxCommandLen = 100
)

// ValidateCommand checks the raw command text sent to the device. The
// device parses space-separated tokens, so only a conservative charset
// is accepted.
func ValidateCommand(cmd string) error {
	if strings.TrimSpace(cmd) == "" {
		return fmt.Errorf("%w: command is required", ErrInvalidCommand)
	}
	if len(cmd) > MaxCommandLen {
		return fmt.Errorf("%w: command exceeds maximum length of %d characters", ErrInvalidCommand, MaxCommandLen)
	}
	for _, r := range cmd {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '_', r == ':', r == '.', r == ' ', r == '-':
		default:
			return fmt.Errorf("%w: command contains disallowed character %q", ErrInvalidCommand, r)
		}
	}
	return nil
}

// IsPassThrough reports whether cmd belongs to the conveyor/loading-zone
// class that is recorded but never mutates cell or loading-zone contents.
func IsPassThrough(cmd string) bool {
	return strings.Contains(cmd, "CONVEYOR") || strings.Contains(cmd, "LOADING_")
}

// TargetsLoadingZone reports whether dispatching kind/cmd puts the loading
// zone into PROCESSING while in flight. Pass-through commands never do; the
// loading zone follows their effect through sensor reports only.
func TargetsLoadingZone(kind OperationKind, cmd string) bool {
	if IsPassThrough(cmd) {
		return false
	}
	return kind == OpLoadingZone || kind == OpMoveToLoading || kind == OpReturnToLoading
}
