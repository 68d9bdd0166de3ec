package model

import (
	"fmt"
	"strings"
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeInvalidCommand      = "INVALID_COMMAND"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeDeviceNotRegistered = "DEVICE_NOT_REGISTERED"
	ErrCodeDeviceUnreachable   = "DEVICE_UNREACHABLE"
	ErrCodeDeviceRejected      = "DEVICE_REJECTED"
	ErrCodeDeviceBusy          = "DEVICE_BUSY"
)

// SubmitOperationRequest is the request body for POST /api/operations.
type SubmitOperationRequest struct {
	Kind      string `json:"kind"`
	Command   string `json:"command"`
	CellID    *int64 `json:"cell_id,omitempty"`
	ProductID *int64 `json:"product_id,omitempty"`
	Priority  string `json:"priority,omitempty"`
}

// CreateTaskRequest is the request body for POST /api/tasks.
type CreateTaskRequest struct {
	Type            string  `json:"type"`
	CellID          *int64  `json:"cell_id,omitempty"`
	ProductID       *int64  `json:"product_id,omitempty"`
	ProductTag      *string `json:"product_tag,omitempty"`
	Action          *string `json:"action,omitempty"`
	Quantity        int     `json:"quantity,omitempty"`
	Priority        string  `json:"priority,omitempty"`
	StorageStrategy string  `json:"storage_strategy,omitempty"`
}

// ModeRequest is the request body for POST /api/mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// ModeResult reports the new mode and any device signal that failed.
// Signal failures never block the switch.
type ModeResult struct {
	Mode           Mode     `json:"mode"`
	SignalErrors   []string `json:"signal_errors,omitempty"`
	SchedulerArmed bool     `json:"scheduler_armed"`
}

// StrategyRequest is the request body for POST /api/storage-strategy.
type StrategyRequest struct {
	Strategy string `json:"strategy"`
}

// StrategyResult reports the stored strategy and whether the device heard it.
type StrategyResult struct {
	Strategy    StorageStrategy `json:"strategy"`
	DeviceError string          `json:"device_error,omitempty"`
}

// ActionRequest is the request body for the conveyor and loading-zone controls.
type ActionRequest struct {
	Action string `json:"action"`
}

// ControlResult is the outcome of a conveyor or loading-zone action: the
// audit record plus the equipment state after the action took effect.
type ControlResult struct {
	Operation   Operation    `json:"operation"`
	Conveyor    *Conveyor    `json:"conveyor,omitempty"`
	LoadingZone *LoadingZone `json:"loading_zone,omitempty"`
}

// ParseAction lowercases and checks action against the allowed set.
func ParseAction(action string, allowed ...string) (string, error) {
	a := strings.ToLower(strings.TrimSpace(action))
	for _, v := range allowed {
		if a == v {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: action must be one of %s, got %q", ErrInvalidCommand, strings.Join(allowed, ", "), action)
}

// RegisterDeviceRequest is the request body for POST /api/device/register.
type RegisterDeviceRequest struct {
	Address string `json:"address"`
}

// AssignCellRequest is the request body for POST /api/cells/{id}/assign.
type AssignCellRequest struct {
	ProductID *int64 `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CreateProductRequest is the request body for POST /api/products.
type CreateProductRequest struct {
	Name string  `json:"name"`
	SKU  *string `json:"sku,omitempty"`
	Tag  *string `json:"tag,omitempty"`
}

// Validate checks required fields.
func (r CreateProductRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCommand)
	}
	if r.Tag != nil && strings.TrimSpace(*r.Tag) == "" {
		return fmt.Errorf("%w: tag must not be blank", ErrInvalidCommand)
	}
	return nil
}

// StatusSummary is the aggregate view returned by GET /api/status.
type StatusSummary struct {
	CellsTotal       int                 `json:"cells_total"`
	CellsOccupied    int                 `json:"cells_occupied"`
	CellsAvailable   int                 `json:"cells_available"`
	PendingTasks     int                 `json:"pending_tasks"`
	CurrentOperation *Operation          `json:"current_operation,omitempty"`
	Device           *DeviceRegistration `json:"device,omitempty"`
	Settings         Settings            `json:"settings"`
	Arm              ArmState            `json:"arm"`
	SchedulerArmed   bool                `json:"scheduler_armed"`
	Observers        int                 `json:"observers"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	Storage          string `json:"storage"`
	DeviceRegistered bool   `json:"device_registered"`
	DeviceConnected  bool   `json:"device_connected"`
	Uptime           int64  `json:"uptime_seconds"`
}
