package warecell

import (
	"encoding/json"
	"time"
)

// Operation is the audit record of one command sent to the device.
type Operation struct {
	ID           int64      `json:"id"`
	Kind         string     `json:"kind"`
	Command      string     `json:"command"`
	CellID       *int64     `json:"cell_id,omitempty"`
	ProductID    *int64     `json:"product_id,omitempty"`
	Priority     string     `json:"priority"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	Response     *string    `json:"response,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMS   *int64     `json:"duration_ms,omitempty"`
}

// SubmitRequest sends one command to the device and waits for its answer.
type SubmitRequest struct {
	Kind      string `json:"kind"`
	Command   string `json:"command"`
	CellID    *int64 `json:"cell_id,omitempty"`
	ProductID *int64 `json:"product_id,omitempty"`
	Priority  string `json:"priority,omitempty"`
}

// Task is a queued unit of work for the auto-mode scheduler.
type Task struct {
	ID              int64      `json:"id"`
	Type            string     `json:"type"`
	CellID          *int64     `json:"cell_id,omitempty"`
	ProductID       *int64     `json:"product_id,omitempty"`
	ProductTag      *string    `json:"product_tag,omitempty"`
	Action          *string    `json:"action,omitempty"`
	Quantity        int        `json:"quantity"`
	Priority        string     `json:"priority"`
	Status          string     `json:"status"`
	StorageStrategy string     `json:"storage_strategy"`
	OperationID     *int64     `json:"operation_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// CreateTaskRequest enqueues a task. Type is STOCK, RETRIEVE, MOVE or ORGANIZE.
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

// Cell is one storage slot of the grid.
type Cell struct {
	ID              int64      `json:"id"`
	Row             int        `json:"row"`
	Column          int        `json:"column"`
	Label           string     `json:"label"`
	ProductID       *int64     `json:"product_id,omitempty"`
	Quantity        int        `json:"quantity"`
	Status          string     `json:"status"`
	LastSensorCheck *time.Time `json:"last_sensor_check,omitempty"`
}

// Product is a catalog entry.
type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	SKU       *string   `json:"sku,omitempty"`
	Tag       *string   `json:"tag,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateProductRequest adds a product to the catalog.
type CreateProductRequest struct {
	Name string  `json:"name"`
	SKU  *string `json:"sku,omitempty"`
	Tag  *string `json:"tag,omitempty"`
}

// Device is the registration of the cell controller.
type Device struct {
	Address      string     `json:"address"`
	Connected    bool       `json:"connected"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
}

// ModeResult reports a mode switch. SignalErrors lists device notifications
// that failed; the switch itself still took effect.
type ModeResult struct {
	Mode           string   `json:"mode"`
	SignalErrors   []string `json:"signal_errors,omitempty"`
	SchedulerArmed bool     `json:"scheduler_armed"`
}

// StrategyResult reports the stored storage strategy.
type StrategyResult struct {
	Strategy    string `json:"strategy"`
	DeviceError string `json:"device_error,omitempty"`
}

// Status is the aggregate summary returned by GET /api/status.
type Status struct {
	CellsTotal       int        `json:"cells_total"`
	CellsOccupied    int        `json:"cells_occupied"`
	CellsAvailable   int        `json:"cells_available"`
	PendingTasks     int        `json:"pending_tasks"`
	CurrentOperation *Operation `json:"current_operation,omitempty"`
	Device           *Device    `json:"device,omitempty"`
	Settings         struct {
		StorageStrategy string `json:"storage_strategy"`
		Mode            string `json:"mode"`
	} `json:"settings"`
	Arm struct {
		Status           string `json:"status"`
		CurrentOperation string `json:"current_operation,omitempty"`
	} `json:"arm"`
	SchedulerArmed bool `json:"scheduler_armed"`
	Observers      int  `json:"observers"`
}

// Health is returned by GET /health.
type Health struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	Storage          string `json:"storage"`
	DeviceRegistered bool   `json:"device_registered"`
	DeviceConnected  bool   `json:"device_connected"`
	Uptime           int64  `json:"uptime_seconds"`
}

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details,omitempty"`
	} `json:"error"`
}
