package model

import "time"

// DeviceRegistration records where the microcontroller lives and whether
// the last exchange with it succeeded.
type DeviceRegistration struct {
	Address      string     `json:"address"`
	Connected    bool       `json:"connected"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
}

// Product is the minimal catalog entry needed to resolve identification tags.
type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	SKU       *string   `json:"sku,omitempty"`
	Tag       *string   `json:"tag,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SensorReport is the periodic telemetry posted by the device. Field names
// follow the firmware's JSON. Every field is optional.
type SensorReport struct {
	LDR1                *bool    `json:"ldr1,omitempty"`
	LDR2                *bool    `json:"ldr2,omitempty"`
	Tag                 *string  `json:"rfid,omitempty"`
	ConveyorState       *string  `json:"conveyorState,omitempty"`
	ArmStatus           *string  `json:"armStatus,omitempty"`
	CurrentOperation    *string  `json:"currentOperation,omitempty"`
	LoadingZoneOccupied *bool    `json:"loadingZoneOccupied,omitempty"`
	LoadingZoneDistance *float64 `json:"loadingZoneDistance,omitempty"`
	StorageStrategy     *string  `json:"storageStrategy,omitempty"`
	Cells               [][]bool `json:"cells,omitempty"`
}

// Snapshot is the full observable state sent to observers.
type Snapshot struct {
	Cells       []Cell              `json:"cells"`
	LoadingZone LoadingZone         `json:"loading_zone"`
	Conveyor    Conveyor            `json:"conveyor"`
	Settings    Settings            `json:"settings"`
	Arm         ArmState            `json:"arm"`
	Device      *DeviceRegistration `json:"device,omitempty"`
	Sensors     *SensorReport       `json:"sensors,omitempty"`
	Current     *Operation          `json:"current_operation,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}
