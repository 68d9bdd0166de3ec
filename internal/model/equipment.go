package model

import (
	"fmt"
	"strings"
	"time"
)

// LoadingZoneStatus is the state of the loading zone.
type LoadingZoneStatus string

const (
	LoadingEmpty      LoadingZoneStatus = "EMPTY"
	LoadingOccupied   LoadingZoneStatus = "OCCUPIED"
	LoadingProcessing LoadingZoneStatus = "PROCESSING"
)

// Servo angles for the loading-zone gate.
const (
	ServoOpen   = 180
	ServoClosed = 90
)

// LoadingZone is the single hand-off position between conveyor and grid.
type LoadingZone struct {
	ProductID   *int64            `json:"product_id,omitempty"`
	Quantity    int               `json:"quantity"`
	DistanceCM  *float64          `json:"distance_cm,omitempty"`
	ServoAngle  int               `json:"servo_angle"`
	Status      LoadingZoneStatus `json:"status"`
	LastChecked *time.Time        `json:"last_checked,omitempty"`
}

// ConveyorMode says who drives the conveyor.
type ConveyorMode string

const (
	ConveyorAuto   ConveyorMode = "AUTO"
	ConveyorManual ConveyorMode = "MANUAL"
)

// ConveyorState is the normalized conveyor state.
type ConveyorState string

const (
	ConveyorIdle                   ConveyorState = "IDLE"
	ConveyorMoving                 ConveyorState = "MOVING"
	ConveyorAwaitingIdentification ConveyorState = "AWAITING_IDENTIFICATION"
	ConveyorStopped                ConveyorState = "STOPPED"
	ConveyorManualState            ConveyorState = "MANUAL"
)

// ParseConveyorTag maps the raw tags reported by the device firmware onto
// ConveyorState. An empty tag means IDLE.
func ParseConveyorTag(tag string) (ConveyorState, error) {
	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case "", "IDLE":
		return ConveyorIdle, nil
	case "MOVE_12CM", "MOVING_TO_LDR2", "MOVING":
		return ConveyorMoving, nil
	case "WAIT_RFID", "AWAITING_IDENTIFICATION":
		return ConveyorAwaitingIdentification, nil
	case "STOPPED":
		return ConveyorStopped, nil
	case "MANUAL_MODE", "MANUAL":
		return ConveyorManualState, nil
	default:
		return "", fmt.Errorf("unknown conveyor state %q", tag)
	}
}

// Conveyor is the inbound belt with its presence sensors and tag reader.
type Conveyor struct {
	HasProduct     bool          `json:"has_product"`
	ProductID      *int64        `json:"product_id,omitempty"`
	ProductTag     *string       `json:"product_tag,omitempty"`
	Mode           ConveyorMode  `json:"mode"`
	State          ConveyorState `json:"state"`
	LastDetectedAt *time.Time    `json:"last_detected_at,omitempty"`
}

// ArmState is the last arm status reported by the device.
type ArmState struct {
	Status           string `json:"status"`
	CurrentOperation string `json:"current_operation,omitempty"`
}
