package model

import (
	"fmt"
	"time"
)

// EventType tags messages pushed to observers.
type EventType string

const (
	EventSnapshot          EventType = "snapshot"
	EventOperationUpdate   EventType = "operation_update"
	EventTaskUpdate        EventType = "task_update"
	EventCellUpdate        EventType = "cell_update"
	EventLoadingZoneUpdate EventType = "loading_zone_update"
	EventConveyorUpdate    EventType = "conveyor_update"
	EventSensorUpdate      EventType = "sensor_update"
	EventModeUpdate        EventType = "mode_update"
	EventStrategyUpdate    EventType = "strategy_update"
	EventDeviceStatus      EventType = "device_status"
	EventTagDetected       EventType = "tag_detected"
	EventError             EventType = "error"
)

// Event is the outbound envelope. Seq increases by one per published event
// and lets observers detect gaps.
type Event struct {
	Type      EventType `json:"type"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// ClientMessageType tags messages received from observers.
type ClientMessageType string

const (
	ClientRequestSnapshot ClientMessageType = "request_snapshot"
	ClientSetStrategy     ClientMessageType = "set_strategy"
)

// ClientMessage is the inbound envelope.
type ClientMessage struct {
	Type     ClientMessageType `json:"type"`
	Strategy string            `json:"strategy,omitempty"`
}

// Normalize folds the legacy request names into their current form.
func (m ClientMessage) Normalize() (ClientMessage, error) {
	switch m.Type {
	case ClientRequestSnapshot, "request_sensor_data", "request_sensor_update", "refresh_data":
		m.Type = ClientRequestSnapshot
	case ClientSetStrategy:
	default:
		return m, fmt.Errorf("%w: unknown message type %q", ErrInvalidCommand, m.Type)
	}
	return m, nil
}

// TagDetection is the payload of EventTagDetected.
type TagDetection struct {
	Tag     string   `json:"tag"`
	Product *Product `json:"product,omitempty"`
}
