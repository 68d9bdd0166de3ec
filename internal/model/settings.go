package model

import (
	"fmt"
	"strings"
)

// StorageStrategy is an opaque placement hint forwarded to the device.
type StorageStrategy string

const (
	StrategyNearestEmpty StorageStrategy = "NEAREST_EMPTY"
	StrategyRoundRobin   StorageStrategy = "ROUND_ROBIN"
	StrategyRandom       StorageStrategy = "RANDOM"
	StrategyAIOptimized  StorageStrategy = "AI_OPTIMIZED"
	StrategyFixed        StorageStrategy = "FIXED"
)

// ParseStorageStrategy accepts both the underscore and the space-separated
// forms, so tags echoed back by the device round-trip.
func ParseStorageStrategy(s string) (StorageStrategy, error) {
	norm := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), " ", "_")
	switch st := StorageStrategy(norm); st {
	case StrategyNearestEmpty, StrategyRoundRobin, StrategyRandom, StrategyAIOptimized, StrategyFixed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown storage strategy %q", ErrInvalidCommand, s)
	}
}

// DeviceCommand is the command that announces the strategy to the device.
func (s StorageStrategy) DeviceCommand() string {
	return "STRATEGY " + strings.ReplaceAll(string(s), "_", " ")
}

// Mode is the operating mode of the whole cell.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
)

// ParseMode resolves a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeManual, ModeAuto:
		return m, nil
	default:
		return "", fmt.Errorf("%w: mode must be \"auto\" or \"manual\", got %q", ErrInvalidCommand, s)
	}
}

// Settings are the operator-controlled knobs.
type Settings struct {
	StorageStrategy StorageStrategy `json:"storage_strategy"`
	Mode            Mode            `json:"mode"`
}

// DefaultSettings are used when nothing has been persisted yet.
var DefaultSettings = Settings{StorageStrategy: StrategyNearestEmpty, Mode: ModeManual}
