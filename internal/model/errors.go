package model

import "errors"

// Sentinel errors shared by the control plane. Callers wrap them with
// package context and match with errors.Is.
var (
	// ErrNotRegistered means no device address has been registered yet.
	ErrNotRegistered = errors.New("device not registered")

	// ErrTransport covers unreachable devices, timeouts and non-2xx replies.
	ErrTransport = errors.New("device transport error")

	// ErrBusy means another command held the dispatch lock for the whole wait.
	ErrBusy = errors.New("device busy")

	ErrInvalidCommand = errors.New("invalid command")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")

	// ErrInvalidState is returned for lifecycle transitions that are not allowed,
	// such as cancelling a task that already started.
	ErrInvalidState = errors.New("invalid state transition")
)
