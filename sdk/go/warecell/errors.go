// Package warecell provides a Go client for the warecell control-plane API.
package warecell

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned by the server in the error envelope.
const (
	CodeDeviceBusy          = "DEVICE_BUSY"
	CodeDeviceNotRegistered = "DEVICE_NOT_REGISTERED"
	CodeDeviceUnreachable   = "DEVICE_UNREACHABLE"
	CodeDeviceRejected      = "DEVICE_REJECTED"
)

// Error represents an error from the warecell API with the HTTP status code
// and the server's error message. Details carries the failed operation
// record when the device was involved.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Details    *Operation
}

func (e *Error) Error() string {
	return fmt.Sprintf("warecell: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func statusIs(err error, code int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == code
	}
	return false
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool { return statusIs(err, http.StatusNotFound) }

// IsConflict returns true if the error is a 409.
func IsConflict(err error) bool { return statusIs(err, http.StatusConflict) }

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool { return statusIs(err, http.StatusTooManyRequests) }

// IsBusy returns true if the device was executing another operation.
func IsBusy(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeDeviceBusy
}

// IsDeviceError returns true if the device could not be reached, rejected
// the command, or has not registered.
func IsDeviceError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case CodeDeviceNotRegistered, CodeDeviceUnreachable, CodeDeviceRejected:
		return true
	}
	return false
}
