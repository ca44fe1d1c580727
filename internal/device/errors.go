package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID is not in the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrUnidentified is returned when an endpoint answers no identity query.
	ErrUnidentified = errors.New("device: identity unavailable")

	// ErrCaptureFailed is returned by a Link when no frame could be obtained.
	ErrCaptureFailed = errors.New("device: capture failed")

	// ErrTapFailed is returned by a Link when a tap could not be dispatched.
	ErrTapFailed = errors.New("device: tap failed")
)
