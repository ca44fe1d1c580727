package worker

import "errors"

var (
	// ErrEmptyDeviceID is returned when Start is called without a device.
	ErrEmptyDeviceID = errors.New("worker: device ID is empty")

	// ErrInvalidDuration is returned for a non-positive session duration.
	ErrInvalidDuration = errors.New("worker: duration must be positive")

	// ErrEmptyCatalog is returned when no template can ever match.
	ErrEmptyCatalog = errors.New("worker: template catalog is empty")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("worker: supervisor closed")

	// ErrNoSession is returned for a device with no session.
	ErrNoSession = errors.New("worker: no session for device")

	// ErrSessionStopped is returned when resuming a session that was stopped
	// on request. Such a session can only be started again.
	ErrSessionStopped = errors.New("worker: session was stopped")
)
