package mqtt

import "errors"

var (
	// ErrNotConnected is returned while the broker link is down.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps the first-connect failure from Connect.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed covers oversized payloads, broker rejection and
	// acknowledgement timeouts.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed covers subscribe and unsubscribe failures.
	ErrSubscribeFailed = errors.New("mqtt: subscription failed")

	ErrInvalidQoS   = errors.New("mqtt: QoS must be 0, 1 or 2")
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
