package remote

import "errors"

var (
	// ErrBadCommand is returned when a command payload cannot be decoded.
	ErrBadCommand = errors.New("remote: malformed command")

	// ErrUnknownAction is returned for a command action the bridge does not support.
	ErrUnknownAction = errors.New("remote: unknown action")

	// ErrBadTopic is returned when a command arrives on a topic without a target.
	ErrBadTopic = errors.New("remote: command topic has no target")
)
