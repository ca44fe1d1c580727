package events

import "errors"

// ErrClosed is returned by Subscribe after the bus has been closed.
var ErrClosed = errors.New("events: bus closed")
