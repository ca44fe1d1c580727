package schedule

import "errors"

var (
	// ErrInvalidSpec is returned when a cron expression cannot be parsed.
	ErrInvalidSpec = errors.New("schedule: invalid cron spec")

	// ErrInvalidDuration is returned for an entry without a positive duration.
	ErrInvalidDuration = errors.New("schedule: duration must be positive")
)
