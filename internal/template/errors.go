package template

import "errors"

var (
	// ErrNoArtifact is recorded on a Spec whose image could not be loaded.
	ErrNoArtifact = errors.New("template: artifact unavailable")

	// ErrInvalidThreshold is returned when a threshold is outside (0, 1].
	ErrInvalidThreshold = errors.New("template: threshold must be in (0, 1]")

	// ErrDuplicateName is returned when two templates share a name.
	ErrDuplicateName = errors.New("template: duplicate name")
)
