package device

import (
	"context"
	"image"

	"github.com/nerrad567/graytap-core/internal/events"
)

// Source records how a device endpoint was found.
type Source string

const (
	// SourceManager marks endpoints declared by an emulator manager.
	SourceManager Source = "manager-reported"

	// SourcePortScan marks endpoints found by probing or transport enumeration.
	SourcePortScan Source = "port-scan"
)

// Identity property keys queried for every endpoint.
const (
	PropBrand = "ro.product.brand"
	PropModel = "ro.product.model"
)

// Record is one discovered, identified device.
//
// Records are values and never mutated; re-discovery produces new ones.
type Record struct {
	// ID is the canonical endpoint, e.g. "127.0.0.1:16384" or a USB serial.
	ID string `json:"id"`

	// Label is the human-readable identity, e.g. "Xiaomi MI 9 [MuMu primary]".
	Label string `json:"label"`

	// Source is how the endpoint was found.
	Source Source `json:"source"`
}

// Instance is an emulator instance declared by a manager service.
type Instance struct {
	Name     string `json:"name"`
	Index    int    `json:"index"`
	Endpoint string `json:"endpoint"`
}

// Link executes operations against device endpoints.
//
// Implementations must be safe for concurrent use by multiple workers, each
// addressing a different device.
type Link interface {
	// Capture returns one still frame of the device display.
	Capture(ctx context.Context, deviceID string) (image.Image, error)

	// Tap injects a single touch at (x, y).
	Tap(ctx context.Context, deviceID string, x, y int) error

	// Query reads one device property.
	Query(ctx context.Context, deviceID, key string) (string, error)

	// DiscoverCandidates lists endpoints the transport reports as connected.
	DiscoverCandidates(ctx context.Context) ([]string, error)

	// Connect attempts to make endpoint reachable. It is idempotent.
	Connect(ctx context.Context, endpoint string) error
}

// Prober is the part of Link the registry needs.
type Prober interface {
	Query(ctx context.Context, deviceID, key string) (string, error)
	DiscoverCandidates(ctx context.Context) ([]string, error)
	Connect(ctx context.Context, endpoint string) error
}

// InstanceSource lists running emulator instances.
type InstanceSource interface {
	Instances(ctx context.Context) ([]Instance, error)
}

// ServerResetter is implemented by links whose transport server can be restarted.
// The registry resets the server once, before its first scan.
type ServerResetter interface {
	ResetServer(ctx context.Context) error
}

// EventPublisher receives user-facing discovery events. events.Bus satisfies it.
type EventPublisher interface {
	Emit(level events.Level, deviceID, label, message string)
}
