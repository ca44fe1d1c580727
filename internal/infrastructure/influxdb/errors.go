package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when telemetry export is off.
	ErrDisabled = errors.New("influxdb: telemetry export disabled")

	// ErrConnectionFailed wraps the ping failure seen by Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close or before Connect.
	ErrNotConnected = errors.New("influxdb: not connected")
)
