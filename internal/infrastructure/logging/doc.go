// Package logging provides structured operator logging for Gray Tap Core.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same default fields (service, version) and level filtering.
//
// Operator logs are distinct from the per-device event history kept by the
// events package: events are what a user watching a device sees, slog output
// is what an operator debugging the service sees.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	supervisor.SetLogger(logger.Component("worker"))
//	logger.Error("failed to connect", "error", err)
//
// Never log secrets such as the MQTT password, InfluxDB token or JWT secret.
package logging
