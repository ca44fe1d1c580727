// Package influxdb provides InfluxDB connectivity for session telemetry.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched writes and health monitoring. The engine writes one
// point per capture, match, click and abort:
//
//	capture  device_id            duration_ms, ok
//	match    device_id, template  score
//	click    device_id, template  count
//	abort    device_id            reason
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteClick("127.0.0.1:16384", "button1")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are non-blocking; batch errors are delivered to the SetOnError callback
// and counted, along with points discarded while closed, in Stats.
package influxdb
