package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the engine.
const (
	MeasurementCapture = "capture"
	MeasurementMatch   = "match"
	MeasurementClick   = "click"
	MeasurementAbort   = "abort"
)

// WriteCapture records one screenshot attempt.
//
// Parameters:
//   - deviceID: Device the frame was captured from
//   - took: Wall time of the capture
//   - ok: False when the capture failed
func (c *Client) WriteCapture(deviceID string, took time.Duration, ok bool) {
	c.writePoint(capturePoint(deviceID, took, ok, time.Now()))
}

// WriteMatch records a template found above threshold.
func (c *Client) WriteMatch(deviceID, templateName string, score float64) {
	c.writePoint(matchPoint(deviceID, templateName, score, time.Now()))
}

// WriteClick records a tap on a matched template.
func (c *Client) WriteClick(deviceID, templateName string) {
	c.writePoint(clickPoint(deviceID, templateName, time.Now()))
}

// WriteAbort records an abort-class template pausing a session.
func (c *Client) WriteAbort(deviceID, reason string) {
	c.writePoint(abortPoint(deviceID, reason, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		c.dropped.Add(1)
		return
	}
	c.writeAPI.WritePoint(p)
}

func capturePoint(deviceID string, took time.Duration, ok bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementCapture,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{
			"duration_ms": float64(took) / float64(time.Millisecond),
			"ok":          ok,
		},
		at,
	)
}

func matchPoint(deviceID, templateName string, score float64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementMatch,
		map[string]string{"device_id": deviceID, "template": templateName},
		map[string]interface{}{"score": score},
		at,
	)
}

func clickPoint(deviceID, templateName string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementClick,
		map[string]string{"device_id": deviceID, "template": templateName},
		map[string]interface{}{"count": 1},
		at,
	)
}

func abortPoint(deviceID, reason string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAbort,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"reason": reason},
		at,
	)
}
