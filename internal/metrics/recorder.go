package metrics

import (
	"time"

	"github.com/nerrad567/graytap-core/internal/template"
	"github.com/nerrad567/graytap-core/internal/worker"
)

// InfluxWriter is the subset of *influxdb.Client used by Influx.
type InfluxWriter interface {
	WriteCapture(deviceID string, took time.Duration, ok bool)
	WriteMatch(deviceID, templateName string, score float64)
	WriteClick(deviceID, templateName string)
	WriteAbort(deviceID, reason string)
}

// Influx writes worker activity as InfluxDB points.
type Influx struct {
	w InfluxWriter
}

// NewInflux adapts w to worker.Recorder.
func NewInflux(w InfluxWriter) *Influx {
	return &Influx{w: w}
}

func (i *Influx) RecordCapture(deviceID string, took time.Duration, err error) {
	i.w.WriteCapture(deviceID, took, err == nil)
}

func (i *Influx) RecordMatch(deviceID string, m template.Match) {
	i.w.WriteMatch(deviceID, m.Template, m.Confidence)
}

func (i *Influx) RecordClick(deviceID, templateName string) {
	i.w.WriteClick(deviceID, templateName)
}

func (i *Influx) RecordAbort(deviceID, reason string) {
	i.w.WriteAbort(deviceID, reason)
}

// Fanout forwards every observation to each recorder in order.
type Fanout []worker.Recorder

func (f Fanout) RecordCapture(deviceID string, took time.Duration, err error) {
	for _, r := range f {
		r.RecordCapture(deviceID, took, err)
	}
}

func (f Fanout) RecordMatch(deviceID string, m template.Match) {
	for _, r := range f {
		r.RecordMatch(deviceID, m)
	}
}

func (f Fanout) RecordClick(deviceID, templateName string) {
	for _, r := range f {
		r.RecordClick(deviceID, templateName)
	}
}

func (f Fanout) RecordAbort(deviceID, reason string) {
	for _, r := range f {
		r.RecordAbort(deviceID, reason)
	}
}
