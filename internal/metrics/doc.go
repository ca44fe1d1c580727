// Package metrics records worker activity.
//
// Metrics is a Prometheus collector set, served by the API on /metrics.
// Influx adapts an InfluxDB client to the same recorder interface, and Fanout
// sends each observation to several recorders:
//
//	rec := metrics.Fanout{prom, metrics.NewInflux(influxClient)}
//	supervisor.SetRecorder(rec)
package metrics
