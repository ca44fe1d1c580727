package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/graytap-core/internal/template"
)

const namespace = "graytap"

// SessionCounter reports live sessions. *worker.Supervisor implements it.
type SessionCounter interface {
	Counts() (running, paused int)
}

// DropCounter reports discarded event notifications. *events.Bus implements it.
type DropCounter interface {
	Dropped() uint64
}

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Captures        *prometheus.CounterVec
	CaptureDuration prometheus.Histogram
	Matches         *prometheus.CounterVec
	Clicks          *prometheus.CounterVec
	Aborts          *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec

	registry *prometheus.Registry
	factory  promauto.Factory
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Captures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Screenshot attempts by device and result",
		}, []string{"device", "result"}),
		CaptureDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Screenshot capture duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
		}),
		Matches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Templates found above threshold",
		}, []string{"template"}),
		Clicks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicks_total",
			Help:      "Taps issued by device and template",
		}, []string{"device", "template"}),
		Aborts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aborts_total",
			Help:      "Sessions paused by an abort-class template",
		}, []string{"reason"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Control API requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Control API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		registry: reg,
		factory:  factory,
	}
}

// WatchSessions exports running and paused session gauges read from c.
func (m *Metrics) WatchSessions(c SessionCounter) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_running",
		Help:      "Sessions currently running",
	}, func() float64 {
		running, _ := c.Counts()
		return float64(running)
	})
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_paused",
		Help:      "Sessions currently paused",
	}, func() float64 {
		_, paused := c.Counts()
		return float64(paused)
	})
}

// WatchEventDrops exports the event bus drop counter.
func (m *Metrics) WatchEventDrops(d DropCounter) {
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_notifications_dropped_total",
		Help:      "Event notifications discarded because a subscriber fell behind",
	}, func() float64 {
		return float64(d.Dropped())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCapture implements worker.Recorder.
func (m *Metrics) RecordCapture(deviceID string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Captures.WithLabelValues(deviceID, result).Inc()
	m.CaptureDuration.Observe(took.Seconds())
}

// RecordMatch implements worker.Recorder.
func (m *Metrics) RecordMatch(_ string, match template.Match) {
	m.Matches.WithLabelValues(match.Template).Inc()
}

// RecordClick implements worker.Recorder.
func (m *Metrics) RecordClick(deviceID, templateName string) {
	m.Clicks.WithLabelValues(deviceID, templateName).Inc()
}

// RecordAbort implements worker.Recorder.
func (m *Metrics) RecordAbort(_ string, reason string) {
	m.Aborts.WithLabelValues(reason).Inc()
}

// ObserveHTTP records one API request.
func (m *Metrics) ObserveHTTP(method, route string, status int, took time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(took.Seconds())
}
