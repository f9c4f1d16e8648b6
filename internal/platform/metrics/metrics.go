// Package metrics owns the prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups every metric. A nil *Collector is valid and records
// nothing, so components can be built without metrics in tests.
type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	MeasurementsCreated *prometheus.CounterVec
	EventsHandled       *prometheus.CounterVec
	DerivedEvents       *prometheus.CounterVec
	OutboxRetries       *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewCollector registers the collectors on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the default registry.
func NewCollector(namespace string, reg *prometheus.Registry) *Collector {
	f := promauto.With(reg)
	return &Collector{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		MeasurementsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "measurement",
			Name:      "created_total",
			Help:      "Measurements stored, by type and source (api or sync).",
		}, []string{"type", "source"}),

		EventsHandled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integration",
			Name:      "events_handled_total",
			Help:      "Integration event items handled, by event name and outcome.",
		}, []string{"event", "outcome"}),

		DerivedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integration",
			Name:      "derived_events_total",
			Help:      "Derived events by name and result (published or outboxed).",
		}, []string{"event", "result"}),

		OutboxRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "retries_total",
			Help:      "Outbox rows retried, by result (republished or failed).",
		}, []string{"result"}),

		gatherer: reg,
	}
}

// Handler exposes the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	code := strconv.Itoa(status)
	c.RequestsTotal.WithLabelValues(method, path, code).Inc()
	c.RequestDuration.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
}

func (c *Collector) MeasurementCreated(measurementType, source string) {
	if c == nil {
		return
	}
	c.MeasurementsCreated.WithLabelValues(measurementType, source).Inc()
}

func (c *Collector) EventHandled(event string, ok bool) {
	if c == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	c.EventsHandled.WithLabelValues(event, outcome).Inc()
}

func (c *Collector) DerivedEvent(event, result string) {
	if c == nil {
		return
	}
	c.DerivedEvents.WithLabelValues(event, result).Inc()
}

func (c *Collector) OutboxRetry(republished bool) {
	if c == nil {
		return
	}
	result := "republished"
	if !republished {
		result = "failed"
	}
	c.OutboxRetries.WithLabelValues(result).Inc()
}
