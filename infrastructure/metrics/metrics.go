// Package metrics provides Prometheus metrics collection
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Pipeline metrics
	PipelinesInFlight prometheus.Gauge
	StagesTotal       *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	VerdictsTotal     *prometheus.CounterVec

	// Reward metrics
	PointsAwardedTotal prometheus.Counter

	// Database metrics
	DatabaseConnectionsOpen prometheus.Gauge
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		PipelinesInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "verification_pipelines_in_flight",
				Help: "Current number of running verification pipelines",
			},
		),
		StagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verification_stages_total",
				Help: "Total number of verification stage executions",
			},
			[]string{"stage", "status"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verification_stage_duration_seconds",
				Help:    "Verification stage duration in seconds",
				Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		VerdictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verification_verdicts_total",
				Help: "Total number of terminal verification verdicts",
			},
			[]string{"verdict"},
		),

		PointsAwardedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reward_points_awarded_total",
				Help: "Total number of points awarded to contributors",
			},
		),

		DatabaseConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "database_connections_open",
				Help: "Current number of open database connections",
			},
		),
	}

	registerer.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.PipelinesInFlight,
		m.StagesTotal,
		m.StageDuration,
		m.VerdictsTotal,
		m.PointsAwardedTotal,
		m.DatabaseConnectionsOpen,
	)

	return m
}

// RecordHTTPRequest records metrics for a completed HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// IncrementInFlight increments the in-flight request gauge
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight request gauge
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// RecordStage records a completed pipeline stage execution
func (m *Metrics) RecordStage(stage, status string, duration time.Duration) {
	m.StagesTotal.WithLabelValues(stage, status).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordVerdict records a terminal pipeline verdict (completed, failed, cancelled)
func (m *Metrics) RecordVerdict(verdict string) {
	m.VerdictsTotal.WithLabelValues(verdict).Inc()
}
