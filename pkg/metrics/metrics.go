// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GenerationsTotal tracks generation requests by backend and outcome.
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "muse_generations_total",
			Help: "Total generation requests",
		},
		[]string{"backend", "outcome"},
	)

	// GenerationDuration tracks end-to-end generation duration.
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "muse_generation_duration_seconds",
			Help:    "Generation request duration in seconds",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120, 180},
		},
		[]string{"backend"},
	)

	// GenerationAttempts tracks the attempt count at which requests resolve.
	GenerationAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "muse_generation_attempts",
			Help:    "Attempts used per generation request",
			Buckets: []float64{1, 2, 3},
		},
		[]string{"backend"},
	)

	// AdmissionRejections tracks requests declined because the subject
	// already had a generation in flight.
	AdmissionRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "muse_admission_rejections_total",
			Help: "Requests rejected by admission control",
		},
	)

	// ActiveGenerations tracks subjects currently inside a generation.
	ActiveGenerations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "muse_active_generations",
			Help: "Subjects currently admitted to a generation",
		},
	)

	// StreamTokensTotal tracks streamed text increments by provider.
	StreamTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "muse_stream_tokens_total",
			Help: "Streamed text increments received",
		},
		[]string{"provider"},
	)

	// DisplayRefreshes tracks throttled outbound message edits.
	DisplayRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "muse_display_refreshes_total",
			Help: "Throttled outbound message updates",
		},
	)

	// OverflowDeliveries tracks responses delivered as files after exceeding
	// the inline display threshold.
	OverflowDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "muse_overflow_deliveries_total",
			Help: "Responses delivered as file attachments after overflow",
		},
	)

	// CancelledGenerations tracks user-cancelled generations.
	CancelledGenerations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "muse_cancelled_generations_total",
			Help: "Generations cancelled by the requesting user",
		},
	)

	// PersistenceFlushes tracks completed state flush cycles.
	PersistenceFlushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "muse_persistence_flushes_total",
			Help: "Completed state flush cycles",
		},
	)

	// PersistenceErrors tracks individual state file write failures.
	PersistenceErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "muse_persistence_errors_total",
			Help: "Individual state file write failures",
		},
	)

	// BackendErrors tracks adapter failures by backend and error class.
	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "muse_backend_errors_total",
			Help: "Backend adapter failures",
		},
		[]string{"backend", "class"},
	)

	// RequestDuration tracks admin HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "muse_http_request_duration_seconds",
			Help:    "Admin HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks admin HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "muse_http_requests_total",
			Help: "Total admin HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// RecordRequest records metrics for an admin HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordGeneration records the outcome of one generation request.
func RecordGeneration(backend, outcome string, attempts int, duration float64) {
	GenerationsTotal.WithLabelValues(backend, outcome).Inc()
	GenerationAttempts.WithLabelValues(backend).Observe(float64(attempts))
	GenerationDuration.WithLabelValues(backend).Observe(duration)
}
