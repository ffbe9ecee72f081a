package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the planning API.
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// PlanBatches counts planning batches by outcome (completed, aborted, failed).
	PlanBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "plan_batches_total", Help: "Planning batches by outcome."},
		[]string{"outcome"},
	)
	// PlanDuration tracks end-to-end planning batch duration in seconds.
	PlanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "plan_batch_duration_seconds", Help: "Planning batch duration in seconds.", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}},
	)
	// SequenceMethods counts sequenced routes by optimization method.
	SequenceMethods = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sequence_methods_total", Help: "Sequenced routes by optimization method."},
		[]string{"method"},
	)
	// DistanceFallbacks counts road-network calls downgraded to the geometric estimate.
	DistanceFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "distance_fallbacks_total", Help: "Road network calls downgraded to geometric fallback."},
		[]string{"op"},
	)
	// DriftSuggestions counts drift suggestions by resolution.
	DriftSuggestions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "drift_suggestions_total", Help: "Drift suggestions by resolution."},
		[]string{"status"},
	)
	// WebhookDeliveries counts webhook delivery outcomes by event type and status.
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors on the dedicated registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(PlanBatches)
		Registry.MustRegister(PlanDuration)
		Registry.MustRegister(SequenceMethods)
		Registry.MustRegister(DistanceFallbacks)
		Registry.MustRegister(DriftSuggestions)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
