package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports metrics through a Prometheus registry.
type PrometheusRecorder struct {
	imageNormalizeFailures *prometheus.CounterVec
	upstreamRequests       *prometheus.CounterVec
	upstreamDuration       *prometheus.HistogramVec
	creditHolds            *prometheus.CounterVec
	jobsFinished           *prometheus.CounterVec
	webhookEvents          *prometheus.CounterVec
}

// NewPrometheus registers the collectors with reg.
func NewPrometheus(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		imageNormalizeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renamer_image_normalize_failures_total",
			Help: "Images forwarded unmodified because normalization failed.",
		}, []string{"reason"}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renamer_upstream_requests_total",
			Help: "Requests sent to the upstream job API.",
		}, []string{"endpoint", "code"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "renamer_upstream_request_duration_seconds",
			Help:    "Latency of upstream job API requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		creditHolds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renamer_credit_holds_total",
			Help: "Credit hold transitions.",
		}, []string{"outcome"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renamer_jobs_finished_total",
			Help: "Tracked jobs by terminal status.",
		}, []string{"status"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renamer_payment_webhook_events_total",
			Help: "Payment webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
	}

	reg.MustRegister(
		r.imageNormalizeFailures,
		r.upstreamRequests,
		r.upstreamDuration,
		r.creditHolds,
		r.jobsFinished,
		r.webhookEvents,
	)
	return r
}

func (r *PrometheusRecorder) IncImageNormalizeFailure(reason string) {
	r.imageNormalizeFailures.WithLabelValues(reason).Inc()
}

func (r *PrometheusRecorder) ObserveUpstreamRequest(endpoint string, status int, duration time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	r.upstreamRequests.WithLabelValues(endpoint, code).Inc()
	r.upstreamDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (r *PrometheusRecorder) IncCreditHold(outcome string) {
	r.creditHolds.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRecorder) IncJobFinished(status string) {
	r.jobsFinished.WithLabelValues(status).Inc()
}

func (r *PrometheusRecorder) IncWebhookEvent(eventType, outcome string) {
	r.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}
