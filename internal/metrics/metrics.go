// ABOUTME: Prometheus collectors for the help desk automation and delivery paths
// ABOUTME: Components record through the helpers; the gateway serves Handler on metrics.path

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the counters below.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
	OutcomeDropped = "dropped"
)

var (
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "llm_requests_total",
			Help:      "Total LLM completion requests",
		},
		[]string{"component", "outcome"},
	)

	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "helpdesk",
			Name:      "llm_duration_seconds",
			Help:      "LLM completion latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"component"},
	)

	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "fetch_requests_total",
			Help:      "Total knowledge base fetches by outcome",
		},
		[]string{"outcome"},
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "cache_requests_total",
			Help:      "Read cache lookups by result",
		},
		[]string{"result"},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "jobs_total",
			Help:      "Background jobs by kind and final outcome",
		},
		[]string{"kind", "outcome"},
	)

	JobAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "job_attempts_total",
			Help:      "Background job attempts, including retries",
		},
		[]string{"kind"},
	)

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "helpdesk",
			Name:      "stream_clients",
			Help:      "Connected update stream clients",
		},
	)

	AutoAssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "auto_assignments_total",
			Help:      "Expert router decisions by outcome",
		},
		[]string{"outcome"},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordLLM records one completion call made on behalf of component.
func RecordLLM(component string, started time.Time, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	LLMRequestsTotal.WithLabelValues(component, outcome).Inc()
	LLMDuration.WithLabelValues(component).Observe(time.Since(started).Seconds())
}

// RecordFetch records a content fetch outcome.
func RecordFetch(outcome string) {
	FetchRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheHit records a cache hit
func RecordCacheHit() {
	CacheRequestsTotal.WithLabelValues("hit").Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss() {
	CacheRequestsTotal.WithLabelValues("miss").Inc()
}

// RecordJobAttempt records a single attempt of a job.
func RecordJobAttempt(kind string) {
	JobAttemptsTotal.WithLabelValues(kind).Inc()
}

// RecordJob records the final outcome of a job.
func RecordJob(kind, outcome string) {
	JobsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordAutoAssignment records a router decision.
func RecordAutoAssignment(outcome string) {
	AutoAssignmentsTotal.WithLabelValues(outcome).Inc()
}
