package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	apiRequestsTotal     *prometheus.CounterVec
	apiLatencySeconds    *prometheus.HistogramVec
	apiErrorsTotal       *prometheus.CounterVec
	evaluationsTotal     *prometheus.CounterVec
	degradedTotal        *prometheus.CounterVec
	rejectedFilesTotal   *prometheus.CounterVec
	enhancementOutcomes  *prometheus.CounterVec
	batchDurationSeconds *prometheus.HistogramVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the grading pipeline.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Name:      "api_requests_total",
			Help:      "Total number of evaluation API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gema",
			Name:      "api_latency_seconds",
			Help:      "Latency distribution for evaluation API requests.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Name:      "api_errors_total",
			Help:      "Total number of error responses returned by evaluation endpoints.",
		}, []string{"method", "route", "status"})

		evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Subsystem: "grading",
			Name:      "evaluations_total",
			Help:      "Number of student results produced.",
		}, []string{"assignment_type"})

		degradedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Subsystem: "grading",
			Name:      "degraded_analyses_total",
			Help:      "Number of analyses that fell back to pattern heuristics.",
		}, []string{"assignment_type"})

		rejectedFilesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Subsystem: "grading",
			Name:      "rejected_files_total",
			Help:      "Number of files rejected at ingestion.",
		}, []string{"reason"})

		enhancementOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Subsystem: "grading",
			Name:      "enhancement_outcomes_total",
			Help:      "Feedback enhancement attempts by outcome.",
		}, []string{"outcome"})

		batchDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gema",
			Subsystem: "grading",
			Name:      "batch_duration_seconds",
			Help:      "Wall time to evaluate a batch, enhancement included.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"assignment_type"})

		prometheus.MustRegister(apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			evaluationsTotal, degradedTotal, rejectedFilesTotal, enhancementOutcomes, batchDurationSeconds)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// Evaluations counts produced student results.
func Evaluations() *prometheus.CounterVec {
	RegisterMetrics()
	return evaluationsTotal
}

// DegradedAnalyses counts pattern fallbacks.
func DegradedAnalyses() *prometheus.CounterVec {
	RegisterMetrics()
	return degradedTotal
}

// RejectedFiles counts ingestion rejections.
func RejectedFiles() *prometheus.CounterVec {
	RegisterMetrics()
	return rejectedFilesTotal
}

// EnhancementOutcomes counts enhancer successes and fallbacks.
func EnhancementOutcomes() *prometheus.CounterVec {
	RegisterMetrics()
	return enhancementOutcomes
}

// BatchDuration observes batch wall time.
func BatchDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return batchDurationSeconds
}
