// Package telemetry exposes Prometheus metrics for the AI orchestration
// core. Handlers mount promhttp at /metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	aiCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskweave_ai_calls_total",
		Help: "AI provider calls by model and outcome.",
	}, []string{"model", "outcome"})

	aiCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskweave_ai_call_duration_seconds",
		Help:    "AI provider call latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	aiTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskweave_ai_tokens_total",
		Help: "Tokens consumed by direction.",
	}, []string{"model", "direction"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskweave_cache_lookups_total",
		Help: "Response cache lookups by tier and result.",
	}, []string{"tier", "result"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskweave_job_duration_seconds",
		Help:    "Background job wall-clock duration by type and terminal status.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
	}, []string{"type", "status"})

	fallbackQuestions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskweave_interview_fallback_questions_total",
		Help: "Deterministic fallback questions served after provider failures.",
	})
)

// ObserveAICall records one provider call
func ObserveAICall(model, outcome string, tokensIn, tokensOut int64, d time.Duration) {
	aiCalls.WithLabelValues(model, outcome).Inc()
	aiCallDuration.WithLabelValues(model).Observe(d.Seconds())
	if tokensIn > 0 {
		aiTokens.WithLabelValues(model, "in").Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		aiTokens.WithLabelValues(model, "out").Add(float64(tokensOut))
	}
}

// ObserveCacheLookup records one cache tier lookup
func ObserveCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(tier, result).Inc()
}

// ObserveJob records a finished background job
func ObserveJob(jobType, status string, d time.Duration) {
	jobDuration.WithLabelValues(jobType, status).Observe(d.Seconds())
}

// CountFallbackQuestion records one fallback question served
func CountFallbackQuestion() {
	fallbackQuestions.Inc()
}
