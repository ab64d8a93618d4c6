package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for invocations.
var (
	invocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_invocations_total",
		Help: "Total logical invocations by operation and outcome",
	}, []string{"operation", "status"})

	invocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_invocation_duration_seconds",
		Help:    "Logical invocation duration in seconds, retries included",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"operation"})

	invocationRetries = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_invocation_retries",
		Help:    "Retries per successful invocation",
		Buckets: []float64{0, 1, 2, 3, 5, 10},
	}, []string{"operation"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Tokens consumed by operation and direction",
	}, []string{"operation", "direction"}) // direction: "input", "output"

	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_cache_hits_total",
		Help: "Invocation cache hits by operation",
	}, []string{"operation"})

	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_cache_misses_total",
		Help: "Invocation cache misses by operation",
	}, []string{"operation"})
)

// Invocation outcomes.
const (
	statusSuccess   = "success"
	statusFatal     = "fatal"
	statusExhausted = "exhausted"
	statusCancelled = "cancelled"
)
