// Package metrics exposes the Prometheus registry used by llm-guard.
// Metrics are defined in their respective packages (cache, ratelimit, retry,
// provider, client) via promauto to avoid circular dependencies.
//
// This package serves them and documents what is available.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all llm-guard metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns an http.Handler serving Gatherer in the exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Names lists every llm-guard metric family.
var Names = []string{
	"llm_invocations_total",
	"llm_invocation_duration_seconds",
	"llm_invocation_retries",
	"llm_tokens_total",
	"llm_cache_hits_total",
	"llm_cache_misses_total",
	"llm_cache_store_hits_total",
	"llm_cache_store_misses_total",
	"llm_cache_corrupt_entries_total",
	"llm_cache_errors_total",
	"llm_retries_total",
	"llm_retry_backoff_seconds",
	"llm_retry_exhausted_total",
	"llm_ratelimit_wait_seconds",
	"llm_ratelimit_provider_remaining",
	"llm_ratelimit_provider_blocks_total",
	"llm_ratelimit_provider_throttles_total",
	"llm_provider_requests_total",
	"llm_provider_request_duration_seconds",
	"llm_provider_errors_total",
}

// Metrics Documentation
//
// Invocation Metrics (pkg/client):
//   - llm_invocations_total{operation, status} (Counter): Logical calls by outcome (success, fatal, exhausted, cancelled)
//   - llm_invocation_duration_seconds{operation} (Histogram): Wall time of a call including retries
//   - llm_invocation_retries{operation} (Histogram): Retries per successful call
//   - llm_tokens_total{operation, direction} (Counter): Token usage (input, output)
//   - llm_cache_hits_total{operation} (Counter): Pipeline cache hits
//   - llm_cache_misses_total{operation} (Counter): Pipeline cache misses
//
// Cache Store Metrics (pkg/cache):
//   - llm_cache_store_hits_total{backend} (Counter): Store reads that found an entry
//   - llm_cache_store_misses_total{backend} (Counter): Store reads without an entry
//   - llm_cache_corrupt_entries_total{backend} (Counter): Undecodable entries deleted on read
//   - llm_cache_errors_total{operation} (Counter): Store operation errors
//
// Retry Metrics (pkg/retry):
//   - llm_retries_total{error_class} (Counter): Retry attempts by error class
//   - llm_retry_backoff_seconds{error_class} (Histogram): Sleep before each retry
//   - llm_retry_exhausted_total{error_class} (Counter): Calls that used every attempt
//
// Rate Limit Metrics (pkg/ratelimit):
//   - llm_ratelimit_wait_seconds{budget} (Histogram): Time spent waiting for tokens or requests
//   - llm_ratelimit_provider_remaining{kind} (Gauge): Provider-reported remaining requests/tokens
//   - llm_ratelimit_provider_blocks_total (Counter): Calls blocked until the provider window reset
//   - llm_ratelimit_provider_throttles_total (Counter): Calls delayed by low remaining budget
//
// Provider Metrics (pkg/provider):
//   - llm_provider_requests_total{endpoint, status} (Counter): HTTP requests by endpoint and status
//   - llm_provider_request_duration_seconds{endpoint} (Histogram): HTTP request duration
//   - llm_provider_errors_total{class} (Counter): Errors by class (fatal, retryable, rate_limit, network)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(llm_cache_hits_total[5m])) /
//   (sum(rate(llm_cache_hits_total[5m])) + sum(rate(llm_cache_misses_total[5m])))
//
//   # Exhausted Calls
//   rate(llm_invocations_total{status="exhausted"}[5m])
//
//   # Token Spend per Operation
//   sum by (operation) (rate(llm_tokens_total[1h]))
//
//   # P95 Call Latency
//   histogram_quantile(0.95, rate(llm_invocation_duration_seconds_bucket[5m]))
