package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for rate limiting.
var (
	limiterWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_ratelimit_wait_seconds",
		Help:    "Time spent waiting for budget capacity",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"budget"})

	providerRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "llm_ratelimit_provider_remaining",
		Help: "Remaining capacity reported by provider rate limit headers",
	}, []string{"kind"})

	providerBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llm_ratelimit_provider_blocks_total",
		Help: "Total number of calls held until the provider window reset",
	})

	providerThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llm_ratelimit_provider_throttles_total",
		Help: "Total number of calls throttled due to low provider capacity",
	})
)
