package client

import (
	"time"

	"github.com/rs/zerolog"
)

// Metrics describes one successful logical invocation.
type Metrics struct {
	// Operation is the operation name.
	Operation string

	// InvocationID identifies the invocation in logs.
	InvocationID string

	// Attempts is the number of delegate calls made.
	Attempts int

	// Retries is Attempts - 1.
	Retries int

	// TotalTime is the wall-clock time, limiter wait and backoff included.
	TotalTime time.Duration

	// AttemptTimes is the wall-clock time of each attempt.
	AttemptTimes []time.Duration

	// InputTokens is provider-reported or estimated; 0 if unknown.
	InputTokens int

	// OutputTokens is provider-reported or estimated; 0 if unknown.
	OutputTokens int
}

// Hooks are optional observers. Any field may be nil.
type Hooks struct {
	// OnCacheHit is called with the cache key and operation name on a hit.
	OnCacheHit func(key, name string)

	// OnCacheMiss is called with the cache key and operation name on a miss.
	OnCacheMiss func(key, name string)

	// OnComplete is called after a successful invocation. It is not called
	// for fatal errors or exhausted retries.
	OnComplete func(Metrics)
}

func (h Hooks) cacheHit(key, name string) {
	if h.OnCacheHit != nil {
		h.OnCacheHit(key, name)
	}
}

func (h Hooks) cacheMiss(key, name string) {
	if h.OnCacheMiss != nil {
		h.OnCacheMiss(key, name)
	}
}

func (h Hooks) complete(m Metrics) {
	if h.OnComplete != nil {
		h.OnComplete(m)
	}
}

// MergeHooks returns hooks that call every non-nil hook of each argument in order.
func MergeHooks(hooks ...Hooks) Hooks {
	var merged Hooks

	var hits, misses []func(string, string)
	var completes []func(Metrics)
	for _, h := range hooks {
		if h.OnCacheHit != nil {
			hits = append(hits, h.OnCacheHit)
		}
		if h.OnCacheMiss != nil {
			misses = append(misses, h.OnCacheMiss)
		}
		if h.OnComplete != nil {
			completes = append(completes, h.OnComplete)
		}
	}

	if len(hits) > 0 {
		merged.OnCacheHit = func(key, name string) {
			for _, fn := range hits {
				fn(key, name)
			}
		}
	}
	if len(misses) > 0 {
		merged.OnCacheMiss = func(key, name string) {
			for _, fn := range misses {
				fn(key, name)
			}
		}
	}
	if len(completes) > 0 {
		merged.OnComplete = func(m Metrics) {
			for _, fn := range completes {
				fn(m)
			}
		}
	}
	return merged
}

// PrometheusHooks records cache and token metrics.
func PrometheusHooks() Hooks {
	return Hooks{
		OnCacheHit: func(_, name string) {
			cacheHitsTotal.WithLabelValues(name).Inc()
		},
		OnCacheMiss: func(_, name string) {
			cacheMissesTotal.WithLabelValues(name).Inc()
		},
		OnComplete: func(m Metrics) {
			invocationRetries.WithLabelValues(m.Operation).Observe(float64(m.Retries))
			if m.InputTokens > 0 {
				tokensTotal.WithLabelValues(m.Operation, "input").Add(float64(m.InputTokens))
			}
			if m.OutputTokens > 0 {
				tokensTotal.WithLabelValues(m.Operation, "output").Add(float64(m.OutputTokens))
			}
		},
	}
}

// LoggingHooks logs cache activity at debug level and completions at info.
func LoggingHooks(logger zerolog.Logger) Hooks {
	return Hooks{
		OnCacheHit: func(key, name string) {
			logger.Debug().Str("operation", name).Str("cache_key", key).Msg("Cache hit")
		},
		OnCacheMiss: func(key, name string) {
			logger.Debug().Str("operation", name).Str("cache_key", key).Msg("Cache miss")
		},
		OnComplete: func(m Metrics) {
			logger.Info().
				Str("operation", m.Operation).
				Str("invocation_id", m.InvocationID).
				Int("attempts", m.Attempts).
				Int("retries", m.Retries).
				Dur("duration", m.TotalTime).
				Int("input_tokens", m.InputTokens).
				Int("output_tokens", m.OutputTokens).
				Msg("Invocation completed")
		},
	}
}
