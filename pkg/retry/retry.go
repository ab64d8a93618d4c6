// Package retry implements the per-call retry state machine: classify each
// failure as fatal, retryable or rate-limited, back off with jitter (or honor
// a provider-recommended delay) and give up with a RetriesExhaustedError once
// the attempt budget is spent.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxAttempts is used when Policy.MaxAttempts is not positive.
const DefaultMaxAttempts = 10

// DefaultMaxRecommendedDelay caps provider-recommended waits.
const DefaultMaxRecommendedDelay = 60 * time.Second

// Policy configures a Retrier.
type Policy struct {
	// MaxAttempts is the maximum number of attempts, the first one included.
	MaxAttempts int

	// Backoff computes delays after retryable failures, and after rate-limit
	// failures without a usable recommendation.
	Backoff Backoff

	// Classifier decides the class of each failure. Nil classifies every
	// error as fatal.
	Classifier Classifier

	// DelayExtractor finds provider-recommended waits. Nil means NoDelay.
	DelayExtractor DelayExtractor

	// HonorRecommendedDelay enables DelayExtractor for rate-limit failures.
	HonorRecommendedDelay bool

	// MaxRecommendedDelay caps a recommended wait.
	MaxRecommendedDelay time.Duration

	// Logger receives retry logs. Nil uses the global logger.
	Logger *zerolog.Logger
}

// Stats describes one logical call.
type Stats struct {
	// Attempts is the number of times the function ran.
	Attempts int

	// Retries is Attempts - 1 on success.
	Retries int

	// AttemptDurations holds the wall-clock time of each attempt.
	AttemptDurations []time.Duration

	// Total is the wall-clock time of the whole call, sleeps included.
	Total time.Duration
}

// Retrier runs functions under a Policy. It holds no per-call state and is
// safe for concurrent use.
type Retrier struct {
	policy Policy
	logger zerolog.Logger
}

// New creates a Retrier, filling unset policy fields with defaults.
func New(p Policy) *Retrier {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	def := DefaultBackoff()
	if p.Backoff.Base <= 0 {
		p.Backoff.Base = def.Base
	}
	if p.Backoff.Max <= 0 {
		p.Backoff.Max = def.Max
	}
	if p.Backoff.Base > p.Backoff.Max {
		p.Backoff.Base = p.Backoff.Max
	}
	if p.Backoff.Multiplier <= 0 {
		p.Backoff.Multiplier = 2.0
	}
	if p.Classifier == nil {
		p.Classifier = ErrorSets{}
	}
	if p.DelayExtractor == nil {
		p.DelayExtractor = NoDelay
	}
	if p.MaxRecommendedDelay <= 0 {
		p.MaxRecommendedDelay = DefaultMaxRecommendedDelay
	}

	logger := log.With().Str("component", "retry").Logger()
	if p.Logger != nil {
		logger = *p.Logger
	}

	return &Retrier{policy: p, logger: logger}
}

// Policy returns the effective policy.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do runs fn until it succeeds, fails fatally or the attempt budget is spent.
//
// Fatal errors are returned unchanged after the attempt that produced them.
// Exhaustion returns *RetriesExhaustedError. A context that ends during a
// backoff sleep returns an error matching both ErrContextCancelled and the
// context error.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) (Stats, error) {
	p := r.policy
	start := time.Now()
	stats := Stats{AttemptDurations: make([]time.Duration, 0, 1)}

	var lastErr error
	var lastClass ErrorClass
	backoffN := 0

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		attemptStart := time.Now()
		err := fn(ctx)
		stats.Attempts = attempt
		stats.AttemptDurations = append(stats.AttemptDurations, time.Since(attemptStart))

		if err == nil {
			stats.Retries = attempt - 1
			stats.Total = time.Since(start)
			if attempt > 1 {
				r.logger.Info().
					Str("operation", operation).
					Int("attempt", attempt).
					Msg("Call succeeded after retry")
			}
			return stats, nil
		}

		lastErr = err
		lastClass = p.Classifier.Classify(err)

		// Step 1: fatal errors propagate as-is.
		if lastClass == ClassFatal {
			stats.Retries = attempt - 1
			stats.Total = time.Since(start)
			return stats, err
		}

		// Step 2: no sleep after the final attempt.
		if attempt >= p.MaxAttempts {
			break
		}

		// Step 3: pick the wait.
		wait, recommended := r.waitFor(lastClass, err, &backoffN)

		retriesTotal.WithLabelValues(string(lastClass)).Inc()
		retryBackoffSeconds.WithLabelValues(string(lastClass)).Observe(wait.Seconds())

		r.logger.Warn().
			Err(err).
			Str("operation", operation).
			Str("error_class", string(lastClass)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Bool("recommended", recommended).
			Msg("Retrying call after backoff")

		// Step 4: sleep with context cancellation support.
		if err := sleep(ctx, wait); err != nil {
			r.logger.Warn().
				Str("operation", operation).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			stats.Total = time.Since(start)
			return stats, fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
	}

	stats.Retries = stats.Attempts - 1
	stats.Total = time.Since(start)

	retryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	r.logger.Error().
		Err(lastErr).
		Str("operation", operation).
		Str("error_class", string(lastClass)).
		Int("max_attempts", p.MaxAttempts).
		Msg("Retry attempts exhausted")

	return stats, &RetriesExhaustedError{
		Operation: operation,
		Attempts:  stats.Attempts,
		Last:      lastErr,
	}
}

// waitFor returns the sleep before the next attempt and whether it came from
// a provider recommendation. backoffN counts backoff-derived waits.
func (r *Retrier) waitFor(class ErrorClass, err error, backoffN *int) (time.Duration, bool) {
	p := r.policy
	if class == ClassRateLimit && p.HonorRecommendedDelay {
		if d, ok := p.DelayExtractor(err); ok && d > 0 {
			if d > p.MaxRecommendedDelay {
				d = p.MaxRecommendedDelay
			}
			return d, true
		}
	}
	*backoffN++
	return p.Backoff.Delay(*backoffN), false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
