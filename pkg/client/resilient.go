package client

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/llm-guard/pkg/llm"
	"github.com/Sternrassler/llm-guard/pkg/ratelimit"
	"github.com/Sternrassler/llm-guard/pkg/retry"
	"github.com/Sternrassler/llm-guard/pkg/tokenizer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ResilientConfig configures the rate limiting and retry layer.
type ResilientConfig struct {
	// Limiter is acquired once per logical call. Nil means no limit.
	Limiter ratelimit.Limiter

	// Retrier runs the attempts. Nil uses retry defaults.
	Retrier *retry.Retrier

	// Counter sizes requests for token budgets. Nil uses the estimator.
	Counter tokenizer.Counter

	// Hooks receives OnComplete.
	Hooks Hooks

	Logger *zerolog.Logger
}

// Resilient gates calls through a limiter and retries transient failures.
type Resilient struct {
	next    llm.Invoker
	limiter ratelimit.Limiter
	retrier *retry.Retrier
	counter tokenizer.Counter
	hooks   Hooks
	logger  zerolog.Logger
}

// NewResilient wraps next.
func NewResilient(next llm.Invoker, cfg ResilientConfig) *Resilient {
	r := &Resilient{
		next:    next,
		limiter: cfg.Limiter,
		retrier: cfg.Retrier,
		counter: cfg.Counter,
		hooks:   cfg.Hooks,
		logger:  log.With().Str("component", "resilient").Logger(),
	}
	if r.limiter == nil {
		r.limiter = ratelimit.Noop{}
	}
	if r.retrier == nil {
		r.retrier = retry.New(retry.Policy{})
	}
	if r.counter == nil {
		r.counter = tokenizer.Estimator{}
	}
	if cfg.Logger != nil {
		r.logger = *cfg.Logger
	}
	return r
}

// WithResilience returns a middleware building a Resilient layer.
func WithResilience(cfg ResilientConfig) llm.Middleware {
	return func(next llm.Invoker) llm.Invoker {
		return NewResilient(next, cfg)
	}
}

// Invoke implements llm.Invoker.
func (r *Resilient) Invoke(ctx context.Context, req llm.Request, opts llm.Options) (*llm.Result, error) {
	op := operationName(req, opts)
	start := time.Now()

	// Step 1: size the request if a budget needs it.
	units := 1
	counted := 0
	if r.limiter.NeedsTokenCount() {
		n, err := tokenizer.CountRequest(r.counter, req, opts)
		if err != nil {
			r.logger.Warn().Err(err).Str("operation", op).Msg("Token count failed, acquiring one unit")
		} else if n > 0 {
			units, counted = n, n
		}
	}

	// Step 2: acquire once per logical call.
	if err := r.limiter.Acquire(ctx, units); err != nil {
		invocationsTotal.WithLabelValues(op, statusCancelled).Inc()
		return nil, err
	}

	// Step 3: attempts.
	var result *llm.Result
	stats, err := r.retrier.Do(ctx, op, func(ctx context.Context) error {
		res, err := r.next.Invoke(ctx, req, opts)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	invocationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		invocationsTotal.WithLabelValues(op, failureStatus(err)).Inc()
		return nil, err
	}
	invocationsTotal.WithLabelValues(op, statusSuccess).Inc()

	// Step 4: report.
	m := Metrics{
		Operation:    op,
		InvocationID: uuid.NewString(),
		Attempts:     stats.Attempts,
		Retries:      stats.Retries,
		TotalTime:    time.Since(start),
		AttemptTimes: stats.AttemptDurations,
		InputTokens:  counted,
	}
	if result != nil {
		if result.Usage.InputTokens > 0 {
			m.InputTokens = result.Usage.InputTokens
		}
		m.OutputTokens = result.Usage.OutputTokens
		if m.OutputTokens == 0 && result.Text != "" {
			if n, err := r.counter.Count(result.Text); err == nil {
				m.OutputTokens = n
			}
		}
	}
	r.hooks.complete(m)

	return result, nil
}

func failureStatus(err error) string {
	switch {
	case errors.Is(err, retry.ErrRetriesExhausted):
		return statusExhausted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return statusCancelled
	default:
		return statusFatal
	}
}

// operationName is the caller-supplied name, or the request kind.
func operationName(req llm.Request, opts llm.Options) string {
	if opts.Name != "" {
		return opts.Name
	}
	if req.Kind == "" {
		return string(llm.KindCompletion)
	}
	return string(req.Kind)
}
