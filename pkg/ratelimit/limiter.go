// Package ratelimit provides composable rate limiters for LLM provider calls.
//
// A Limiter has one primitive, Acquire(units), which suspends until every
// budget grants permission. Limiters never deny; they only delay. The only
// error is the caller's context ending while waiting, and a cancelled waiter
// leaves the shared counters as they were.
package ratelimit

import (
	"context"

	"github.com/Sternrassler/llm-guard/pkg/config"
)

// Limiter gates calls against one or more budgets.
type Limiter interface {
	// NeedsTokenCount reports whether Acquire needs the request size in tokens.
	NeedsTokenCount() bool

	// Acquire blocks until units may be spent or ctx ends.
	Acquire(ctx context.Context, units int) error
}

// Noop never blocks.
type Noop struct{}

// NeedsTokenCount is always false.
func (Noop) NeedsTokenCount() bool { return false }

// Acquire returns immediately.
func (Noop) Acquire(ctx context.Context, _ int) error { return nil }

// Composite chains limiters; a call proceeds only once every child granted it.
// Any Limiter may be a child. Nested composites are flattened.
//
// Children from other packages are acquired first, in order. The budgets of
// this package (DualLimiter) are then taken together at a single instant, so
// a call cancelled at any point leaves them untouched.
type Composite struct {
	limiters []Limiter
}

// NewComposite builds a composite over the non-nil limiters, in order.
func NewComposite(limiters ...Limiter) *Composite {
	c := &Composite{limiters: make([]Limiter, 0, len(limiters))}
	for _, l := range limiters {
		switch l := l.(type) {
		case nil:
		case *Composite:
			if l != nil {
				c.limiters = append(c.limiters, l.limiters...)
			}
		default:
			c.limiters = append(c.limiters, l)
		}
	}
	return c
}

// NeedsTokenCount is true if any child needs a token count.
func (c *Composite) NeedsTokenCount() bool {
	for _, l := range c.limiters {
		if l.NeedsTokenCount() {
			return true
		}
	}
	return false
}

// Acquire acquires units from every child.
func (c *Composite) Acquire(ctx context.Context, units int) error {
	var budgets []reserver
	for _, l := range c.limiters {
		if r, ok := l.(reserver); ok {
			budgets = append(budgets, r)
			continue
		}
		if err := l.Acquire(ctx, units); err != nil {
			return err
		}
	}
	if len(budgets) == 0 {
		return nil
	}
	return acquireAll(ctx, budgets, units)
}

// Len returns the number of children after flattening.
func (c *Composite) Len() int {
	return len(c.limiters)
}

// FromConfig builds a dual-budget limiter from the configured rates. A rate of
// zero disables that budget rather than blocking every call.
func FromConfig(cfg config.RateLimitConfig) *DualLimiter {
	return NewDualLimiter(cfg.TokensPerMinute, cfg.RequestsPerMinute)
}
