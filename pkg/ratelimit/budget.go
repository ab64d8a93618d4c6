package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Budget labels.
const (
	BudgetTokens   = "tokens"
	BudgetRequests = "requests"
)

// Budget is a per-minute token bucket. It refills continuously at
// perMinute/60 units per second and holds at most perMinute units.
//
// A nil *Budget is a disabled budget: Wait returns immediately.
type Budget struct {
	name      string
	perMinute int
	limiter   *rate.Limiter
}

// NewBudget creates a budget of perMinute units. A rate <= 0 means "no limit"
// and returns nil.
func NewBudget(name string, perMinute int) *Budget {
	if perMinute <= 0 {
		return nil
	}
	return &Budget{
		name:      name,
		perMinute: perMinute,
		limiter:   rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
	}
}

// Wait blocks until n units are available or ctx ends. Requests larger than
// the bucket are clamped to the bucket size: they wait for a full bucket.
// A waiter whose context ends gives its reservation back.
func (b *Budget) Wait(ctx context.Context, n int) error {
	if b == nil || n <= 0 {
		return nil
	}
	if n > b.perMinute {
		n = b.perMinute
	}

	start := time.Now()
	err := b.limiter.WaitN(ctx, n)
	limiterWaitSeconds.WithLabelValues(b.name).Observe(time.Since(start).Seconds())
	return err
}

// reserve takes n units at now, clamped to the bucket size.
func (b *Budget) reserve(now time.Time, n int) grant {
	if b == nil || n <= 0 {
		return grant{}
	}
	if n > b.perMinute {
		n = b.perMinute
	}
	r := b.limiter.ReserveN(now, n)
	return grant{name: b.name, r: r, delay: r.DelayFrom(now)}
}

// PerMinute returns the configured rate.
func (b *Budget) PerMinute() int {
	if b == nil {
		return 0
	}
	return b.perMinute
}

// Available returns the units currently in the bucket.
func (b *Budget) Available() float64 {
	if b == nil {
		return 0
	}
	return b.limiter.Tokens()
}

// DualLimiter enforces a tokens-per-minute and a requests-per-minute budget.
// Either budget may be disabled. Waiters are not served FIFO; under sustained
// overload a waiter may starve.
type DualLimiter struct {
	tokens   *Budget
	requests *Budget
}

// NewDualLimiter creates a limiter; a zero rate disables that budget.
func NewDualLimiter(tokensPerMinute, requestsPerMinute int) *DualLimiter {
	return &DualLimiter{
		tokens:   NewBudget(BudgetTokens, tokensPerMinute),
		requests: NewBudget(BudgetRequests, requestsPerMinute),
	}
}

// NeedsTokenCount is true when the token budget is enabled.
func (d *DualLimiter) NeedsTokenCount() bool {
	return d.tokens != nil
}

// Acquire waits until units tokens and one request are available together.
// Nothing is taken from either budget until both can grant at once.
func (d *DualLimiter) Acquire(ctx context.Context, units int) error {
	return acquireAll(ctx, []reserver{d}, units)
}

func (d *DualLimiter) reserve(now time.Time, units int) []grant {
	return []grant{d.tokens.reserve(now, units), d.requests.reserve(now, 1)}
}

// Tokens returns the token budget (nil when disabled).
func (d *DualLimiter) Tokens() *Budget {
	return d.tokens
}

// Requests returns the request budget (nil when disabled).
func (d *DualLimiter) Requests() *Budget {
	return d.requests
}

// reserver is a limiter whose budgets can be taken and returned at a single
// instant.
type reserver interface {
	reserve(now time.Time, units int) []grant
}

// grant is one budget's reservation.
type grant struct {
	name  string
	r     *rate.Reservation
	delay time.Duration
}

func (g grant) cancel(now time.Time) {
	if g.r != nil {
		g.r.CancelAt(now)
	}
}

// reserveMu makes reserve-then-cancel atomic across every budget.
var reserveMu sync.Mutex

// acquireAll takes units from every reserver at the same instant. When any
// budget cannot grant right away, all reservations are returned, the caller
// sleeps for the longest delay and tries again. A waiter whose context ends
// therefore holds nothing.
func acquireAll(ctx context.Context, rs []reserver, units int) error {
	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		reserveMu.Lock()
		now := time.Now()
		var grants []grant
		var wait time.Duration
		for _, r := range rs {
			for _, g := range r.reserve(now, units) {
				if g.r == nil {
					continue
				}
				grants = append(grants, g)
				if g.delay > wait {
					wait = g.delay
				}
			}
		}
		if wait == 0 {
			reserveMu.Unlock()
			for _, g := range grants {
				limiterWaitSeconds.WithLabelValues(g.name).Observe(time.Since(start).Seconds())
			}
			return nil
		}
		for i := len(grants) - 1; i >= 0; i-- {
			grants[i].cancel(now)
		}
		reserveMu.Unlock()

		if deadline, ok := ctx.Deadline(); ok && deadline.Sub(now) < wait {
			return fmt.Errorf("ratelimit: wait of %v would exceed context deadline: %w", wait, context.DeadlineExceeded)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}
