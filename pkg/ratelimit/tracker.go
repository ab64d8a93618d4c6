package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// MaxBlock caps how long a call is held for a provider reset.
	MaxBlock time.Duration

	// ThrottleDelay is the pause applied when capacity is low.
	ThrottleDelay time.Duration

	// StaleAfter ignores state older than this.
	StaleAfter time.Duration
}

// DefaultTrackerConfig returns the default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxBlock:      60 * time.Second,
		ThrottleDelay: 250 * time.Millisecond,
		StaleAfter:    2 * time.Minute,
	}
}

// Tracker follows the provider's own rate limit headers and gates calls when
// the provider reports that its window is exhausted. It complements the local
// DualLimiter: local budgets keep us under configured rates, the tracker
// reacts to what the provider actually sees. State is per process.
type Tracker struct {
	mu     sync.RWMutex
	state  ProviderState
	config TrackerConfig
	logger zerolog.Logger
}

// NewTracker creates a new provider rate limit tracker.
func NewTracker(cfg TrackerConfig, logger zerolog.Logger) *Tracker {
	def := DefaultTrackerConfig()
	if cfg.MaxBlock <= 0 {
		cfg.MaxBlock = def.MaxBlock
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	return &Tracker{
		state:  unknownState(),
		config: cfg,
		logger: logger,
	}
}

// State returns a snapshot of the current provider state.
func (t *Tracker) State() ProviderState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// UpdateFromHeaders parses provider rate limit headers. Responses without the
// headers leave the state unchanged.
func (t *Tracker) UpdateFromHeaders(headers http.Header) error {
	remainReq := headers.Get(HeaderRemainingRequests)
	remainTok := headers.Get(HeaderRemainingTokens)
	if remainReq == "" && remainTok == "" {
		return nil
	}

	now := time.Now()
	next := unknownState()
	next.LastUpdate = now

	if remainReq != "" {
		n, err := strconv.Atoi(strings.TrimSpace(remainReq))
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderRemainingRequests, err)
		}
		reset, err := parseReset(headers.Get(HeaderResetRequests))
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderResetRequests, err)
		}
		next.RemainingRequests = n
		next.RequestsResetAt = now.Add(reset)
		providerRemaining.WithLabelValues(BudgetRequests).Set(float64(n))
	}

	if remainTok != "" {
		n, err := strconv.Atoi(strings.TrimSpace(remainTok))
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderRemainingTokens, err)
		}
		reset, err := parseReset(headers.Get(HeaderResetTokens))
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderResetTokens, err)
		}
		next.RemainingTokens = n
		next.TokensResetAt = now.Add(reset)
		providerRemaining.WithLabelValues(BudgetTokens).Set(float64(n))
	}

	t.mu.Lock()
	t.state = next
	t.mu.Unlock()

	t.logger.Debug().
		Int("remaining_requests", next.RemainingRequests).
		Int("remaining_tokens", next.RemainingTokens).
		Msg("Provider rate limit state updated")

	return nil
}

// NeedsTokenCount is true: token headers are compared against the call size.
func (t *Tracker) NeedsTokenCount() bool {
	return true
}

// Acquire holds the call while the provider reports an exhausted window and
// throttles it briefly when capacity is low.
func (t *Tracker) Acquire(ctx context.Context, units int) error {
	state := t.State()
	if state.LastUpdate.IsZero() || state.IsStale(t.config.StaleAfter) {
		return nil
	}

	wait := state.BlockFor(units)
	if wait > t.config.MaxBlock {
		wait = t.config.MaxBlock
	}

	if wait > 0 {
		t.logger.Warn().
			Int("remaining_requests", state.RemainingRequests).
			Int("remaining_tokens", state.RemainingTokens).
			Dur("wait_duration", wait).
			Msg("Provider rate limit exhausted - holding request until reset")
		providerBlocksTotal.Inc()
		return sleep(ctx, wait)
	}

	if state.NeedsThrottling() && t.config.ThrottleDelay > 0 {
		t.logger.Debug().
			Int("remaining_requests", state.RemainingRequests).
			Msg("Provider rate limit low - throttling request")
		providerThrottlesTotal.Inc()
		return sleep(ctx, t.config.ThrottleDelay)
	}

	return nil
}

// parseReset parses reset durations such as "1s", "6m0s", "20ms" or a bare
// number of seconds. An empty value means "now".
func parseReset(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
