package ratelimit

import (
	"time"
)

// Provider rate limit headers (OpenAI-compatible).
const (
	HeaderRemainingRequests = "X-Ratelimit-Remaining-Requests"
	HeaderRemainingTokens   = "X-Ratelimit-Remaining-Tokens"
	HeaderResetRequests     = "X-Ratelimit-Reset-Requests"
	HeaderResetTokens       = "X-Ratelimit-Reset-Tokens"
)

// Thresholds for provider-reported request capacity.
const (
	// RequestThresholdCritical holds calls until reset when remaining requests
	// fall below this value.
	RequestThresholdCritical = 1

	// RequestThresholdWarning throttles calls when remaining requests fall
	// below this value.
	RequestThresholdWarning = 5
)

// ProviderState is the last rate limit state reported by the provider.
type ProviderState struct {
	// RemainingRequests in the current provider window; -1 when unknown.
	RemainingRequests int `json:"remaining_requests"`

	// RemainingTokens in the current provider window; -1 when unknown.
	RemainingTokens int `json:"remaining_tokens"`

	// RequestsResetAt is when the request window resets.
	RequestsResetAt time.Time `json:"requests_reset_at"`

	// TokensResetAt is when the token window resets.
	TokensResetAt time.Time `json:"tokens_reset_at"`

	// LastUpdate is when the state was last refreshed from headers.
	LastUpdate time.Time `json:"last_update"`
}

// unknownState is the state before any headers were seen.
func unknownState() ProviderState {
	return ProviderState{RemainingRequests: -1, RemainingTokens: -1}
}

// IsStale returns true if the state is older than maxAge.
func (s ProviderState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// BlockFor returns how long a call of units tokens must wait for the provider
// window to reset; 0 means it may proceed.
func (s ProviderState) BlockFor(units int) time.Duration {
	var wait time.Duration
	if s.RemainingRequests >= 0 && s.RemainingRequests < RequestThresholdCritical {
		wait = maxDuration(wait, time.Until(s.RequestsResetAt))
	}
	if s.RemainingTokens >= 0 && units > 0 && s.RemainingTokens < units {
		wait = maxDuration(wait, time.Until(s.TokensResetAt))
	}
	if wait < 0 {
		return 0
	}
	return wait
}

// NeedsThrottling returns true when request capacity is low but not critical.
func (s ProviderState) NeedsThrottling() bool {
	return s.RemainingRequests >= RequestThresholdCritical && s.RemainingRequests < RequestThresholdWarning
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
