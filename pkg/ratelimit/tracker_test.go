package ratelimit

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestTracker(cfg TrackerConfig) *Tracker {
	return NewTracker(cfg, zerolog.New(os.Stderr).Level(zerolog.Disabled))
}

func TestTracker_UpdateFromHeaders(t *testing.T) {
	tests := []struct {
		name         string
		headers      map[string]string
		wantRequests int
		wantTokens   int
		wantErr      bool
	}{
		{
			name: "both windows",
			headers: map[string]string{
				HeaderRemainingRequests: "499",
				HeaderResetRequests:     "120ms",
				HeaderRemainingTokens:   "149000",
				HeaderResetTokens:       "6m0s",
			},
			wantRequests: 499,
			wantTokens:   149000,
		},
		{
			name: "requests only, seconds reset",
			headers: map[string]string{
				HeaderRemainingRequests: "3",
				HeaderResetRequests:     "1.5",
			},
			wantRequests: 3,
			wantTokens:   -1,
		},
		{
			name:         "no headers",
			headers:      map[string]string{},
			wantRequests: -1,
			wantTokens:   -1,
		},
		{
			name:    "bad remaining",
			headers: map[string]string{HeaderRemainingRequests: "lots"},
			wantErr: true,
		},
		{
			name: "bad reset",
			headers: map[string]string{
				HeaderRemainingTokens: "10",
				HeaderResetTokens:     "soon",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker(DefaultTrackerConfig())
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}

			err := tr.UpdateFromHeaders(h)
			if (err != nil) != tt.wantErr {
				t.Fatalf("UpdateFromHeaders() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			s := tr.State()
			if s.RemainingRequests != tt.wantRequests {
				t.Errorf("RemainingRequests = %d, want %d", s.RemainingRequests, tt.wantRequests)
			}
			if s.RemainingTokens != tt.wantTokens {
				t.Errorf("RemainingTokens = %d, want %d", s.RemainingTokens, tt.wantTokens)
			}
		})
	}
}

func TestProviderState_BlockFor(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		state ProviderState
		units int
		block bool
	}{
		{"unknown", unknownState(), 100, false},
		{
			"requests exhausted",
			ProviderState{RemainingRequests: 0, RemainingTokens: -1, RequestsResetAt: now.Add(time.Second)},
			1, true,
		},
		{
			"tokens short",
			ProviderState{RemainingRequests: 100, RemainingTokens: 50, TokensResetAt: now.Add(time.Second)},
			80, true,
		},
		{
			"tokens sufficient",
			ProviderState{RemainingRequests: 100, RemainingTokens: 500, TokensResetAt: now.Add(time.Second)},
			80, false,
		},
		{
			"reset already passed",
			ProviderState{RemainingRequests: 0, RemainingTokens: -1, RequestsResetAt: now.Add(-time.Second)},
			1, false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.BlockFor(tt.units) > 0; got != tt.block {
				t.Errorf("BlockFor(%d) > 0 = %v, want %v", tt.units, got, tt.block)
			}
		})
	}
}

func TestProviderState_NeedsThrottling(t *testing.T) {
	tests := []struct {
		remaining int
		want      bool
	}{
		{-1, false},
		{0, false},
		{1, true},
		{4, true},
		{5, false},
		{100, false},
	}

	for _, tt := range tests {
		s := ProviderState{RemainingRequests: tt.remaining}
		if got := s.NeedsThrottling(); got != tt.want {
			t.Errorf("NeedsThrottling() with %d remaining = %v, want %v", tt.remaining, got, tt.want)
		}
	}
}

func TestTracker_AcquireNoStateDoesNotBlock(t *testing.T) {
	tr := newTestTracker(DefaultTrackerConfig())

	start := time.Now()
	if err := tr.Acquire(context.Background(), 1000); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("Acquire() blocked without provider state")
	}
	if !tr.NeedsTokenCount() {
		t.Error("NeedsTokenCount() = false, want true")
	}
}

func TestTracker_AcquireBlocksUntilReset(t *testing.T) {
	tr := newTestTracker(TrackerConfig{MaxBlock: time.Second})

	h := http.Header{}
	h.Set(HeaderRemainingRequests, "0")
	h.Set(HeaderResetRequests, "80ms")
	if err := tr.UpdateFromHeaders(h); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := tr.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Acquire() returned after %v, want about 80ms", elapsed)
	}
}

func TestTracker_AcquireCappedByMaxBlock(t *testing.T) {
	tr := newTestTracker(TrackerConfig{MaxBlock: 30 * time.Millisecond})

	h := http.Header{}
	h.Set(HeaderRemainingTokens, "0")
	h.Set(HeaderResetTokens, "1h")
	if err := tr.UpdateFromHeaders(h); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := tr.Acquire(context.Background(), 10); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Acquire() took %v, want capped near 30ms", elapsed)
	}
}

func TestTracker_AcquireRespectsContext(t *testing.T) {
	tr := newTestTracker(TrackerConfig{MaxBlock: time.Minute})

	h := http.Header{}
	h.Set(HeaderRemainingRequests, "0")
	h.Set(HeaderResetRequests, "30s")
	if err := tr.UpdateFromHeaders(h); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := tr.Acquire(ctx, 1); err != context.DeadlineExceeded {
		t.Errorf("Acquire() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestTracker_ImplementsLimiter(t *testing.T) {
	var _ Limiter = (*Tracker)(nil)
	var _ Limiter = (*DualLimiter)(nil)
	var _ Limiter = (*Composite)(nil)
	var _ Limiter = Noop{}
}
