//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/llm-guard/internal/testutil"
	"github.com/Sternrassler/llm-guard/pkg/cache"
	"github.com/Sternrassler/llm-guard/pkg/client"
	"github.com/Sternrassler/llm-guard/pkg/llm"
	"github.com/Sternrassler/llm-guard/pkg/provider"
	"github.com/Sternrassler/llm-guard/pkg/ratelimit"
	"github.com/Sternrassler/llm-guard/pkg/retry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// completions records OnComplete metrics.
type completions struct {
	mu   sync.Mutex
	seen []client.Metrics
}

func (c *completions) hook(m client.Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, m)
}

func (c *completions) all() []client.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]client.Metrics(nil), c.seen...)
}

type pipeline struct {
	client  *client.Client
	tracker *ratelimit.Tracker
	done    *completions
}

func newPipeline(t *testing.T, rdb *redis.Client, mock *testutil.MockProvider, maxAttempts int) pipeline {
	t.Helper()

	logger := zerolog.Nop()
	tracker := ratelimit.NewTracker(ratelimit.DefaultTrackerConfig(), logger)

	core, err := provider.New(provider.Config{
		BaseURL:        mock.URL(),
		Model:          "test-model",
		EmbeddingModel: "test-embed",
		Tracker:        tracker,
	})
	if err != nil {
		t.Fatalf("provider.New() error = %v", err)
	}

	done := &completions{}
	c, err := client.New(core, client.Config{
		Store:     cache.NewRedisStore(rdb, cache.RedisOptions{TTL: time.Hour}),
		Namespace: "integration",
		Limiter:   ratelimit.NewComposite(ratelimit.NewDualLimiter(60000, 600), tracker),
		Retry: retry.Policy{
			MaxAttempts:           maxAttempts,
			Backoff:               retry.Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond},
			DelayExtractor:        retry.RetryAfterDelay,
			HonorRecommendedDelay: true,
		},
		Hooks: client.Hooks{OnComplete: done.hook},
	})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })

	return pipeline{client: c, tracker: tracker, done: done}
}

// TestFullRequestFlow tests the complete flow: Cache miss → Limiter → Provider → Cache store → Cache hit.
func TestFullRequestFlow(t *testing.T) {
	rdb, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockProvider()
	defer mock.Close()

	p := newPipeline(t, rdb, mock, 3)
	ctx := context.Background()
	opts := llm.Options{Name: "summarize", Parameters: map[string]any{"temperature": 0}}

	// Request 1: cache miss, provider call
	res1, err := p.client.Complete(ctx, "summarize this", opts)
	if err != nil {
		t.Fatalf("Request 1 failed: %v", err)
	}
	if res1.Text != "summarize this" {
		t.Errorf("Request 1 text = %q, want echo", res1.Text)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("After request 1: provider requests = %d, want 1", mock.GetRequestCount())
	}

	key := p.client.CacheKey(llm.Completion("summarize this"), opts)
	ok, err := p.client.Cache().Has(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Has(%s) = (%v, %v), want entry in Redis", key, ok, err)
	}

	// Request 2: served from Redis
	res2, err := p.client.Complete(ctx, "summarize this", opts)
	if err != nil {
		t.Fatalf("Request 2 failed: %v", err)
	}
	if res2.Text != res1.Text {
		t.Errorf("Request 2 text = %q, want %q", res2.Text, res1.Text)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("After request 2: provider requests = %d, want 1", mock.GetRequestCount())
	}

	if got := len(p.done.all()); got != 1 {
		t.Errorf("OnComplete calls = %d, want 1 (hits bypass the resilient layer)", got)
	}

	// Provider headers reached the tracker
	state := p.tracker.State()
	if state.RemainingRequests != 499 {
		t.Errorf("tracker RemainingRequests = %d, want 499", state.RemainingRequests)
	}
}

// TestCacheSharedAcrossClients tests that a second process sees entries written by the first.
func TestCacheSharedAcrossClients(t *testing.T) {
	rdb, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockProvider()
	defer mock.Close()

	ctx := context.Background()
	opts := llm.Options{Name: "embed_docs"}

	first := newPipeline(t, rdb, mock, 3)
	vectors, err := first.client.Embed(ctx, []string{"a", "b", "c"}, opts)
	if err != nil {
		t.Fatalf("first Embed() error = %v", err)
	}

	second := newPipeline(t, rdb, mock, 3)
	cached, err := second.client.Embed(ctx, []string{"a", "b", "c"}, opts)
	if err != nil {
		t.Fatalf("second Embed() error = %v", err)
	}

	if mock.GetRequestCount() != 1 {
		t.Errorf("provider requests = %d, want 1", mock.GetRequestCount())
	}
	if len(cached) != len(vectors) {
		t.Fatalf("cached vectors = %d, want %d", len(cached), len(vectors))
	}
	for i := range vectors {
		if cached[i][0] != vectors[i][0] {
			t.Errorf("vector %d = %v, want %v", i, cached[i], vectors[i])
		}
	}
}

// TestRateLimitRetry tests that a 429 is retried after the recommended delay.
func TestRateLimitRetry(t *testing.T) {
	rdb, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockProvider()
	defer mock.Close()
	mock.Enqueue(provider.EndpointChat, testutil.NewRateLimitResponse(1))

	p := newPipeline(t, rdb, mock, 3)

	start := time.Now()
	res, err := p.client.Complete(context.Background(), "hello", llm.Options{Name: "greet"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Text != "hello" {
		t.Errorf("text = %q, want hello", res.Text)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("elapsed = %v, want >= Retry-After of 1s", elapsed)
	}

	done := p.done.all()
	if len(done) != 1 {
		t.Fatalf("OnComplete calls = %d, want 1", len(done))
	}
	if done[0].Attempts != 2 || done[0].Retries != 1 {
		t.Errorf("Metrics = {Attempts: %d, Retries: %d}, want {2, 1}", done[0].Attempts, done[0].Retries)
	}
}

// TestRetriesExhaustedNotCached tests that failed calls leave no cache entry.
func TestRetriesExhaustedNotCached(t *testing.T) {
	rdb, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockProvider()
	defer mock.Close()
	mock.Enqueue(provider.EndpointChat,
		testutil.NewServerErrorResponse(),
		testutil.NewServerErrorResponse(),
		testutil.NewServerErrorResponse(),
	)

	p := newPipeline(t, rdb, mock, 3)
	ctx := context.Background()
	opts := llm.Options{Name: "flaky"}

	_, err := p.client.Complete(ctx, "hello", opts)

	var exhausted *retry.RetriesExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Complete() error = %v, want *RetriesExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", exhausted.Attempts)
	}
	if mock.GetRequestCount() != 3 {
		t.Errorf("provider requests = %d, want 3", mock.GetRequestCount())
	}

	ok, err := p.client.Cache().Has(ctx, p.client.CacheKey(llm.Completion("hello"), opts))
	if err != nil || ok {
		t.Errorf("Has() = (%v, %v), want no entry after failure", ok, err)
	}
	if got := len(p.done.all()); got != 0 {
		t.Errorf("OnComplete calls = %d, want 0", got)
	}

	// Queue drained: the next call succeeds and is cached.
	if _, err := p.client.Complete(ctx, "hello", opts); err != nil {
		t.Fatalf("Complete() after recovery error = %v", err)
	}
}

// TestFatalErrorNotRetried tests that 4xx responses fail immediately.
func TestFatalErrorNotRetried(t *testing.T) {
	rdb, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockProvider()
	defer mock.Close()
	mock.Enqueue(provider.EndpointChat, testutil.NewBadRequestResponse("invalid model"))

	p := newPipeline(t, rdb, mock, 5)

	_, err := p.client.Complete(context.Background(), "hello", llm.Options{})

	var status *provider.StatusError
	if !errors.As(err, &status) || status.StatusCode != 400 {
		t.Fatalf("Complete() error = %v, want 400 StatusError", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("provider requests = %d, want 1", mock.GetRequestCount())
	}
}

// TestCacheClear tests that clearing the namespace forces a new provider call.
func TestCacheClear(t *testing.T) {
	rdb, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockProvider()
	defer mock.Close()

	p := newPipeline(t, rdb, mock, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := p.client.Complete(ctx, "hello", llm.Options{}); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
	}
	if err := p.client.Cache().Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := p.client.Complete(ctx, "hello", llm.Options{}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if mock.GetRequestCount() != 2 {
		t.Errorf("provider requests = %d, want 2", mock.GetRequestCount())
	}
}
