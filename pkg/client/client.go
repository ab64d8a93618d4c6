// Package client composes the resilience pipeline around a provider call.
//
// Every layer implements llm.Invoker and holds the next layer. The default
// stack, outermost first:
//
//	Traced -> Variables -> History -> Caching -> Validation -> StructuredOutput -> Resilient -> core
//
// Variables runs before Caching so that keys see the substituted prompt.
// Validation and StructuredOutput run inside Caching so that rejected output
// is never stored. Resilient is innermost so that a cache hit costs neither
// budget nor retries.
package client

import (
	"context"
	"fmt"

	"github.com/Sternrassler/llm-guard/pkg/cache"
	"github.com/Sternrassler/llm-guard/pkg/config"
	"github.com/Sternrassler/llm-guard/pkg/llm"
	"github.com/Sternrassler/llm-guard/pkg/ratelimit"
	"github.com/Sternrassler/llm-guard/pkg/retry"
	"github.com/Sternrassler/llm-guard/pkg/tokenizer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the pipeline configuration.
type Config struct {
	// Name is the default operation name.
	Name string

	// Store caches results. Nil disables caching.
	Store cache.Store

	// Namespace scopes the cache to a child of Store.
	Namespace string

	// Parameters are default model parameters, part of every cache key.
	Parameters map[string]any

	// Limiter gates provider calls. Nil means no limit.
	Limiter ratelimit.Limiter

	// Retry configures attempts and backoff.
	Retry retry.Policy

	// Counter sizes requests for token budgets.
	Counter tokenizer.Counter

	// Hooks observes cache activity and completed invocations.
	Hooks Hooks

	// Tracer enables tracing when set.
	Tracer trace.Tracer

	Logger *zerolog.Logger
}

// Client is the composed pipeline.
type Client struct {
	invoker llm.Invoker
	caching *Caching
	store   cache.Store
	logger  zerolog.Logger
}

// New builds the pipeline around core.
func New(core llm.Invoker, cfg Config) (*Client, error) {
	if core == nil {
		return nil, ErrNoInvoker
	}

	logger := log.With().Str("component", "llm-client").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	caching := NewCaching(nil, CachingConfig{
		Store:      cfg.Store,
		Namespace:  cfg.Namespace,
		Name:       cfg.Name,
		Parameters: cfg.Parameters,
		Hooks:      cfg.Hooks,
		Logger:     &logger,
	})

	var traced llm.Middleware
	if cfg.Tracer != nil {
		traced = Traced(cfg.Tracer)
	}

	inv := llm.Chain(core,
		WithResilience(ResilientConfig{
			Limiter: cfg.Limiter,
			Retrier: retry.New(withLogger(cfg.Retry, &logger)),
			Counter: cfg.Counter,
			Hooks:   cfg.Hooks,
			Logger:  &logger,
		}),
		StructuredOutput(),
		Validation(),
		func(next llm.Invoker) llm.Invoker {
			caching.next = next
			return caching
		},
		History(),
		Variables(),
		traced,
	)

	return &Client{
		invoker: inv,
		caching: caching,
		store:   cfg.Store,
		logger:  logger,
	}, nil
}

func withLogger(p retry.Policy, logger *zerolog.Logger) retry.Policy {
	if p.Logger == nil {
		p.Logger = logger
	}
	return p
}

// FromConfig builds the pipeline from loaded configuration: it opens the
// configured cache, builds the dual-budget limiter (composed with extra
// limiters such as a provider header tracker) and the retry policy.
func FromConfig(ctx context.Context, cfg *config.Config, core llm.Invoker, hooks Hooks, extra ...ratelimit.Limiter) (*Client, error) {
	logger := log.With().Str("component", "llm-client").Logger()

	store, err := cache.Open(ctx, cfg.Cache, &logger)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	limiters := append([]ratelimit.Limiter{ratelimit.FromConfig(cfg.RateLimit)}, extra...)

	c, err := New(core, Config{
		Store:   store,
		Limiter: ratelimit.NewComposite(limiters...),
		Retry:   PolicyFromConfig(cfg.RateLimit),
		Counter: tokenizer.ForModel(cfg.Provider.Model),
		Hooks:   hooks,
		Parameters: map[string]any{
			"model": cfg.Provider.Model,
		},
		Logger: &logger,
	})
	if err != nil {
		_ = cache.Close(store)
		return nil, err
	}

	logger.Info().
		Str("cache_type", string(cfg.Cache.Type)).
		Int("tokens_per_minute", cfg.RateLimit.TokensPerMinute).
		Int("requests_per_minute", cfg.RateLimit.RequestsPerMinute).
		Int("max_retries", cfg.RateLimit.MaxRetries).
		Msg("LLM client configured")

	return c, nil
}

// PolicyFromConfig maps rate limit configuration onto a retry policy.
// Provider-recommended delays are read from Retry-After values first and
// from error messages second.
func PolicyFromConfig(cfg config.RateLimitConfig) retry.Policy {
	p := retry.Policy{
		MaxAttempts:           cfg.MaxRetries,
		Backoff:               retry.DefaultBackoff(),
		DelayExtractor:        retry.FirstDelay(retry.RetryAfterDelay, retry.MessageDelay),
		HonorRecommendedDelay: cfg.SleepOnRateLimitRecommendation,
	}
	if wait := cfg.MaxRetryWait(); wait > 0 {
		p.Backoff.Max = wait
		if p.Backoff.Base > wait {
			p.Backoff.Base = wait
		}
	}
	return p
}

// Invoke implements llm.Invoker.
func (c *Client) Invoke(ctx context.Context, req llm.Request, opts llm.Options) (*llm.Result, error) {
	return c.invoker.Invoke(ctx, req, opts)
}

// Complete runs a completion call.
func (c *Client) Complete(ctx context.Context, prompt string, opts llm.Options) (*llm.Result, error) {
	return c.Invoke(ctx, llm.Completion(prompt), opts)
}

// Embed runs an embedding call and returns one vector per input.
func (c *Client) Embed(ctx context.Context, inputs []string, opts llm.Options) ([][]float32, error) {
	res, err := c.Invoke(ctx, llm.Embedding(inputs...), opts)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.Embeddings, nil
}

// CacheKey returns the key a call would be cached under.
func (c *Client) CacheKey(req llm.Request, opts llm.Options) string {
	key, _ := c.caching.Key(req, opts)
	return key
}

// Cache returns the store used by the pipeline (namespaced).
func (c *Client) Cache() cache.Store {
	return c.caching.Store()
}

// Close releases the cache store if it owns resources.
func (c *Client) Close() error {
	if c.store == nil {
		return nil
	}
	return cache.Close(c.store)
}
