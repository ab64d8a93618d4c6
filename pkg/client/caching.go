package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/Sternrassler/llm-guard/pkg/cache"
	"github.com/Sternrassler/llm-guard/pkg/llm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// CachingConfig configures the caching layer.
type CachingConfig struct {
	// Store holds cached results. Nil disables caching.
	Store cache.Store

	// Namespace scopes this layer to a child of Store.
	Namespace string

	// Name is the default operation name when Options.Name is empty.
	Name string

	// Parameters are the configured model parameters; per-call
	// Options.Parameters override them key by key.
	Parameters map[string]any

	// Hooks receives OnCacheHit and OnCacheMiss.
	Hooks Hooks

	Logger *zerolog.Logger
}

// Caching returns cached results for repeated identical calls.
//
// Identical misses that overlap in time share one delegate call. The shared
// call keeps running while at least one caller waits for it and is cancelled
// once every waiter has gone.
type Caching struct {
	next   llm.Invoker
	store  cache.Store
	name   string
	params map[string]any
	hooks  Hooks
	logger zerolog.Logger

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the shared context of one collapsed miss.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// cachedInput is the debug record stored next to a result.
type cachedInput struct {
	Request llm.Request   `json:"request"`
	History []llm.Message `json:"history,omitempty"`
}

// NewCaching wraps next.
func NewCaching(next llm.Invoker, cfg CachingConfig) *Caching {
	store := cfg.Store
	if store == nil {
		store = cache.NewNoopStore()
	}
	if cfg.Namespace != "" {
		store = store.Child(cfg.Namespace)
	}

	c := &Caching{
		next:    next,
		store:   store,
		name:    cfg.Name,
		params:  cfg.Parameters,
		hooks:   cfg.Hooks,
		logger:  log.With().Str("component", "caching").Logger(),
		flights: make(map[string]*flight),
	}
	if cfg.Logger != nil {
		c.logger = *cfg.Logger
	}
	return c
}

// WithCaching returns a middleware building a Caching layer.
func WithCaching(cfg CachingConfig) llm.Middleware {
	return func(next llm.Invoker) llm.Invoker {
		return NewCaching(next, cfg)
	}
}

// Store returns the (namespaced) store used by this layer.
func (c *Caching) Store() cache.Store {
	return c.store
}

// Key returns the cache key and operation name for a call.
func (c *Caching) Key(req llm.Request, opts llm.Options) (key, name string) {
	name = opts.Name
	if name == "" {
		name = c.name
	}
	tag := string(req.Kind)
	if tag == "" {
		tag = string(llm.KindCompletion)
	}
	if name != "" {
		tag = name + "_" + tag
	} else {
		name = tag
	}

	return cache.DeriveKey(tag, payload(req, opts), c.mergedParameters(opts)), name
}

// Invoke implements llm.Invoker.
func (c *Caching) Invoke(ctx context.Context, req llm.Request, opts llm.Options) (*llm.Result, error) {
	key, name := c.Key(req, opts)

	// Step 1: lookup. Store failures and entries the caller's validator
	// rejects degrade to a miss.
	if res, ok := c.lookup(ctx, key); ok {
		if accepts(res, opts) {
			c.hooks.cacheHit(key, name)
			return res, nil
		}
		c.logger.Debug().Str("cache_key", key).Str("operation", name).Msg("Cached result rejected by validator, refetching")
	}
	c.hooks.cacheMiss(key, name)

	// Step 2: collapse concurrent misses.
	f := c.join(ctx, key)
	defer c.leave(key, f)

	ch := c.group.DoChan(key, func() (any, error) {
		return c.fill(f.ctx, key, req, opts)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			// The shared call was cancelled by waiters that left before we
			// joined; run our own.
			if errors.Is(r.Err, context.Canceled) && ctx.Err() == nil {
				return c.fill(ctx, key, req, opts)
			}
			return nil, r.Err
		}
		res, _ := r.Val.(*llm.Result)
		// A shared call started by a caller with another validator.
		if res != nil && !accepts(res, opts) {
			return c.fill(ctx, key, req, opts)
		}
		return res.Clone(), nil
	}
}

// accepts reports whether opts.Validate, if set, accepts res.
func accepts(res *llm.Result, opts llm.Options) bool {
	return opts.Validate == nil || opts.Validate(res)
}

// lookup reads and decodes key. Entries that do not decode into a Result
// are deleted.
func (c *Caching) lookup(ctx context.Context, key string) (*llm.Result, bool) {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("cache_key", key).Msg("Cache get error, calling provider")
		}
		return nil, false
	}

	var res llm.Result
	if err := entry.Decode(&res); err != nil {
		c.logger.Warn().Err(err).Str("cache_key", key).Msg("Deleting undecodable cache entry")
		if delErr := c.store.Delete(ctx, key); delErr != nil {
			c.logger.Warn().Err(delErr).Str("cache_key", key).Msg("Failed to delete cache entry")
		}
		return nil, false
	}
	return &res, true
}

// fill calls the delegate and stores a non-nil result.
func (c *Caching) fill(ctx context.Context, key string, req llm.Request, opts llm.Options) (*llm.Result, error) {
	res, err := c.next.Invoke(ctx, req, opts)
	if err != nil || res == nil {
		return res, err
	}

	debug := &cache.Debug{
		Input:      cachedInput{Request: req, History: opts.History},
		Parameters: c.mergedParameters(opts),
	}
	if err := c.store.Set(ctx, key, res, debug); err != nil {
		c.logger.Warn().Err(err).Str("cache_key", key).Msg("Failed to cache result")
	}
	return res, nil
}

func (c *Caching) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

func (c *Caching) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
}

func (c *Caching) mergedParameters(opts llm.Options) map[string]any {
	merged := make(map[string]any, len(c.params)+len(opts.Parameters)+1)
	for k, v := range c.params {
		merged[k] = v
	}
	for k, v := range opts.Parameters {
		merged[k] = v
	}
	if opts.JSON {
		merged["response_format"] = "json_object"
	}
	return merged
}

// payload is the request payload followed by the conversation history.
func payload(req llm.Request, opts llm.Options) string {
	p := req.Payload()
	if len(opts.History) == 0 {
		return p
	}
	history, err := json.Marshal(opts.History)
	if err != nil {
		return p
	}
	return p + "\x1e" + string(history)
}
