package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultRedisPrefix namespaces every key written by a RedisStore.
const DefaultRedisPrefix = "llm:cache:"

// clearBatchSize is the SCAN page size and DEL batch size used by Clear.
const clearBatchSize = 500

// RedisStore is a durable store backed by Redis. Entry lifetime is delegated
// to Redis through an optional TTL; zero means entries never expire.
type RedisStore struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Prefix is prepended to every key (default DefaultRedisPrefix).
	Prefix string

	// TTL is applied to every Set; zero disables expiry.
	TTL time.Duration

	// Logger overrides the default component logger.
	Logger *zerolog.Logger
}

// NewRedisStore creates a store over an existing Redis client.
func NewRedisStore(redisClient *redis.Client, opts RedisOptions) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisPrefix
	}

	logger := log.With().Str("component", "redis-cache").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &RedisStore{
		redis:  redisClient,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
		logger: logger,
	}
}

// Has reports whether key exists.
func (s *RedisStore) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or the entry is corrupt.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.redis.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(backendRedis).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		CacheCorruptEntries.WithLabelValues(backendRedis).Inc()
		dropCorrupt(ctx, s, s.logger, key, err)
		CacheMisses.WithLabelValues(backendRedis).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(backendRedis).Inc()
	return entry, nil
}

// Set stores value under key with the configured TTL. A nil value is a no-op.
func (s *RedisStore) Set(ctx context.Context, key string, value any, debug *Debug) error {
	if isNil(value) {
		return nil
	}
	if err := ValidateKey(key); err != nil {
		return err
	}

	data, err := encodeEntry(value, debug)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return err
	}

	if err := s.redis.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a cache entry.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.prefix+key).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear deletes every key under this store's prefix using SCAN, so it never
// blocks Redis with KEYS.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.redis.Scan(ctx, 0, s.prefix+"*", clearBatchSize).Iterator()

	batch := make([]string, 0, clearBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.redis.Del(ctx, batch...).Err(); err != nil {
			CacheErrors.WithLabelValues("clear").Inc()
			return fmt.Errorf("redis del: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= clearBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		CacheErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("redis scan: %w", err)
	}
	return flush()
}

// Child returns a store whose keys live under prefix + namespace + ":".
func (s *RedisStore) Child(namespace string) Store {
	return &RedisStore{
		redis:  s.redis,
		prefix: s.prefix + namespace + ":",
		ttl:    s.ttl,
		logger: s.logger,
	}
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.redis.Close()
}
