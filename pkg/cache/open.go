package cache

import (
	"context"
	"fmt"

	"github.com/Sternrassler/llm-guard/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Open builds the store selected by cfg.Type. The configuration is validated
// first; a missing backend-specific field yields a *config.ConfigError.
// Release the store with Close.
func Open(ctx context.Context, cfg config.CacheConfig, logger *zerolog.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case config.CacheFile:
		return NewFileStore(cfg.BaseDir, logger)

	case config.CacheBlob:
		return OpenBlobStore(ctx, cfg, logger)

	case config.CacheMemory:
		return NewMemoryStore(), nil

	case config.CacheNone:
		return NewNoopStore(), nil

	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisStore(client, RedisOptions{TTL: cfg.RedisTTL, Logger: logger}), nil
	}

	return nil, &config.ConfigError{Field: "cache.type", Reason: fmt.Sprintf("unknown cache type %q", cfg.Type)}
}
