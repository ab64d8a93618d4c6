package cache

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrInvalidKey indicates an empty or malformed cache key
	ErrInvalidKey = errors.New("invalid cache key")
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Store is a namespaced key/value store for cached invocation results.
//
// Implementations must be safe for concurrent use. Get returns ErrCacheMiss
// for absent keys; corrupt entries are deleted and reported as misses.
type Store interface {
	// Has reports whether key exists.
	Has(ctx context.Context, key string) (bool, error)

	// Get returns the entry stored under key.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores value under key. A nil value is a no-op.
	Set(ctx context.Context, key string, value any, debug *Debug) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every key in this store's namespace, children included.
	Clear(ctx context.Context) error

	// Child returns a store scoped under namespace.
	Child(namespace string) Store
}

// ValidateKey checks if a key is usable by every backend.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" || len(key) > MaxKeyLength {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, "\n\r\x00") {
		return ErrInvalidKey
	}
	return nil
}

// Close releases resources held by s if it owns any.
func Close(s Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// dropCorrupt logs and deletes an entry that failed to decode. A failed delete
// is logged too; the caller reports a miss either way.
func dropCorrupt(ctx context.Context, s Store, logger zerolog.Logger, key string, cause error) {
	logger.Warn().Err(cause).Str("cache_key", key).Msg("Deleting corrupt cache entry")
	if err := s.Delete(ctx, key); err != nil {
		logger.Warn().Err(err).Str("cache_key", key).Msg("Failed to delete corrupt cache entry")
	}
}
