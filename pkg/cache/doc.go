// Package cache provides cache key derivation and pluggable cache backends for
// LLM invocation results.
//
// Every backend implements Store, a small namespaced key/value contract:
//
//   - FileStore: one JSON file per key under a root directory, atomic writes
//   - BlobStore: remote object storage through gocloud.dev/blob
//   - RedisStore: Redis, with optional TTL delegated to Redis
//   - MemoryStore: volatile in-process map, namespaces as key prefixes
//   - NoopStore: disables caching without branching call sites
//
// There is no TTL or LRU eviction in this package. Entries live until they are
// deleted, cleared, or found corrupt; expiry is left to the backing store.
//
// # Basic Usage
//
//	store, err := cache.Open(ctx, cfg.Cache, nil)
//	if err != nil {
//		return err
//	}
//	defer cache.Close(store)
//
//	// Isolate one pipeline stage
//	stage := store.Child("summarize")
//
//	key := cache.DeriveKey("summarize_chat", prompt, map[string]any{
//		"model":       "gpt-4o-mini",
//		"temperature": 0,
//	})
//
//	entry, err := stage.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// Cache miss - call the provider, then
//		err = stage.Set(ctx, key, result, &cache.Debug{Input: prompt})
//	}
//
// # Keys
//
// DeriveKey hashes the operation tag, payload and canonical (sorted) parameters
// with a 128-bit xxhash digest and returns "{operation}-{digest}". When
// max_tokens is present without n, n is treated as null so that implicit and
// explicit defaults share one entry.
//
// # Corruption
//
// An entry that fails to decode (truncated write, foreign data) is deleted and
// reported as ErrCacheMiss; callers never see it as an error.
//
// # Metrics
//
//   - llm_cache_store_hits_total{backend}
//   - llm_cache_store_misses_total{backend}
//   - llm_cache_corrupt_entries_total{backend}
//   - llm_cache_errors_total{operation}
package cache
