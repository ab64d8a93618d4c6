package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Backend labels used by the cache metrics.
const (
	backendFile   = "file"
	backendBlob   = "blob"
	backendMemory = "memory"
	backendRedis  = "redis"
)

var (
	// CacheHits tracks store-level hits by backend
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_cache_store_hits_total",
			Help: "Total number of cache store hits by backend",
		},
		[]string{"backend"},
	)

	// CacheMisses tracks store-level misses by backend
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_cache_store_misses_total",
			Help: "Total number of cache store misses by backend",
		},
		[]string{"backend"},
	)

	// CacheCorruptEntries tracks entries deleted because they failed to decode
	CacheCorruptEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_cache_corrupt_entries_total",
			Help: "Total number of corrupt cache entries evicted",
		},
		[]string{"backend"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "clear"
	)
)
