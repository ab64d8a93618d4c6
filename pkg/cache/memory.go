package cache

import (
	"bytes"
	"context"
	"strings"
	"sync"
)

// segmentEscaper keeps ':' out of namespaces and keys so the joined map key
// parses back into exactly one namespace path.
var segmentEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// memoryData is the map shared by a MemoryStore and all of its children.
type memoryData struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// MemoryStore is a volatile in-process store. Children share the parent's map
// and are isolated by a key prefix rather than nested containers. Namespaces
// and keys are escaped before joining, so Child("a").Child("b") and
// Child("a:b") never share entries.
type MemoryStore struct {
	data   *memoryData
	prefix string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memoryData{items: make(map[string][]byte)},
	}
}

// Has reports whether key exists.
func (s *MemoryStore) Has(_ context.Context, key string) (bool, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	_, ok := s.data.items[s.slot(key)]
	return ok, nil
}

// Get returns the entry stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.data.mu.RLock()
	data, ok := s.data.items[s.slot(key)]
	s.data.mu.RUnlock()

	if !ok {
		CacheMisses.WithLabelValues(backendMemory).Inc()
		return nil, ErrCacheMiss
	}

	entry, err := decodeEntry(data)
	if err != nil {
		CacheCorruptEntries.WithLabelValues(backendMemory).Inc()
		s.data.mu.Lock()
		// A concurrent Set may have replaced the entry since the read.
		if current, ok := s.data.items[s.slot(key)]; ok && bytes.Equal(current, data) {
			delete(s.data.items, s.slot(key))
		}
		s.data.mu.Unlock()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(backendMemory).Inc()
	return entry, nil
}

// Set stores value under key. A nil value is a no-op.
func (s *MemoryStore) Set(_ context.Context, key string, value any, debug *Debug) error {
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

	s.data.mu.Lock()
	s.data.items[s.slot(key)] = data
	s.data.mu.Unlock()
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.data.mu.Lock()
	delete(s.data.items, s.slot(key))
	s.data.mu.Unlock()
	return nil
}

// Clear removes every key under this store's prefix.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	if s.prefix == "" {
		s.data.items = make(map[string][]byte)
		return nil
	}
	for k := range s.data.items {
		if strings.HasPrefix(k, s.prefix) {
			delete(s.data.items, k)
		}
	}
	return nil
}

// Child returns a store whose keys are prefixed with namespace.
func (s *MemoryStore) Child(namespace string) Store {
	return &MemoryStore{
		data:   s.data,
		prefix: s.prefix + segmentEscaper.Replace(namespace) + ":",
	}
}

// slot is the map key for key under this store's prefix.
func (s *MemoryStore) slot(key string) string {
	return s.prefix + segmentEscaper.Replace(key)
}

// Len returns the number of keys under this store's prefix.
func (s *MemoryStore) Len() int {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	n := 0
	for k := range s.data.items {
		if strings.HasPrefix(k, s.prefix) {
			n++
		}
	}
	return n
}

// put writes raw bytes; used by tests to simulate corruption.
func (s *MemoryStore) put(key string, data []byte) {
	s.data.mu.Lock()
	s.data.items[s.slot(key)] = data
	s.data.mu.Unlock()
}
