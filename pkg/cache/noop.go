package cache

import "context"

// NoopStore disables caching without branching call sites: nothing is ever
// stored and every lookup misses.
type NoopStore struct{}

// NewNoopStore creates a no-op store.
func NewNoopStore() NoopStore {
	return NoopStore{}
}

// Has always reports false.
func (NoopStore) Has(context.Context, string) (bool, error) { return false, nil }

// Get always returns ErrCacheMiss.
func (NoopStore) Get(context.Context, string) (*Entry, error) { return nil, ErrCacheMiss }

// Set discards value.
func (NoopStore) Set(context.Context, string, any, *Debug) error { return nil }

// Delete is a no-op.
func (NoopStore) Delete(context.Context, string) error { return nil }

// Clear is a no-op.
func (NoopStore) Clear(context.Context) error { return nil }

// Child returns the same no-op store.
func (s NoopStore) Child(string) Store { return s }
