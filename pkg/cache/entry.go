package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Debug carries optional diagnostic metadata stored next to a cached value.
type Debug struct {
	// Input is the original request.
	Input any `json:"input,omitempty"`

	// Parameters are the effective parameters of the call.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Entry is the self-describing envelope persisted by every backend.
type Entry struct {
	// Result is the cached value, JSON encoded.
	Result json.RawMessage `json:"result"`

	// Debug is optional diagnostic metadata.
	Debug *Debug `json:"debug,omitempty"`

	// CachedAt is when the entry was written.
	CachedAt time.Time `json:"cached_at"`
}

// Decode unmarshals the cached value into v.
func (e *Entry) Decode(v any) error {
	if err := json.Unmarshal(e.Result, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}

// encodeEntry builds the serialized envelope for value.
func encodeEntry(value any, debug *Debug) ([]byte, error) {
	result, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal cache value: %w", err)
	}

	data, err := json.Marshal(Entry{
		Result:   result,
		Debug:    debug,
		CachedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

// decodeEntry parses a serialized envelope. Truncated or foreign data yields
// ErrInvalidEntry.
func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if len(entry.Result) == 0 {
		return nil, fmt.Errorf("%w: missing result", ErrInvalidEntry)
	}
	return &entry, nil
}

// isNil reports whether v is nil or a nil pointer, map, slice or interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
