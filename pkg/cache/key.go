package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// secondLaneSeed seeds the second 64-bit lane of the key digest.
const secondLaneSeed = 0x9e3779b97f4a7c15

// Key identifies a cached invocation by its semantic content.
type Key struct {
	// Operation is the tag naming the cached operation (e.g. "summarize_chat").
	Operation string

	// Payload is the request payload (prompt text or serialized inputs).
	Payload string

	// Parameters are the effective model parameters of the call.
	Parameters map[string]any
}

// String derives the deterministic cache key string.
// Format: {operation}-{32 hex digest}
//
// Example:
//
//	summarize_chat-5f0c3c1b9b8d2a4e71e0a2c4f9d1b3a7
func (k Key) String() string {
	return DeriveKey(k.Operation, k.Payload, k.Parameters)
}

// DeriveKey turns (operation tag, payload, parameters) into a cache key.
//
// Parameters are normalized before hashing: map keys are sorted, and when
// max_tokens is present without n, n is set to null so that requests relying
// on the implicit default of n share a key with requests that state it.
func DeriveKey(operation, payload string, parameters map[string]any) string {
	canonical := canonicalParameters(parameters)

	lo := xxhash.New()
	hi := xxhash.NewWithSeed(secondLaneSeed)
	for _, part := range []string{operation, payload, canonical} {
		_, _ = lo.WriteString(part)
		_, _ = lo.Write([]byte{0})
		_, _ = hi.WriteString(part)
		_, _ = hi.Write([]byte{0})
	}

	return fmt.Sprintf("%s-%016x%016x", operation, lo.Sum64(), hi.Sum64())
}

// canonicalParameters renders parameters as canonical JSON.
// encoding/json sorts map keys at every nesting level.
func canonicalParameters(parameters map[string]any) string {
	normalized := make(map[string]any, len(parameters)+1)
	for k, v := range parameters {
		normalized[k] = v
	}
	if _, hasMax := normalized["max_tokens"]; hasMax {
		if _, hasN := normalized["n"]; !hasN {
			normalized["n"] = nil
		}
	}

	data, err := json.Marshal(normalized)
	if err == nil {
		return string(data)
	}

	// Unencodable values (funcs, channels): fall back to sorted %v pairs.
	keys := make([]string, 0, len(normalized))
	for k := range normalized {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, normalized[k]))
	}
	return strings.Join(parts, ";")
}
