package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// modelEncodings maps model name prefixes to tiktoken encodings.
var modelEncodings = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4.1":                "o200k_base",
	"o1":                     "o200k_base",
	"o3":                     "o200k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
	"text-embedding-ada-002": "cl100k_base",
}

// DefaultEncoding is used for unknown models.
const DefaultEncoding = "cl100k_base"

// EncodingForModel returns the tiktoken encoding for model, matching the
// longest known prefix.
func EncodingForModel(model string) string {
	best, enc := "", DefaultEncoding
	for prefix, e := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, enc = prefix, e
		}
	}
	return enc
}

// Tiktoken counts tokens with a tiktoken encoding. The encoding is loaded on
// first use, which may download BPE data.
type Tiktoken struct {
	encoding string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktoken creates a counter for model.
func NewTiktoken(model string) *Tiktoken {
	return &Tiktoken{encoding: EncodingForModel(model)}
}

// Encoding returns the encoding name.
func (t *Tiktoken) Encoding() string {
	return t.encoding
}

func (t *Tiktoken) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Count implements Counter.
func (t *Tiktoken) Count(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// ForModel returns a tiktoken counter for model that falls back to the
// Estimator when the encoding cannot be loaded.
func ForModel(model string) Counter {
	return Fallback(NewTiktoken(model), Estimator{})
}
