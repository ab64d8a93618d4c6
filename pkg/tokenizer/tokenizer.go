// Package tokenizer estimates request sizes for token-budgeted rate limiting.
package tokenizer

import (
	"unicode"
	"unicode/utf8"

	"github.com/Sternrassler/llm-guard/pkg/llm"
)

// messageOverhead approximates role markers and separators per message.
const messageOverhead = 4

// Counter counts tokens in text.
type Counter interface {
	Count(text string) (int, error)
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(text string) (int, error)

// Count calls f.
func (f CounterFunc) Count(text string) (int, error) {
	return f(text)
}

// Estimator approximates token counts from character classes: about four
// characters per token for Latin text and 1.5 for CJK.
type Estimator struct{}

// Count implements Counter. Non-empty text counts at least one token.
func (Estimator) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}

	n := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if n == 0 {
		n = 1
	}
	return n, nil
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// Fallback uses primary and falls back to secondary when primary fails.
func Fallback(primary, secondary Counter) Counter {
	return CounterFunc(func(text string) (int, error) {
		n, err := primary.Count(text)
		if err == nil {
			return n, nil
		}
		return secondary.Count(text)
	})
}

// CountRequest counts the tokens a call will send: the request text plus the
// conversation history.
func CountRequest(c Counter, req llm.Request, opts llm.Options) (int, error) {
	total, err := c.Count(req.Text())
	if err != nil {
		return 0, err
	}
	for _, m := range opts.History {
		n, err := c.Count(m.Content)
		if err != nil {
			return 0, err
		}
		total += n + messageOverhead
	}
	return total, nil
}
