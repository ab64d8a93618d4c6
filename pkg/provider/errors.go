package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/llm-guard/pkg/retry"
)

// maxRetryAfter caps Retry-After values.
const maxRetryAfter = time.Hour

// ErrEmptyResponse is returned when a 2xx response carries no choices or
// embeddings.
var ErrEmptyResponse = errors.New("empty provider response")

// StatusError is a non-2xx provider response.
type StatusError struct {
	StatusCode int
	Class      retry.ErrorClass
	Message    string

	// Wait is the Retry-After duration, 0 if absent.
	Wait time.Duration
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("provider %s error (status %d): %s", e.Class, e.StatusCode, e.Message)
}

// ErrorClass implements retry.Classified.
func (e *StatusError) ErrorClass() retry.ErrorClass {
	return e.Class
}

// RetryAfter returns the provider-recommended wait.
func (e *StatusError) RetryAfter() time.Duration {
	return e.Wait
}

// NetworkError is a transport failure (connection refused, reset, timeout).
type NetworkError struct {
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("provider network error: %v", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ErrorClass implements retry.Classified.
func (e *NetworkError) ErrorClass() retry.ErrorClass {
	return retry.ClassRetryable
}

// ClassifyStatus maps an HTTP status to an error class.
func ClassifyStatus(code int) retry.ErrorClass {
	switch {
	case code == http.StatusTooManyRequests:
		return retry.ClassRateLimit
	case code == http.StatusRequestTimeout, code == http.StatusConflict:
		return retry.ClassRetryable
	case code >= 500:
		return retry.ClassRetryable
	default:
		// 4xx errors should NOT be retried
		return retry.ClassFatal
	}
}

// parseRetryAfter reads Retry-After (seconds or HTTP-date) or the
// millisecond variant retry-after-ms.
func parseRetryAfter(h http.Header) time.Duration {
	if ms := strings.TrimSpace(h.Get("Retry-After-Ms")); ms != "" {
		if n, err := strconv.ParseFloat(ms, 64); err == nil && n > 0 {
			return capRetryAfter(time.Duration(n * float64(time.Millisecond)))
		}
	}

	value := strings.TrimSpace(h.Get("Retry-After"))
	if value == "" {
		return 0
	}

	// Try parsing as seconds first
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds > 0 {
			return capRetryAfter(time.Duration(seconds * float64(time.Second)))
		}
		return 0
	}

	// Try parsing as HTTP-date
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return capRetryAfter(d)
		}
	}
	return 0
}

func capRetryAfter(d time.Duration) time.Duration {
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}
