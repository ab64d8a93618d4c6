package retry

import (
	"errors"
	"fmt"
)

var (
	// ErrRetriesExhausted is matched by every RetriesExhaustedError.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrContextCancelled is returned when the context ends during a backoff sleep.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass is the retry classification of an error.
type ErrorClass string

const (
	// ClassFatal errors propagate immediately and consume no retry.
	ClassFatal ErrorClass = "fatal"

	// ClassRetryable errors are transient and retried with backoff.
	ClassRetryable ErrorClass = "retryable"

	// ClassRateLimit errors signal provider overload; retried, optionally
	// after the provider-recommended delay.
	ClassRateLimit ErrorClass = "rate_limit"
)

// Classified is implemented by errors that know their own class, such as
// provider status errors.
type Classified interface {
	ErrorClass() ErrorClass
}

// Classifier maps an error to an ErrorClass.
type Classifier interface {
	Classify(err error) ErrorClass
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(err error) ErrorClass

// Classify calls f.
func (f ClassifierFunc) Classify(err error) ErrorClass {
	return f(err)
}

// ErrorSets classifies errors against configured sets of sentinel errors,
// matched with errors.Is. Errors implementing Classified are classified by
// their own answer first. Anything else is fatal.
type ErrorSets struct {
	Retryable []error
	RateLimit []error
}

// Classify implements Classifier.
func (s ErrorSets) Classify(err error) ErrorClass {
	if err == nil {
		return ClassFatal
	}

	var c Classified
	if errors.As(err, &c) {
		return c.ErrorClass()
	}

	for _, target := range s.RateLimit {
		if errors.Is(err, target) {
			return ClassRateLimit
		}
	}
	for _, target := range s.Retryable {
		if errors.Is(err, target) {
			return ClassRetryable
		}
	}
	return ClassFatal
}

// RetriesExhaustedError reports that every attempt failed with a retryable or
// rate-limit error. It does not unwrap to the last provider error, so that
// callers matching on provider error types see only fatal failures; the last
// error is kept in Last for logging.
type RetriesExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

// Error implements the error interface.
func (e *RetriesExhaustedError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("%s: retries exhausted after %d attempts (last error: %v)",
			e.Operation, e.Attempts, e.Last)
	}
	return fmt.Sprintf("%s: retries exhausted after %d attempts", e.Operation, e.Attempts)
}

// Is allows errors.Is(err, ErrRetriesExhausted).
func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}
