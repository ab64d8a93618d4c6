package retry

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DelayExtractor extracts a provider-recommended wait from an error. The
// boolean is false when the error carries no recommendation.
type DelayExtractor func(err error) (time.Duration, bool)

// NoDelay never finds a recommendation.
func NoDelay(error) (time.Duration, bool) {
	return 0, false
}

// RetryAfterDelay reads errors exposing RetryAfter() time.Duration, such as
// provider status errors built from a Retry-After header.
func RetryAfterDelay(err error) (time.Duration, bool) {
	var ra interface{ RetryAfter() time.Duration }
	if errors.As(err, &ra) {
		if d := ra.RetryAfter(); d > 0 {
			return d, true
		}
	}
	return 0, false
}

var retryAfterPattern = regexp.MustCompile(
	`(?i)(?:retry|try again)\s+(?:after|in)\s+(\d+(?:\.\d+)?)\s*(ms|milliseconds?|s|secs?|seconds?)?`)

// MessageDelay parses phrases like "Please retry after 20 seconds" or
// "try again in 1.5s" from the error text.
func MessageDelay(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}

	m := retryAfterPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}

	n, perr := strconv.ParseFloat(m[1], 64)
	if perr != nil || n <= 0 {
		return 0, false
	}

	unit := time.Second
	if strings.HasPrefix(strings.ToLower(m[2]), "m") {
		unit = time.Millisecond
	}
	return time.Duration(n * float64(unit)), true
}

// FirstDelay tries each extractor in order and returns the first hit.
func FirstDelay(extractors ...DelayExtractor) DelayExtractor {
	return func(err error) (time.Duration, bool) {
		for _, ex := range extractors {
			if ex == nil {
				continue
			}
			if d, ok := ex(err); ok {
				return d, true
			}
		}
		return 0, false
	}
}
