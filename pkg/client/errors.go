package client

import (
	"errors"
)

// Errors returned by the response-shaping wrappers. Both are fatal to the
// retry layer and are never cached.
var (
	// ErrInvalidJSON is returned when JSON output was requested and the
	// provider text does not parse as a JSON object.
	ErrInvalidJSON = errors.New("invalid JSON output")

	// ErrValidationFailed is returned when Options.Validate rejects a result.
	ErrValidationFailed = errors.New("result validation failed")

	// ErrNoInvoker is returned when a client is built without a core invoker.
	ErrNoInvoker = errors.New("core invoker is required")
)
