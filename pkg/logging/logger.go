// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/Sternrassler/llm-guard/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// FromConfig maps the log section of the application configuration.
func FromConfig(cfg config.LogConfig) Config {
	out := DefaultConfig()
	if cfg.Level != "" {
		out.Level = LogLevel(cfg.Level)
	}
	out.Pretty = cfg.Pretty
	return out
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache hit/miss per call, cache keys
//   - Limiter waits and provider header updates
//   - Batch progress
//
// Info: Normal operation events
//   - Completed calls (via LoggingHooks)
//   - Server startup/shutdown
//   - Batch start/complete
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts and provider throttling
//   - Cache read/write errors (call continues uncached)
//   - Corrupt cache entries removed
//
// Error: Error conditions requiring attention
//   - Calls that exhausted their retries
//   - Fatal provider errors
//   - Configuration errors
//
// Context Fields:
//   - component: Emitting package (resilient, caching, file-cache, provider, ...)
//   - operation: Call name from llm.Options or the request kind
//   - invocation_id: Per-call UUID shared by hooks and logs
//   - attempt: 1-based attempt number
//   - error_class: fatal, retryable or rate_limit
//   - cache_key: Derived cache key
//   - input_tokens / output_tokens: Token usage
//   - duration: Wall time
