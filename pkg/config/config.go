// Package config loads and validates llm-guard configuration.
//
// Precedence is defaults, then the YAML file, then LLMGUARD_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "LLMGUARD_"

// CacheType selects the cache backend.
type CacheType string

const (
	CacheFile   CacheType = "file"
	CacheBlob   CacheType = "blob"
	CacheMemory CacheType = "memory"
	CacheNone   CacheType = "none"
	CacheRedis  CacheType = "redis"
)

// DefaultMaxRetries is used when max_retries is unset.
const DefaultMaxRetries = 10

// Config is the complete llm-guard configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Provider  ProviderConfig  `yaml:"provider"`
	Server    ServerConfig    `yaml:"server"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// CacheConfig selects and configures the cache backend.
type CacheConfig struct {
	Type CacheType `yaml:"type"`

	// BaseDir is the root directory of the file backend.
	BaseDir string `yaml:"base_dir"`

	// Container is the bucket/container of the blob backend.
	Container string `yaml:"container"`

	// ConnectionString is a gocloud bucket URL base for the blob backend
	// (e.g. "s3://?region=eu-west-1", "file:///var/lib/llm-guard", "mem://").
	ConnectionString string `yaml:"connection_string"`

	// AccountURL is an object storage endpoint (https://...) for the blob backend.
	AccountURL string `yaml:"account_url"`

	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisTTL      time.Duration `yaml:"redis_ttl"`
}

// RateLimitConfig holds limiter and retry settings.
type RateLimitConfig struct {
	// TokensPerMinute is the token budget; 0 disables it.
	TokensPerMinute int `yaml:"tokens_per_minute"`

	// RequestsPerMinute is the request budget; 0 disables it.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// MaxRetries is the maximum number of attempts per call.
	MaxRetries int `yaml:"max_retries"`

	// MaxRetryWaitSeconds caps a single backoff sleep.
	MaxRetryWaitSeconds float64 `yaml:"max_retry_wait_seconds"`

	// SleepOnRateLimitRecommendation honors provider-suggested waits.
	SleepOnRateLimitRecommendation bool `yaml:"sleep_on_rate_limit_recommendation"`
}

// MaxRetryWait returns MaxRetryWaitSeconds as a duration.
func (c RateLimitConfig) MaxRetryWait() time.Duration {
	return time.Duration(c.MaxRetryWaitSeconds * float64(time.Second))
}

// ProviderConfig configures the HTTP provider.
type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Timeout        time.Duration `yaml:"timeout"`
}

// ServerConfig configures the demo proxy.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ConfigError describes a single invalid field.
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Unwrap allows errors.Is(err, ErrInvalidConfig).
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Cache: CacheConfig{
			Type:    CacheFile,
			BaseDir: "cache",
		},
		RateLimit: RateLimitConfig{
			MaxRetries:                     DefaultMaxRetries,
			MaxRetryWaitSeconds:            10,
			SleepOnRateLimitRecommendation: true,
		},
		Provider: ProviderConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			Timeout:        60 * time.Second,
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load reads the YAML file at path (skipped when empty), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks backend-specific required fields and numeric ranges.
// A zero MaxRetries is replaced by DefaultMaxRetries.
func (c *Config) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return err
	}

	rl := &c.RateLimit
	if rl.TokensPerMinute < 0 {
		return &ConfigError{Field: "rate_limit.tokens_per_minute", Reason: "must be >= 0"}
	}
	if rl.RequestsPerMinute < 0 {
		return &ConfigError{Field: "rate_limit.requests_per_minute", Reason: "must be >= 0"}
	}
	if rl.MaxRetries < 0 {
		return &ConfigError{Field: "rate_limit.max_retries", Reason: "must be >= 0"}
	}
	if rl.MaxRetries == 0 {
		rl.MaxRetries = DefaultMaxRetries
	}
	if rl.MaxRetryWaitSeconds < 0 {
		return &ConfigError{Field: "rate_limit.max_retry_wait_seconds", Reason: "must be >= 0"}
	}
	return nil
}

// Validate checks the fields required by the selected backend.
func (c CacheConfig) Validate() error {
	switch c.Type {
	case CacheFile:
		if c.BaseDir == "" {
			return &ConfigError{Field: "cache.base_dir", Reason: "required for file cache"}
		}
	case CacheBlob:
		if c.Container == "" {
			return &ConfigError{Field: "cache.container", Reason: "required for blob cache"}
		}
		if c.ConnectionString == "" && c.AccountURL == "" {
			return &ConfigError{
				Field:  "cache.connection_string",
				Reason: "connection_string or account_url is required for blob cache",
			}
		}
	case CacheRedis:
		if c.RedisAddr == "" {
			return &ConfigError{Field: "cache.redis_addr", Reason: "required for redis cache"}
		}
	case CacheMemory, CacheNone:
	default:
		return &ConfigError{Field: "cache.type", Reason: fmt.Sprintf("unknown cache type %q", c.Type)}
	}
	return nil
}

// applyEnv overrides fields from environment variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return &ConfigError{Field: EnvPrefix + name, Reason: "not an integer"}
		}
		*dst = n
		return nil
	}

	str("LOG_LEVEL", &cfg.Log.Level)

	var cacheType string
	str("CACHE_TYPE", &cacheType)
	if cacheType != "" {
		cfg.Cache.Type = CacheType(strings.ToLower(cacheType))
	}
	str("CACHE_BASE_DIR", &cfg.Cache.BaseDir)
	str("CACHE_CONTAINER", &cfg.Cache.Container)
	str("CACHE_CONNECTION_STRING", &cfg.Cache.ConnectionString)
	str("CACHE_ACCOUNT_URL", &cfg.Cache.AccountURL)
	str("REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Cache.RedisPassword)

	str("PROVIDER_BASE_URL", &cfg.Provider.BaseURL)
	str("PROVIDER_API_KEY", &cfg.Provider.APIKey)
	str("PROVIDER_MODEL", &cfg.Provider.Model)
	str("SERVER_ADDR", &cfg.Server.Addr)

	for name, dst := range map[string]*int{
		"REDIS_DB":            &cfg.Cache.RedisDB,
		"TOKENS_PER_MINUTE":   &cfg.RateLimit.TokensPerMinute,
		"REQUESTS_PER_MINUTE": &cfg.RateLimit.RequestsPerMinute,
		"MAX_RETRIES":         &cfg.RateLimit.MaxRetries,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}
	return nil
}
