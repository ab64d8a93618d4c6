package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Cache.Type != CacheFile {
		t.Errorf("Cache.Type = %q, want %q", cfg.Cache.Type, CacheFile)
	}
	if cfg.RateLimit.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", cfg.RateLimit.MaxRetries, DefaultMaxRetries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults error = %v", err)
	}
}

func TestCacheConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       CacheConfig
		wantField string
	}{
		{name: "file ok", cfg: CacheConfig{Type: CacheFile, BaseDir: "/tmp/c"}},
		{name: "file missing dir", cfg: CacheConfig{Type: CacheFile}, wantField: "cache.base_dir"},
		{name: "memory ok", cfg: CacheConfig{Type: CacheMemory}},
		{name: "none ok", cfg: CacheConfig{Type: CacheNone}},
		{
			name: "blob with connection string",
			cfg:  CacheConfig{Type: CacheBlob, Container: "c", ConnectionString: "mem://"},
		},
		{
			name: "blob with account url",
			cfg:  CacheConfig{Type: CacheBlob, Container: "c", AccountURL: "https://minio.local"},
		},
		{
			name:      "blob missing container",
			cfg:       CacheConfig{Type: CacheBlob, ConnectionString: "mem://"},
			wantField: "cache.container",
		},
		{
			name:      "blob missing credentials",
			cfg:       CacheConfig{Type: CacheBlob, Container: "c"},
			wantField: "cache.connection_string",
		},
		{name: "redis missing addr", cfg: CacheConfig{Type: CacheRedis}, wantField: "cache.redis_addr"},
		{name: "unknown type", cfg: CacheConfig{Type: "tape"}, wantField: "cache.type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("ConfigError.Field = %q, want %q", cfgErr.Field, tt.wantField)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Error("error should wrap ErrInvalidConfig")
			}
		})
	}
}

func TestConfig_ValidateRateLimit(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.MaxRetries = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.RateLimit.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want default %d", cfg.RateLimit.MaxRetries, DefaultMaxRetries)
	}

	cfg.RateLimit.TokensPerMinute = -1
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "llm-guard.yaml")
	data := []byte(`
cache:
  type: memory
rate_limit:
  tokens_per_minute: 50000
  requests_per_minute: 500
  max_retries: 3
  max_retry_wait_seconds: 2.5
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvPrefix+"REQUESTS_PER_MINUTE", "60")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Cache.Type != CacheMemory {
		t.Errorf("Cache.Type = %q, want memory", cfg.Cache.Type)
	}
	if cfg.RateLimit.TokensPerMinute != 50000 {
		t.Errorf("TokensPerMinute = %d, want 50000", cfg.RateLimit.TokensPerMinute)
	}
	if cfg.RateLimit.RequestsPerMinute != 60 {
		t.Errorf("RequestsPerMinute = %d, want env override 60", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.RateLimit.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.RateLimit.MaxRetries)
	}
	if got := cfg.RateLimit.MaxRetryWait().Milliseconds(); got != 2500 {
		t.Errorf("MaxRetryWait() = %dms, want 2500ms", got)
	}
}

func TestLoad_InvalidBlob(t *testing.T) {
	t.Setenv(EnvPrefix+"CACHE_TYPE", "blob")
	t.Setenv(EnvPrefix+"CACHE_CONTAINER", "llm-cache")

	_, err := Load("")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load() error = %v, want *ConfigError", err)
	}
}

func TestLoad_BadEnvNumber(t *testing.T) {
	t.Setenv(EnvPrefix+"MAX_RETRIES", "many")

	if _, err := Load(""); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Load() error = %v, want ErrInvalidConfig", err)
	}
}
