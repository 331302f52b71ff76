package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Workers)
	}
	if cfg.RequestsPerSecond != 2 {
		t.Errorf("expected 2 requests per second, got %v", cfg.RequestsPerSecond)
	}
	if cfg.FetchTimeout != 15*time.Second {
		t.Errorf("expected 15s fetch timeout, got %v", cfg.FetchTimeout)
	}
	if cfg.TranscriberBackoff != 10*time.Second || cfg.TranscriberPollAttempts != 60 {
		t.Errorf("unexpected transcriber defaults: %v, %d", cfg.TranscriberBackoff, cfg.TranscriberPollAttempts)
	}
	if !cfg.UseLibrary {
		t.Error("expected library strategy enabled by default")
	}
	if cfg.PaidEnabled() {
		t.Error("expected paid fallback disabled without credentials")
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("WORKERS", "12")
	t.Setenv("REQUESTS_PER_SECOND", "0.5")
	t.Setenv("USE_LIBRARY", "false")
	t.Setenv("FETCH_BACKOFF", "250ms")
	t.Setenv("TRANSCRIBER_BASE_URL", "https://api.example.com")
	t.Setenv("TRANSCRIBER_API_KEY", "secret")

	cfg := LoadConfig()
	if cfg.Workers != 12 {
		t.Errorf("expected 12 workers, got %d", cfg.Workers)
	}
	if cfg.RequestsPerSecond != 0.5 {
		t.Errorf("expected 0.5 requests per second, got %v", cfg.RequestsPerSecond)
	}
	if cfg.UseLibrary {
		t.Error("expected library strategy disabled")
	}
	if cfg.FetchBackoff != 250*time.Millisecond {
		t.Errorf("expected 250ms backoff, got %v", cfg.FetchBackoff)
	}
	if !cfg.PaidEnabled() {
		t.Error("expected paid fallback enabled")
	}
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("WORKERS", "many")
	t.Setenv("FETCH_TIMEOUT", "soon")
	t.Setenv("USE_LIBRARY", "maybe")
	t.Setenv("REQUESTS_PER_SECOND", "fast")

	cfg := LoadConfig()
	if cfg.Workers != 4 || cfg.FetchTimeout != 15*time.Second || !cfg.UseLibrary || cfg.RequestsPerSecond != 2 {
		t.Errorf("expected defaults for invalid values, got %+v", cfg)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero workers", func(c *Config) { c.Workers = 0 }, true},
		{"too many workers", func(c *Config) { c.Workers = 65 }, true},
		{"zero rate", func(c *Config) { c.RequestsPerSecond = 0 }, true},
		{"zero fetch timeout", func(c *Config) { c.FetchTimeout = 0 }, true},
		{"key without url", func(c *Config) { c.TranscriberAPIKey = "k" }, true},
		{"negative retries", func(c *Config) { c.TranscriberRetries = -1 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"empty db path", func(c *Config) { c.DBPath = "" }, true},
		{"bucket without keys", func(c *Config) { c.ArchiveBucket = "b" }, true},
		{"bucket with keys", func(c *Config) {
			c.ArchiveBucket, c.ArchiveAccessKey, c.ArchiveSecretKey = "b", "k", "s"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadConfig()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
