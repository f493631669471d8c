package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// The example config must always load
	configPath := filepath.Join("..", "..", "config.yaml.example")
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected config to load successfully from example file, got error: %v", err)
	}
	if cfg.Quotes.Provider != ProviderMock {
		t.Errorf("Expected mock provider, got %q", cfg.Quotes.Provider)
	}
	if cfg.Quotes.MockPrices["AAPL"] != 195.50 {
		t.Errorf("Expected AAPL mock price 195.50, got %v", cfg.Quotes.MockPrices["AAPL"])
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent config file, got nil")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("WHEEL_TEST_KEY", "secret-key")
	path := writeConfig(t, `
source:
  path: ./exports
quotes:
  provider: tradier
  api_key: ${WHEEL_TEST_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Quotes.APIKey != "secret-key" {
		t.Errorf("Expected expanded api key, got %q", cfg.Quotes.APIKey)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
source:
  path: ./exports
  recursive: true
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parsing config") {
		t.Errorf("Expected parse error for unknown field, got %v", err)
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := &Config{Source: SourceConfig{Path: "./exports"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected minimal config to be valid, got %v", err)
	}

	if cfg.Environment.LogLevel != "info" || cfg.Environment.LogFormat != "text" {
		t.Errorf("Unexpected environment defaults: %+v", cfg.Environment)
	}
	if cfg.Source.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", cfg.Source.Workers)
	}
	if cfg.Quotes.Provider != ProviderNone {
		t.Errorf("Expected provider none, got %q", cfg.Quotes.Provider)
	}
	if cfg.Dashboard.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Dashboard.Port)
	}
	if got := cfg.QuoteTimeout(); got != 10*time.Second {
		t.Errorf("QuoteTimeout() = %v", got)
	}
	if got := cfg.QuoteMaxAge(); got != 15*time.Minute {
		t.Errorf("QuoteMaxAge() = %v", got)
	}
	if got := cfg.QuotePollInterval(); got != time.Minute {
		t.Errorf("QuotePollInterval() = %v", got)
	}
	if got := cfg.BreakerTimeout(); got != 0 {
		t.Errorf("BreakerTimeout() = %v, want 0 for default", got)
	}
}

func TestValidate_Errors(t *testing.T) {
	base := func() *Config {
		return &Config{Source: SourceConfig{Path: "./exports"}}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantMsg string
	}{
		{"missing source path", func(c *Config) { c.Source.Path = "" }, "source.path is required"},
		{"bad log level", func(c *Config) { c.Environment.LogLevel = "verbose" }, "environment.log_level"},
		{"bad log format", func(c *Config) { c.Environment.LogFormat = "xml" }, "environment.log_format"},
		{"unknown provider", func(c *Config) { c.Quotes.Provider = "yahoo" }, "quotes.provider"},
		{"tradier without key", func(c *Config) { c.Quotes.Provider = "tradier" }, "quotes.api_key is required"},
		{"bad timeout", func(c *Config) { c.Quotes.Timeout = "soon" }, "quotes.timeout invalid"},
		{"negative max age", func(c *Config) { c.Quotes.MaxAge = "-1m" }, "quotes.max_age must not be negative"},
		{"negative retries", func(c *Config) { c.Quotes.MaxRetries = -1 }, "quotes.max_retries"},
		{"backoff order", func(c *Config) {
			c.Quotes.InitialBackoff = "5s"
			c.Quotes.MaxBackoff = "1s"
		}, "quotes.initial_backoff (5s) must be <= quotes.max_backoff (1s)"},
		{"failure ratio", func(c *Config) { c.Quotes.CircuitBreaker.FailureRatio = 1.5 }, "failure_ratio"},
		{"mock price", func(c *Config) { c.Quotes.MockPrices = map[string]float64{"KO": 0} }, "quotes.mock_prices.KO"},
		{"port", func(c *Config) { c.Dashboard.Port = 70000 }, "dashboard.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantMsg)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error message to contain '%s', got: %v", tt.wantMsg, err)
			}
		})
	}
}
