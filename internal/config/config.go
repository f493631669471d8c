// Package config provides configuration management for the wheel tracker.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by normalize when a value is unset.
const (
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultWorkers        = 4
	defaultQuoteProvider  = "none"
	defaultQuoteTimeout   = "10s"
	defaultQuoteMaxAge    = "15m"
	defaultInitialBackoff = "200ms"
	defaultMaxBackoff     = "2s"
	defaultPollInterval   = "1m"
	defaultDashboardPort  = 8080
	defaultMaxRetries     = 2
)

// Quote providers.
const (
	ProviderTradier = "tradier"
	ProviderMock    = "mock"
	ProviderNone    = "none"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Source      SourceConfig      `yaml:"source"`
	Quotes      QuotesConfig      `yaml:"quotes"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Output      OutputConfig      `yaml:"output"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
}

// SourceConfig locates the broker export documents.
type SourceConfig struct {
	Path       string   `yaml:"path"`
	Workers    int      `yaml:"workers"`
	Extensions []string `yaml:"extensions"`
}

// QuotesConfig defines the market quote source.
type QuotesConfig struct {
	Provider       string               `yaml:"provider"` // tradier | mock | none
	APIKey         string               `yaml:"api_key"`
	APIEndpoint    string               `yaml:"api_endpoint"`
	Sandbox        bool                 `yaml:"sandbox"`
	Timeout        string               `yaml:"timeout"`
	MaxAge         string               `yaml:"max_age"`
	MaxRetries     int                  `yaml:"max_retries"`
	InitialBackoff string               `yaml:"initial_backoff"`
	MaxBackoff     string               `yaml:"max_backoff"`
	PollInterval   string               `yaml:"poll_interval"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	// MockPrices seeds the mock provider's starting prices.
	MockPrices map[string]float64 `yaml:"mock_prices"`
}

// CircuitBreakerConfig mirrors the breaker settings; zero values use defaults.
type CircuitBreakerConfig struct {
	MaxRequests  uint32  `yaml:"max_requests"`
	Interval     string  `yaml:"interval"`
	Timeout      string  `yaml:"timeout"`
	MinRequests  uint32  `yaml:"min_requests"`
	FailureRatio float64 `yaml:"failure_ratio"`
}

// DashboardConfig defines the HTTP API settings.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// OutputConfig defines where report snapshots are written.
type OutputConfig struct {
	SnapshotPath string `yaml:"snapshot_path"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Validate config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate applies defaults and checks that all values are valid and consistent.
func (c *Config) Validate() error {
	c.normalize()

	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug, info, warn, error")
	}
	if c.Environment.LogFormat != "text" && c.Environment.LogFormat != "json" {
		return fmt.Errorf("environment.log_format must be 'text' or 'json'")
	}

	// Source validation
	if c.Source.Path == "" {
		return fmt.Errorf("source.path is required")
	}
	if c.Source.Workers < 0 {
		return fmt.Errorf("source.workers must be >= 0")
	}

	// Quote validation
	switch c.Quotes.Provider {
	case ProviderTradier:
		if c.Quotes.APIKey == "" {
			return fmt.Errorf("quotes.api_key is required for the tradier provider")
		}
	case ProviderMock, ProviderNone:
	default:
		return fmt.Errorf("quotes.provider must be 'tradier', 'mock' or 'none'")
	}
	for name, value := range map[string]string{
		"quotes.timeout":                  c.Quotes.Timeout,
		"quotes.max_age":                  c.Quotes.MaxAge,
		"quotes.initial_backoff":          c.Quotes.InitialBackoff,
		"quotes.max_backoff":              c.Quotes.MaxBackoff,
		"quotes.poll_interval":            c.Quotes.PollInterval,
		"quotes.circuit_breaker.interval": c.Quotes.CircuitBreaker.Interval,
		"quotes.circuit_breaker.timeout":  c.Quotes.CircuitBreaker.Timeout,
	} {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s invalid: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Quotes.MaxRetries < 0 {
		return fmt.Errorf("quotes.max_retries must be >= 0")
	}
	if c.QuoteInitialBackoff() > c.QuoteMaxBackoff() {
		return fmt.Errorf("quotes.initial_backoff (%s) must be <= quotes.max_backoff (%s)",
			c.Quotes.InitialBackoff, c.Quotes.MaxBackoff)
	}
	if r := c.Quotes.CircuitBreaker.FailureRatio; r < 0 || r > 1 {
		return fmt.Errorf("quotes.circuit_breaker.failure_ratio must be between 0 and 1")
	}
	for sym, px := range c.Quotes.MockPrices {
		if px <= 0 {
			return fmt.Errorf("quotes.mock_prices.%s must be > 0", sym)
		}
	}

	// Dashboard validation
	if c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port must be between 1 and 65535")
	}

	return nil
}

// normalize sets default values for unset fields
func (c *Config) normalize() {
	c.Environment.LogLevel = strings.ToLower(strings.TrimSpace(c.Environment.LogLevel))
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = defaultLogLevel
	}
	c.Environment.LogFormat = strings.ToLower(strings.TrimSpace(c.Environment.LogFormat))
	if c.Environment.LogFormat == "" {
		c.Environment.LogFormat = defaultLogFormat
	}
	if c.Source.Workers == 0 {
		c.Source.Workers = defaultWorkers
	}
	c.Quotes.Provider = strings.ToLower(strings.TrimSpace(c.Quotes.Provider))
	if c.Quotes.Provider == "" {
		c.Quotes.Provider = defaultQuoteProvider
	}
	if c.Quotes.Timeout == "" {
		c.Quotes.Timeout = defaultQuoteTimeout
	}
	if c.Quotes.MaxAge == "" {
		c.Quotes.MaxAge = defaultQuoteMaxAge
	}
	if c.Quotes.MaxRetries == 0 {
		c.Quotes.MaxRetries = defaultMaxRetries
	}
	if c.Quotes.InitialBackoff == "" {
		c.Quotes.InitialBackoff = defaultInitialBackoff
	}
	if c.Quotes.MaxBackoff == "" {
		c.Quotes.MaxBackoff = defaultMaxBackoff
	}
	if c.Quotes.PollInterval == "" {
		c.Quotes.PollInterval = defaultPollInterval
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = defaultDashboardPort
	}
}

// parseDuration returns the parsed value or fallback when unset or invalid.
func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// QuoteTimeout returns the HTTP timeout for quote requests.
func (c *Config) QuoteTimeout() time.Duration {
	return parseDuration(c.Quotes.Timeout, 10*time.Second)
}

// QuoteMaxAge returns the age after which a quote is considered stale.
func (c *Config) QuoteMaxAge() time.Duration {
	return parseDuration(c.Quotes.MaxAge, 15*time.Minute)
}

// QuoteInitialBackoff returns the first retry delay.
func (c *Config) QuoteInitialBackoff() time.Duration {
	return parseDuration(c.Quotes.InitialBackoff, 200*time.Millisecond)
}

// QuoteMaxBackoff returns the retry delay cap.
func (c *Config) QuoteMaxBackoff() time.Duration {
	return parseDuration(c.Quotes.MaxBackoff, 2*time.Second)
}

// QuotePollInterval returns the quote subscription interval.
func (c *Config) QuotePollInterval() time.Duration {
	return parseDuration(c.Quotes.PollInterval, time.Minute)
}

// BreakerInterval returns the breaker count reset interval, zero for the default.
func (c *Config) BreakerInterval() time.Duration {
	return parseDuration(c.Quotes.CircuitBreaker.Interval, 0)
}

// BreakerTimeout returns the open-state duration, zero for the default.
func (c *Config) BreakerTimeout() time.Duration {
	return parseDuration(c.Quotes.CircuitBreaker.Timeout, 0)
}
