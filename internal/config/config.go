// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openloom/llmgate/internal/ratelimit"
	"github.com/openloom/llmgate/pkg/types"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Providers []ProviderConfig `yaml:"providers"`
	Gateway   GatewayConfig    `yaml:"gateway"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Quota     QuotaConfig      `yaml:"quota"`
	Redis     RedisConfig      `yaml:"redis"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Tracing   TracingConfig    `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	// MaxBodyBytes caps the accepted request body size.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// ProviderConfig defines a single upstream provider.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"` // openai, anthropic, openai-like
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// Models maps logical model names to the provider's own model ids.
	Models map[string]string `yaml:"models"`
	// ContextLengths optionally records context windows per logical model.
	ContextLengths map[string]int    `yaml:"context_lengths"`
	Priority       int               `yaml:"priority"`
	Enabled        *bool             `yaml:"enabled"`
	Headers        map[string]string `yaml:"headers"`
}

// IsEnabled treats an absent enabled flag as true.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// GatewayConfig contains request orchestration settings.
type GatewayConfig struct {
	DefaultMaxTokens int           `yaml:"default_max_tokens"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	UnhealthyTTL     time.Duration `yaml:"unhealthy_ttl"`
	MaxFailovers     int           `yaml:"max_failovers"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

// RateLimitConfig defines fixed-window limits. Ceilings are keyed by
// subscription tier, then traffic class; zero means unlimited.
type RateLimitConfig struct {
	Enabled  bool                        `yaml:"enabled"`
	Windows  map[string]time.Duration    `yaml:"windows"`
	Ceilings map[string]map[string]int64 `yaml:"ceilings"`
	// FailOpen admits traffic when a distributed backend is unreachable.
	FailOpen bool `yaml:"fail_open"`
}

// LimiterConfig converts the YAML shape into the limiter's typed config.
func (r RateLimitConfig) LimiterConfig() ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	cfg.FailOpen = r.FailOpen
	for class, window := range r.Windows {
		cfg.Windows[ratelimit.Class(class)] = window
	}
	if len(r.Ceilings) > 0 {
		cfg.Ceilings = r.TierCeilings()
	}
	return cfg
}

// TierCeilings converts the YAML ceiling table into typed keys.
func (r RateLimitConfig) TierCeilings() map[types.Tier]map[ratelimit.Class]int64 {
	out := make(map[types.Tier]map[ratelimit.Class]int64, len(r.Ceilings))
	for tier, byClass := range r.Ceilings {
		m := make(map[ratelimit.Class]int64, len(byClass))
		for class, ceiling := range byClass {
			m[ratelimit.Class(class)] = ceiling
		}
		out[types.Tier(tier)] = m
	}
	return out
}

// QuotaConfig contains token accounting settings.
type QuotaConfig struct {
	// Store selects the durable backend: memory or postgres.
	Store       string `yaml:"store"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// RedisConfig contains distributed rate limiter settings. When disabled the
// gateway uses the in-process limiter.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use insecure connection (no TLS)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 10 << 20,
		},
		Gateway: GatewayConfig{
			DefaultMaxTokens: 1024,
			RequestTimeout:   60 * time.Second,
			UnhealthyTTL:     30 * time.Second,
			MaxFailovers:     3,
			RetryAttempts:    2,
			RetryBackoff:     200 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
		},
		Quota: QuotaConfig{
			Store: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "llmgate",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	names := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("provider[%d]: duplicate name %q", i, p.Name)
		}
		names[p.Name] = true

		switch p.Type {
		case "openai", "anthropic", "openai-like":
		case "":
			return fmt.Errorf("provider %s: type is required", p.Name)
		default:
			return fmt.Errorf("provider %s: unknown type %q", p.Name, p.Type)
		}
		if p.Type == "openai-like" && p.BaseURL == "" {
			return fmt.Errorf("provider %s: base_url is required for openai-like", p.Name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("provider %s: at least one model mapping is required", p.Name)
		}
	}

	for tier := range c.RateLimit.Ceilings {
		if !types.Tier(tier).Valid() {
			return fmt.Errorf("rate_limit: unknown tier %q", tier)
		}
	}

	switch c.Quota.Store {
	case "", "memory":
	case "postgres":
		if c.Quota.PostgresDSN == "" {
			return fmt.Errorf("quota: postgres_dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("quota: unknown store %q", c.Quota.Store)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis: addr is required when enabled")
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing: endpoint is required when enabled")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing: sample_rate must be within [0, 1]")
		}
	}

	return nil
}
