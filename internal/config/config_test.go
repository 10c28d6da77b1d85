package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openloom/llmgate/internal/ratelimit"
	"github.com/openloom/llmgate/pkg/types"
)

const validYAML = `
server:
  port: 9090
  max_body_bytes: 1048576

providers:
  - name: openai
    type: openai
    api_key: ${TEST_OPENAI_KEY}
    priority: 1
    models:
      gpt-4: gpt-4-0613
  - name: anthropic
    type: anthropic
    api_key: sk-ant-test
    priority: 2
    models:
      claude-sonnet: claude-sonnet-4-20250514

gateway:
  default_max_tokens: 512
  request_timeout: 30s
  unhealthy_ttl: 45s

rate_limit:
  enabled: true
  windows:
    llm: 1h
    general: 1m
  ceilings:
    free:
      llm: 50
      general: 120
    pro:
      llm: 500

quota:
  store: memory

logging:
  level: debug
  format: text
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-expanded")
	path := writeConfig(t, validYAML)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(1048576), cfg.Server.MaxBodyBytes)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "sk-expanded", cfg.Providers[0].APIKey)
	assert.Equal(t, "gpt-4-0613", cfg.Providers[0].Models["gpt-4"])
	assert.True(t, cfg.Providers[0].IsEnabled())

	assert.Equal(t, 512, cfg.Gateway.DefaultMaxTokens)
	assert.Equal(t, 30*time.Second, cfg.Gateway.RequestTimeout)

	// Unset sections keep their defaults.
	assert.Equal(t, 120*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "memory", cfg.Quota.Store)
}

func TestLimiterConfig(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "x")
	cfg, err := LoadFromFile(writeConfig(t, validYAML))
	require.NoError(t, err)

	lc := cfg.RateLimit.LimiterConfig()
	assert.Equal(t, time.Hour, lc.Windows[ratelimit.ClassLLM])
	assert.Equal(t, time.Minute, lc.Windows[ratelimit.ClassGeneral])
	assert.Equal(t, int64(50), lc.Ceilings[types.TierFree][ratelimit.ClassLLM])
	assert.Equal(t, int64(500), lc.Ceilings[types.TierPro][ratelimit.ClassLLM])
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.Providers = []ProviderConfig{{
			Name:   "openai",
			Type:   "openai",
			Models: map[string]string{"gpt-4": "gpt-4"},
		}}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no providers", func(c *Config) { c.Providers = nil }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"missing provider type", func(c *Config) { c.Providers[0].Type = "" }},
		{"unknown provider type", func(c *Config) { c.Providers[0].Type = "carrier-pigeon" }},
		{"openai-like without base url", func(c *Config) { c.Providers[0].Type = "openai-like" }},
		{"no model mappings", func(c *Config) { c.Providers[0].Models = nil }},
		{"duplicate provider name", func(c *Config) {
			c.Providers = append(c.Providers, c.Providers[0])
		}},
		{"unknown tier", func(c *Config) {
			c.RateLimit.Ceilings = map[string]map[string]int64{"platinum": {"llm": 1}}
		}},
		{"postgres store without dsn", func(c *Config) { c.Quota.Store = "postgres" }},
		{"unknown quota store", func(c *Config) { c.Quota.Store = "cassette-tape" }},
		{"redis enabled without addr", func(c *Config) { c.Redis.Enabled = true }},
		{"tracing bad sample rate", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 2.0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.yaml")
	assert.Error(t, err)
}
