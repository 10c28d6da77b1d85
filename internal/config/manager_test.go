package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const managerYAML = `
server:
  port: 8080
providers:
  - name: openai
    type: openai
    api_key: sk-test
    models:
      gpt-4: gpt-4-0613
gateway:
  default_max_tokens: 256
`

func TestManagerGet(t *testing.T) {
	path := writeConfig(t, managerYAML)

	m, err := NewManager(path, nil)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	cfg := m.Get()
	require.NotNil(t, cfg)
	assert.Equal(t, 256, cfg.Gateway.DefaultMaxTokens)
}

func TestManagerHotReload(t *testing.T) {
	path := writeConfig(t, managerYAML)

	m, err := NewManager(path, nil)
	require.NoError(t, err)
	m.SetDebounce(50 * time.Millisecond)

	reloaded := make(chan *Config, 1)
	m.OnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	updated := managerYAML + "\nlogging:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("config reload did not fire")
	}
}

func TestManagerKeepsCurrentOnBadReload(t *testing.T) {
	path := writeConfig(t, managerYAML)

	m, err := NewManager(path, nil)
	require.NoError(t, err)
	m.SetDebounce(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("providers: []\n"), 0o600))

	// Give the debounced reload time to run and fail validation.
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 256, m.Get().Gateway.DefaultMaxTokens)
}

func TestManagerMissingFile(t *testing.T) {
	_, err := NewManager("/nonexistent/config.yaml", nil)
	assert.Error(t, err)
}
