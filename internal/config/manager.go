package config

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultReloadDebounce coalesces the burst of fsnotify events most editors
// and config-mounting orchestrators emit for a single save.
const defaultReloadDebounce = 500 * time.Millisecond

// Manager serves the current configuration and swaps in validated reloads
// while the server runs. Readers always see a complete config: Get loads an
// atomic pointer, never a partially written struct.
type Manager struct {
	current  atomic.Pointer[Config]
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	logger   *slog.Logger
}

// NewManager loads the file at path and returns a manager serving it.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		path:     path,
		debounce: defaultReloadDebounce,
		logger:   logger,
	}
	m.current.Store(cfg)

	return m, nil
}

// Get returns the current configuration. Safe for concurrent use.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// SetDebounce overrides the reload debounce interval. Call before Watch.
func (m *Manager) SetDebounce(d time.Duration) {
	if d > 0 {
		m.debounce = d
	}
}

// OnChange registers a callback invoked with each successfully reloaded
// config. Register before Watch; the callback list is not guarded afterwards.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

// Watch reloads the file on change until ctx is cancelled. A rewrite that
// fails to parse or validate is discarded and the current config stays in
// effect.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}

	go m.watch(ctx)
	return nil
}

func (m *Manager) watch(ctx context.Context) {
	var pending *time.Timer

	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				pending.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(m.debounce, m.reload)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

func (m *Manager) reload() {
	cfg, err := LoadFromFile(m.path)
	if err != nil {
		m.logger.Error("config reload rejected, keeping current", "error", err)
		return
	}

	m.current.Store(cfg)
	m.logger.Info("configuration reloaded")

	for _, fn := range m.onChange {
		fn(cfg)
	}
}

// Close stops the configuration watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
