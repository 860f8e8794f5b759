package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/shortenly/core/corelog"
)

// Manager loads a Config from disk and, once Watch is called, hot-reloads
// it on file change: each reload is published via an atomic pointer swap
// so Get is safe to call from any goroutine without locking, and
// registered OnChange callbacks are notified with the new Config.
type Manager struct {
	config      atomic.Pointer[Config]
	path        string
	watcher     *fsnotify.Watcher
	onChange    []func(*Config)
	logger      *corelog.Logger
	checksum    atomic.Value
	loadedAt    atomic.Value
	reloadCount atomic.Uint64
}

// NewManager loads path and constructs a Manager around it. Call Watch to
// start hot-reloading; a Manager that never calls Watch still serves a
// consistent Get.
func NewManager(path string, logger *corelog.Logger) (*Manager, error) {
	if logger == nil {
		logger = corelog.Nop()
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{path: path, logger: logger}
	if err := m.storeConfig(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns the currently active configuration. Safe for concurrent use.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// OnChange registers fn to run after every successful reload, in
// registration order.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

// Status summarizes the active configuration's provenance.
type Status struct {
	Path        string
	Checksum    string
	LoadedAt    time.Time
	ReloadCount uint64
}

// Status returns metadata about the currently active configuration.
func (m *Manager) Status() Status {
	st := Status{Path: m.path, ReloadCount: m.reloadCount.Load()}
	if v, ok := m.checksum.Load().(string); ok {
		st.Checksum = v
	}
	if v, ok := m.loadedAt.Load().(time.Time); ok {
		st.LoadedAt = v
	}
	return st
}

// Watch starts watching the configuration file for changes, debouncing
// rapid writes and reloading atomically. Returns once the watcher is
// registered; reload errors are logged, never returned, since the prior
// configuration remains active and serviceable.
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

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	const debounceDelay = 500 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := m.Reload(); err != nil {
						m.logger.Error("config reload failed, keeping current config", "error", err)
					}
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

// Reload re-reads the configuration file and, on success, swaps it in and
// notifies OnChange listeners. On failure the previously active
// configuration is left untouched.
func (m *Manager) Reload() error {
	newCfg, err := LoadFromFile(m.path)
	if err != nil {
		return err
	}
	if err := m.storeConfig(newCfg); err != nil {
		return err
	}
	m.logger.Info("config reloaded", "path", m.path, "checksum", m.Status().Checksum)

	for _, fn := range m.onChange {
		fn(newCfg)
	}
	return nil
}

// Close stops the file watcher, if one was started.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) storeConfig(cfg *Config) error {
	checksum, err := configChecksum(cfg)
	if err != nil {
		return err
	}
	m.config.Store(cfg)
	m.checksum.Store(checksum)
	m.loadedAt.Store(time.Now().UTC())
	m.reloadCount.Add(1)
	return nil
}

func configChecksum(cfg *Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
