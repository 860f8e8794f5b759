package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shortenly/core/corelog"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shortenly.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalYAML = `
database_urls:
  - redis://127.0.0.1:6379
`

func TestLoadFromFile_AppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Cache.L1Capacity, cfg.Cache.L1Capacity)
	require.Equal(t, DefaultConfig().Codegen.ShardBits, cfg.Codegen.ShardBits)
	require.Equal(t, []string{"redis://127.0.0.1:6379"}, cfg.DatabaseURLs)
}

func TestLoadFromFile_OverridesNamedFields(t *testing.T) {
	path := writeConfigFile(t, `
cache:
  l1_capacity: 42
  max_failures: 7
database_urls:
  - redis://127.0.0.1:6379
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 42, cfg.Cache.L1Capacity)
	require.Equal(t, 7, cfg.Cache.MaxFailures)
	// Untouched fields still fall back to defaults.
	require.Equal(t, DefaultConfig().Cache.L2Capacity, cfg.Cache.L2Capacity)
}

func TestLoadFromFile_RejectsMissingDatabaseURLs(t *testing.T) {
	path := writeConfigFile(t, "cache:\n  l1_capacity: 10\n")

	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestLoadFromFile_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("SHORTENLY_REDIS_ADDR", "redis://10.0.0.5:6379")
	path := writeConfigFile(t, "database_urls:\n  - ${SHORTENLY_REDIS_ADDR}\n")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"redis://10.0.0.5:6379"}, cfg.DatabaseURLs)
}

func TestManager_StatusReflectsLoadedConfig(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)

	mgr, err := NewManager(path, corelog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	st := mgr.Status()
	require.Equal(t, path, st.Path)
	require.NotEmpty(t, st.Checksum)
	require.False(t, st.LoadedAt.IsZero())
	require.Equal(t, uint64(1), st.ReloadCount)
}

func TestManager_ReloadUpdatesChecksumAndNotifiesListeners(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)

	mgr, err := NewManager(path, corelog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	before := mgr.Status()

	var notified *Config
	mgr.OnChange(func(c *Config) { notified = c })

	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  l1_capacity: 999
database_urls:
  - redis://127.0.0.1:6379
`), 0o644))

	require.NoError(t, mgr.Reload())

	after := mgr.Status()
	require.NotEqual(t, before.Checksum, after.Checksum)
	require.Equal(t, uint64(2), after.ReloadCount)
	require.NotNil(t, notified)
	require.Equal(t, 999, notified.Cache.L1Capacity)
	require.Equal(t, 999, mgr.Get().Cache.L1Capacity)
}

func TestManager_WatchReloadsOnFileWrite(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)

	mgr, err := NewManager(path, corelog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, mgr.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  l1_capacity: 123
database_urls:
  - redis://127.0.0.1:6379
`), 0o644))

	require.Eventually(t, func() bool {
		return mgr.Get().Cache.L1Capacity == 123
	}, 2*time.Second, 20*time.Millisecond, "expected watcher to pick up file change")
}
