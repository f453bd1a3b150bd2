package control

import (
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloader_TriggerSyncAppliesNewConfig(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: INFO\n")
	r, err := NewReloader(path)
	require.NoError(t, err)
	assert.Equal(t, "INFO", r.Config().Logging.Level)

	var seen atomic.Value
	r.RegisterReloadHook(func(cfg *Config) { seen.Store(cfg.Logging.Level) })

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: DEBUG\n"), 0o600))
	require.NoError(t, r.TriggerSync())

	assert.Equal(t, "DEBUG", seen.Load())
	assert.Equal(t, "DEBUG", r.Config().Logging.Level)
}

func TestReloader_InvalidConfigKeepsPrevious(t *testing.T) {
	path := writeConfig(t, "nat:\n  capacity: 10\n")
	r, err := NewReloader(path)
	require.NoError(t, err)

	calls := 0
	r.RegisterReloadHook(func(*Config) { calls++ })

	require.NoError(t, os.WriteFile(path, []byte("nat:\n  capacity: 0\n"), 0o600))
	assert.Error(t, r.TriggerSync())
	assert.Equal(t, 10, r.Config().NAT.Capacity)
	assert.Zero(t, calls)
}

func TestReloader_WatchFollowsFileChanges(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: INFO\n")
	r, err := NewReloader(path)
	require.NoError(t, err)

	var level atomic.Value
	r.RegisterReloadHook(func(cfg *Config) { level.Store(cfg.Logging.Level) })
	r.Watch()
	r.Watch()

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: WARN\n"), 0o600))
	require.Eventually(t, func() bool { return level.Load() == "WARN" }, 3*time.Second, 10*time.Millisecond)
}

func TestReloader_WithoutFileUsesDefaults(t *testing.T) {
	r, err := NewReloader("")
	require.NoError(t, err)
	r.Watch()
	require.NoError(t, r.TriggerSync())
	assert.Equal(t, 60, r.Config().UDP.MaxSessions)
}
