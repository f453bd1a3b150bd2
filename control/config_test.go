package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.UDP.Enabled)
	assert.Equal(t, 60, cfg.UDP.MaxSessions)
	assert.Equal(t, 60*time.Second, cfg.TCP.SessionTimeout)
	assert.Equal(t, 60, cfg.NAT.Capacity)
	assert.Equal(t, 60*time.Second, cfg.NAT.TTL)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.NAT.Capacity)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
udp:
  listen: "127.0.0.1:5353"
  max_sessions: 8
  session_timeout: 15s
tcp:
  enabled: false
nat:
  capacity: 128
  ttl: 2m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 8, cfg.UDP.MaxSessions)
	assert.Equal(t, 15*time.Second, cfg.UDP.SessionTimeout)
	assert.False(t, cfg.TCP.Enabled)
	assert.Equal(t, "0.0.0.0:7201", cfg.TCP.Listen)
	assert.Equal(t, 128, cfg.NAT.Capacity)
	assert.Equal(t, 2*time.Minute, cfg.NAT.TTL)

	addr, err := cfg.UDP.ListenAddr()
	require.NoError(t, err)
	assert.Equal(t, uint16(5353), addr.Port())
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "udp:\n  max_sessions: 8\n")
	t.Setenv("HIOLOAD_NAT_UDP_MAX_SESSIONS", "16")
	t.Setenv("HIOLOAD_NAT_NAT_TTL", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.UDP.MaxSessions)
	assert.Equal(t, 30*time.Second, cfg.NAT.TTL)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"zero sessions":  "udp:\n  max_sessions: 0\n",
		"bad listen":     "tcp:\n  listen: \"localhost\"\n",
		"bad level":      "logging:\n  level: loud\n",
		"negative ttl":   "nat:\n  ttl: -1s\n",
		"bad metrics at": "metrics:\n  listen: \"nowhere\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "udp: [unterminated"))
	assert.Error(t, err)
}
