package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
  "targets": {
    "services": ["nginx"],
    "containers": ["web"],
    "tcp_checks": [{"name": "ssh", "host": "127.0.0.1", "port": 22, "timeout_seconds": 1.5}]
  },
  "actions": {
    "service": ["start", "stop", "restart"],
    "container": ["start", "stop", "restart"]
  },
  "scheduled_probes": [
    {"key": "ssh", "type": "tcp_check", "interval_seconds": 60, "timeout_seconds": 3, "config": {"host": "127.0.0.1", "port": 22}}
  ]
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeTestConfig(t)
	t.Setenv("RC_CONFIG_PATH", path)
	global = nil

	snap, err := Load()
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, []string{"nginx"}, snap.Targets.Services)
	assert.Equal(t, []string{"web"}, snap.Targets.Containers)
	assert.Len(t, snap.ScheduledProbes, 1)
	assert.Equal(t, "ssh", snap.ScheduledProbes[0].Key)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeTestConfig(t)
	t.Setenv("RC_CONFIG_PATH", path)
	t.Setenv("RC_BIND_PORT", "9999")
	t.Setenv("RC_ADMIN_TOKEN", "s3cret")
	global = nil

	snap, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, snap.BindPort)
	assert.Equal(t, "s3cret", snap.AdminToken)
}

func TestValidateRejectsUnknownProbeType(t *testing.T) {
	s := &Snapshot{
		BindPort:        8765,
		ScheduledProbes: []ScheduledProbe{{Key: "x", Type: "bogus"}},
	}
	err := validate(s)
	assert.Error(t, err)
}

func TestValidateRejectsBadPort(t *testing.T) {
	s := &Snapshot{BindPort: 0}
	err := validate(s)
	assert.Error(t, err)
}

func TestGetPanicsWithoutLoad(t *testing.T) {
	global = nil
	assert.Panics(t, func() { Get() })
}

func TestGetAfterLoad(t *testing.T) {
	path := writeTestConfig(t)
	t.Setenv("RC_CONFIG_PATH", path)
	global = nil

	s1, err := Load()
	require.NoError(t, err)
	s2 := Get()
	assert.Same(t, s1, s2)
}
