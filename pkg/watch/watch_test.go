package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teweldemat/cis-dire-rc/pkg/store"
)

func writeConfig(t *testing.T, path, servicesJSON string) {
	t.Helper()
	body := `{
		"targets": {"services": [` + servicesJSON + `], "containers": [], "tcp_checks": []},
		"actions": {"service": ["restart"], "container": ["restart"]},
		"scheduled_probes": [
			{"key": "db", "type": "tcp_check", "interval_seconds": 30, "timeout_seconds": 5, "config": {"host": "127.0.0.1", "port": 1}}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestWatcherResyncsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, `"nginx"`)

	t.Setenv("RC_CONFIG_PATH", path)
	t.Setenv("RC_ADMIN_TOKEN", "secret")

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	s := store.New(db)

	w, err := New(path, s)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Run(ctx))

	writeConfig(t, path, `"nginx","caddy"`)

	require.Eventually(t, func() bool {
		_, err := s.GetProbeDefinition("db")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}
