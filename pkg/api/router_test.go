package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teweldemat/cis-dire-rc/pkg/auth"
	"github.com/teweldemat/cis-dire-rc/pkg/config"
	"github.com/teweldemat/cis-dire-rc/pkg/gateway"
	"github.com/teweldemat/cis-dire-rc/pkg/probe"
	"github.com/teweldemat/cis-dire-rc/pkg/store"
)

func newTestRouter(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/config.json"
	require.NoError(t, os.WriteFile(path, []byte(`{
		"targets": {"services": [], "containers": [], "tcp_checks": []},
		"actions": {"service": ["restart"], "container": ["restart"]},
		"scheduled_probes": []
	}`), 0644))
	t.Setenv("RC_CONFIG_PATH", path)
	t.Setenv("RC_ADMIN_TOKEN", "secret")
	_, err := config.Load()
	require.NoError(t, err)

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := store.New(db)

	g := gateway.New(s, gateway.NewDirectTransport())
	srv := NewServer(s, probe.New(), g)
	router := srv.NewRouter(auth.New("secret"), 1<<20)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts, s
}

func TestHealthEndpointIsUnauthenticated(t *testing.T) {
	ts, _ := newTestRouter(t)
	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusRequiresToken(t *testing.T) {
	ts, _ := newTestRouter(t)
	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStatusWithTokenSucceeds(t *testing.T) {
	ts, _ := newTestRouter(t)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/status", nil)
	req.Header.Set("X-RC-Token", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestActionRejectsDisallowedTarget(t *testing.T) {
	ts, _ := newTestRouter(t)
	body, _ := json.Marshal(map[string]string{"target_type": "service", "action": "restart", "target": "nginx"})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/action", bytes.NewReader(body))
	req.Header.Set("X-RC-Token", "secret")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestProbeHistoryRequiresKey(t *testing.T) {
	ts, _ := newTestRouter(t)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/probes/history", nil)
	req.Header.Set("X-RC-Token", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
