package helper

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func testAllowlist() *Allowlist {
	a := &Allowlist{}
	a.Targets.Services = []string{"nginx"}
	a.Targets.Containers = []string{"web"}
	a.Actions.Service = []string{"restart", "stop"}
	a.Actions.Container = []string{"restart"}
	return a
}

func TestExecuteUnsupportedOp(t *testing.T) {
	api := NewAPI(testAllowlist())
	resp := api.Execute(Request{Op: "bogus"})
	require.False(t, resp.OK)
	require.Equal(t, -1, resp.ReturnCode)
}

func TestExecuteRequiresTarget(t *testing.T) {
	api := NewAPI(testAllowlist())
	resp := api.Execute(Request{Op: "service_action", Action: "restart"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Stderr, "Target is required")
}

func TestExecuteRejectsDisallowedAction(t *testing.T) {
	api := NewAPI(testAllowlist())
	resp := api.Execute(Request{Op: "service_action", Action: "delete", Target: "nginx"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Stderr, "is not allowed")
}

func TestExecuteRejectsUnlistedTarget(t *testing.T) {
	api := NewAPI(testAllowlist())
	resp := api.Execute(Request{Op: "service_action", Action: "restart", Target: "ssh"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Stderr, "not in allowlist")
}

func TestExecuteContainerActionChecksContainerAllowlist(t *testing.T) {
	api := NewAPI(testAllowlist())
	resp := api.Execute(Request{Op: "container_action", Action: "restart", Target: "db"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Stderr, "Container 'db' is not in allowlist")
}

func TestLoadAllowlistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/helper-config.yaml"
	content := []byte("targets:\n  services: [nginx]\n  containers: [web]\nactions:\n  service: [restart]\n  container: [restart]\n")
	require.NoError(t, os.WriteFile(path, content, 0644))

	a, err := LoadAllowlist(path)
	require.NoError(t, err)
	require.Equal(t, []string{"nginx"}, a.Targets.Services)
	require.Equal(t, []string{"restart"}, a.Actions.Container)
}
