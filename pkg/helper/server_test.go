package helper

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServerRoundTrip(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "helper.sock")
	api := NewAPI(testAllowlist())
	srv := NewServer(api, socketPath, "", 16384)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	defer srv.Close()

	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	req, _ := json.Marshal(Request{Op: "service_action", Action: "restart", Target: "ssh"})
	_, err = conn.Write(append(req, '\n'))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.False(t, resp.OK)
	require.Contains(t, resp.Stderr, "not in allowlist")
}

func TestServerRejectsOversizedRequest(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "helper.sock")
	api := NewAPI(testAllowlist())
	srv := NewServer(api, socketPath, "", 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	defer srv.Close()

	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	oversized := make([]byte, 2048)
	for i := range oversized {
		oversized[i] = 'a'
	}
	oversized = append(oversized, '\n')
	_, err = conn.Write(oversized)
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.False(t, resp.OK)
	require.Contains(t, resp.Stderr, "too large")
}
