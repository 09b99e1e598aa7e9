package probe

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teweldemat/cis-dire-rc/pkg/store"
)

func TestRunTCPCheckHealthy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	def := store.NewProbeDefinition("svc", "tcp_check", 60, 3, 0, true, map[string]interface{}{
		"host": host, "port": atoi(t, portStr),
	})

	res := New().Run(def)
	require.True(t, res.OK)
	require.Equal(t, "healthy", res.Status)
	require.NotEmpty(t, res.StartedAt)
	require.NotEmpty(t, res.EndedAt)
}

func TestRunTCPCheckUnreachable(t *testing.T) {
	def := store.NewProbeDefinition("svc", "tcp_check", 60, 3, 0, true, map[string]interface{}{
		"host": "127.0.0.1", "port": 1,
	})
	res := New().Run(def)
	require.False(t, res.OK)
	require.Equal(t, "degraded", res.Status)
}

func TestRunTCPCheckMissingPort(t *testing.T) {
	def := store.NewProbeDefinition("svc", "tcp_check", 60, 3, 0, true, map[string]interface{}{"host": "127.0.0.1"})
	res := New().Run(def)
	require.False(t, res.OK)
	require.Equal(t, "error", res.Status)
}

func TestRunHTTPCheckExpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	def := store.NewProbeDefinition("svc", "http_check", 60, 3, 0, true, map[string]interface{}{
		"url": srv.URL, "expected_status": []interface{}{418},
	})
	res := New().Run(def)
	require.True(t, res.OK)
	require.Equal(t, "healthy", res.Status)
}

func TestRunHTTPCheckAllow4xxDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	def := store.NewProbeDefinition("svc", "http_check", 60, 3, 0, true, map[string]interface{}{"url": srv.URL})
	res := New().Run(def)
	require.True(t, res.OK, "404 counts as ok when allow_4xx defaults true")
}

func TestRunHTTPCheckStrictBandRejects4xxWhenDisallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	def := store.NewProbeDefinition("svc", "http_check", 60, 3, 0, true, map[string]interface{}{
		"url": srv.URL, "allow_4xx": false,
	})
	res := New().Run(def)
	require.False(t, res.OK)
	require.Equal(t, "degraded", res.Status)
}

func TestRunHTTPCheckUnreachable(t *testing.T) {
	def := store.NewProbeDefinition("svc", "http_check", 60, 3, 0, true, map[string]interface{}{
		"url": "http://127.0.0.1:1/nope",
	})
	res := New().Run(def)
	require.False(t, res.OK)
	require.Equal(t, "degraded", res.Status)
}

func TestUnknownProbeType(t *testing.T) {
	def := store.NewProbeDefinition("svc", "bogus", 60, 3, 0, true, nil)
	res := New().Run(def)
	require.False(t, res.OK)
	require.Equal(t, "error", res.Status)
	require.Contains(t, res.Error, "bogus")
}

// TestCompositeProbeAggregation exercises scenario F (spec.md §8): one step
// failing turns the aggregate degraded even though other steps are healthy,
// and a skipped step never drags the aggregate down.
func TestCompositeProbeAggregation(t *testing.T) {
	steps := []step{
		{Name: "a", OK: true},
		{Name: "b", OK: false},
		{Name: "c", OK: true, Skipped: false},
	}
	ok, status, errMsg := aggregateSteps(steps)
	require.False(t, ok)
	require.Equal(t, "degraded", status)
	require.Equal(t, "b", errMsg)

	steps = []step{
		{Name: "a", OK: true},
		{Name: "b", OK: false, Skipped: true},
	}
	ok, status, errMsg = aggregateSteps(steps)
	require.True(t, ok)
	require.Equal(t, "healthy", status)
	require.Empty(t, errMsg)
}

func TestSMSHealthSkipsDBStepWithoutDSN(t *testing.T) {
	t.Setenv("RC_PG_DSN", "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	def := store.NewProbeDefinition("sms", "sms_health", 60, 5, 0, true, map[string]interface{}{"afro_base_url": srv.URL})
	res := New().Run(def)
	require.True(t, res.OK)

	steps, ok := res.Payload["steps"].([]map[string]interface{})
	require.True(t, ok)
	found := false
	for _, s := range steps {
		if s["name"] == "db_checks" {
			found = true
			require.Equal(t, true, s["skipped"])
			require.Equal(t, false, s["required"])
		}
	}
	require.True(t, found)
}

func atoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			t.Fatalf("not a number: %s", s)
		}
		n = n*10 + int(c-'0')
	}
	return n
}
