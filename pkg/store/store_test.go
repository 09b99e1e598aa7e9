package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestSyncProbeDefinitionsInsertsAndSoftDeletes(t *testing.T) {
	s := newTestStore(t)

	d1 := NewProbeDefinition("ssh", "tcp_check", 60, 3, 0, true, map[string]interface{}{"host": "127.0.0.1", "port": 22})
	require.NoError(t, s.SyncProbeDefinitions([]ProbeDefinition{d1}))

	got, err := s.GetProbeDefinition("ssh")
	require.NoError(t, err)
	require.True(t, got.Enabled)
	require.NotNil(t, got.NextRunAt)

	// Re-sync with ssh omitted: it must be disabled, not deleted.
	d2 := NewProbeDefinition("web", "http_check", 30, 3, 0, true, map[string]interface{}{"url": "http://x"})
	require.NoError(t, s.SyncProbeDefinitions([]ProbeDefinition{d2}))

	got, err = s.GetProbeDefinition("ssh")
	require.NoError(t, err)
	require.False(t, got.Enabled)
}

func TestListDueProbesOrdering(t *testing.T) {
	s := newTestStore(t)
	a := NewProbeDefinition("a", "tcp_check", 60, 3, 0, true, nil)
	b := NewProbeDefinition("b", "tcp_check", 60, 3, 0, true, nil)
	require.NoError(t, s.SyncProbeDefinitions([]ProbeDefinition{a, b}))

	due, err := s.ListDueProbes(nowISO())
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, "a", due[0].Key)
}

func TestSaveProbeRunAtomicity(t *testing.T) {
	s := newTestStore(t)
	d := NewProbeDefinition("ssh", "tcp_check", 60, 3, 0, true, nil)
	require.NoError(t, s.SyncProbeDefinitions([]ProbeDefinition{d}))

	started := nowISO()
	time.Sleep(time.Millisecond)
	ended := nowISO()
	next := nowISO()

	run := ProbeRun{
		ProbeKey: "ssh", StartedAt: started, EndedAt: ended,
		OK: true, Status: "healthy", LatencyMs: 5, PayloadJSON: "{}",
	}
	require.NoError(t, s.SaveProbeRun("ssh", run, next))

	got, err := s.GetProbeDefinition("ssh")
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	require.Equal(t, ended, *got.LastRunAt)
	require.Equal(t, next, *got.NextRunAt)

	history, err := s.GetProbeHistory("ssh", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, int64(1), history[0].ID)
}

func TestGetLatestProbesStaleness(t *testing.T) {
	s := newTestStore(t)
	d := NewProbeDefinition("ssh", "tcp_check", 60, 3, 10, true, nil)
	require.NoError(t, s.SyncProbeDefinitions([]ProbeDefinition{d}))

	latest, err := s.GetLatestProbes(nowISO())
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.True(t, latest[0].IsStale, "no run yet => stale")

	old := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339Nano)
	run := ProbeRun{ProbeKey: "ssh", StartedAt: old, EndedAt: old, OK: true, Status: "healthy", PayloadJSON: "{}"}
	require.NoError(t, s.SaveProbeRun("ssh", run, nowISO()))

	latest, err = s.GetLatestProbes(nowISO())
	require.NoError(t, err)
	require.True(t, latest[0].IsStale, "run older than stale_after => stale")
}

func TestActionAuditDefaultsActor(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddActionAudit(ActionAudit{TargetType: "service", Target: "nginx", Action: "restart", OK: true}))

	rows, err := s.ReadActionAudit(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "unknown", rows[0].Actor)
}

func TestConfigTolerantOfMalformedJSON(t *testing.T) {
	d := ProbeDefinition{ConfigJSON: "{not json"}
	require.Equal(t, map[string]interface{}{}, d.Config())
}
