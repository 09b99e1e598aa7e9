package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teweldemat/cis-dire-rc/pkg/probe"
	"github.com/teweldemat/cis-dire-rc/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.New(db)
}

func TestSchedulerRunsDueProbeAndAdvancesNextRun(t *testing.T) {
	s := newTestStore(t)
	def := store.NewProbeDefinition("ssh", "tcp_check", 5, 1, 0, true, map[string]interface{}{
		"host": "127.0.0.1", "port": 1,
	})
	require.NoError(t, s.SyncProbeDefinitions([]store.ProbeDefinition{def}))

	sched := New(s, probe.New(), 20*time.Millisecond)
	sched.Start()
	time.Sleep(80 * time.Millisecond)
	sched.Stop()

	got, err := s.GetProbeDefinition("ssh")
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt, "scheduler should have executed the due probe at least once")
	require.NotNil(t, got.NextRunAt)

	history, err := s.GetProbeHistory("ssh", 10)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	require.False(t, history[0].OK, "unreachable port 1 should fail the probe")
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, probe.New(), 10*time.Millisecond)
	sched.Start()
	sched.Stop()
	require.NotPanics(t, func() { sched.Stop() })
}
