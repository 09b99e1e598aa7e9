// Package scheduler drives the single background worker that finds due
// probes, runs them, and persists the result (spec.md §4.3). Loop mechanics
// (ticker + ctx.Done select, Start/Stop with a WaitGroup) are grounded on
// the teacher's pkg/probe/probe.go ProbeMonitor.monitoringLoop; the
// due-probe / tentative-next-run-at ordering is ported from
// original_source/.../ProbeScheduler.run.
package scheduler

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/teweldemat/cis-dire-rc/pkg/metrics"
	"github.com/teweldemat/cis-dire-rc/pkg/probe"
	"github.com/teweldemat/cis-dire-rc/pkg/store"
)

// Scheduler ticks on a fixed interval, claims due probes optimistically by
// writing a tentative next_run_at before executing them, and persists each
// run atomically with the store's own next_run_at.
type Scheduler struct {
	store    *store.Store
	runner   *probe.Runner
	tick     time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// New builds a Scheduler. tick is the polling interval between due-probe
// scans, independent of any single probe's own interval_seconds.
func New(s *store.Store, r *probe.Runner, tick time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{store: s, runner: r, tick: tick, ctx: ctx, cancel: cancel}
}

// Start launches the background loop. Safe to call once; a second call is
// a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	log.Printf("⏱️  starting probe scheduler (tick=%s)", s.tick)
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels the loop and waits up to 5s for it to drain the probe it may
// be mid-run on.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Println("⚠️  scheduler stop timed out waiting for in-flight probe")
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runDue()
		}
	}
}

// runDue scans for due probes and executes each one serially: the control
// plane is single-instance, so there is no need for worker concurrency,
// only for not blocking the tick loop longer than one probe's timeout ever
// takes in aggregate.
func (s *Scheduler) runDue() {
	start := time.Now()
	defer func() { metrics.SchedulerTickDuration.Observe(time.Since(start).Seconds()) }()

	now := isoNow()
	due, err := s.store.ListDueProbes(now)
	if err != nil {
		log.Printf("❌ scheduler: list_due_probes failed: %v", err)
		return
	}

	for _, def := range due {
		s.runOne(def)
	}
}

// runOne claims a probe by optimistically pushing its next_run_at forward
// before execution, so a crash mid-probe does not cause the same probe to
// be immediately re-claimed by a restarted scheduler. The run is then
// persisted together with the same tentative next_run_at it was claimed
// with — the Python original takes the identical approach.
func (s *Scheduler) runOne(def store.ProbeDefinition) {
	tentative := time.Now().UTC().Add(time.Duration(def.IntervalSeconds) * time.Second).Format(time.RFC3339Nano)
	if err := s.store.SetProbeNextRun(def.Key, tentative); err != nil {
		log.Printf("❌ scheduler: claim %s failed: %v", def.Key, err)
		return
	}

	result := s.runner.Run(def)

	run := store.ProbeRun{
		ProbeKey:  def.Key,
		StartedAt: result.StartedAt,
		EndedAt:   result.EndedAt,
		OK:        result.OK,
		Status:    result.Status,
		LatencyMs: result.LatencyMs,
		Error:     result.Error,
	}
	if raw, err := json.Marshal(result.Payload); err == nil {
		run.PayloadJSON = string(raw)
	} else {
		run.PayloadJSON = "{}"
	}

	if err := s.store.SaveProbeRun(def.Key, run, tentative); err != nil {
		log.Printf("❌ scheduler: save_probe_run(%s) failed: %v", def.Key, err)
		return
	}

	metrics.ProbeRunsTotal.WithLabelValues(def.Key, result.Status).Inc()
	// A probe that just ran is fresh by definition; the gauge only flips to
	// 1 once GetLatestProbes observes it aging past stale_after_seconds
	// without a fresh run (see pkg/api handleStatus).
	metrics.ProbeLatestStale.WithLabelValues(def.Key).Set(0)

	if !result.OK {
		log.Printf("⚠️  probe %s (%s) %s: %s", def.Key, def.Type, result.Status, result.Error)
	}
}

func isoNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
