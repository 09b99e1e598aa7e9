// Package metrics holds the process's Prometheus registry and the handful
// of series SPEC_FULL.md §6 names. Unlike the teacher's generic
// engine/telemetry/metrics.Provider abstraction (dynamic metric creation
// behind a cardinality-tracking facade), this service's metric set is
// small and fixed, so the vectors are declared directly against a private
// registry — same library, same "own registry + promhttp.HandlerFor"
// wiring, no provider indirection since there is nothing to abstract over.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	// ProbeRunsTotal counts scheduler-driven probe executions whose run was
	// persisted, by key and outcome. On-demand runs via POST
	// /api/v1/probes/run are not counted.
	ProbeRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rc_probe_runs_total",
		Help: "Total probe executions by probe_key and status.",
	}, []string{"probe_key", "status"})

	// ProbeLatestStale reports 1 when a probe's latest run is older than
	// its stale_after_seconds threshold, 0 otherwise.
	ProbeLatestStale = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rc_probe_latest_stale",
		Help: "1 if the probe's latest result is stale, 0 otherwise.",
	}, []string{"probe_key"})

	// ActionAuditTotal counts gateway actions that reached command
	// execution and were audited, by target type and outcome. Requests
	// rejected by validation are not counted.
	ActionAuditTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rc_action_audit_total",
		Help: "Total lifecycle actions executed by target_type and ok.",
	}, []string{"target_type", "ok"})

	// SchedulerTickDuration measures how long one scheduler sweep
	// (runDue) takes, independent of individual probe timeouts.
	SchedulerTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rc_scheduler_tick_duration_seconds",
		Help:    "Duration of one scheduler due-probe sweep.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	registry.MustRegister(ProbeRunsTotal, ProbeLatestStale, ActionAuditTotal, SchedulerTickDuration)
}

// Handler exposes the registry for mounting at GET /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
