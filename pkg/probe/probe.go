// Package probe implements the stateless ProbeRunner (spec.md §4.2):
// given a probe definition it returns a result envelope, never raising past
// its own boundary. Dispatch shape (switch-on-type, per-type effective
// timeout) is grounded on the teacher's pkg/probe/probe.go executeProbe;
// the four supported types' exact semantics, defaults, and env var names
// are ported from original_source/python-backend/remote_control_server.py's
// ProbeRunner class.
package probe

import (
	"fmt"
	"net"
	"time"

	"github.com/teweldemat/cis-dire-rc/pkg/store"
)

// Result is the envelope returned for every probe attempt, regardless of
// outcome.
type Result struct {
	StartedAt string                 `json:"started_at"`
	EndedAt   string                 `json:"ended_at"`
	LatencyMs float64                `json:"latency_ms"`
	OK        bool                   `json:"ok"`
	Status    string                 `json:"status"`
	Error     string                 `json:"error,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
}

// Runner executes probes. It holds no mutable state between invocations.
type Runner struct{}

// New returns a Runner.
func New() *Runner { return &Runner{} }

// Run executes one probe attempt for def. Any panic or error inside the
// type-specific logic is caught and materialized as an {ok:false,
// status:"error"} result rather than propagated — the scheduler never sees
// a probe raise.
func (r *Runner) Run(def store.ProbeDefinition) (res Result) {
	start := time.Now()
	startedAt := isoNow(start)
	cfg := def.Config()

	defer func() {
		res.StartedAt = startedAt
		res.EndedAt = isoNow(time.Now())
		res.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		if rec := recover(); rec != nil {
			res.OK = false
			res.Status = "error"
			res.Error = fmt.Sprintf("%v", rec)
			res.Payload = map[string]interface{}{"probe_type": def.Type}
		}
	}()

	switch def.Type {
	case "tcp_check":
		res = r.runTCPCheck(cfg, def.TimeoutSeconds)
	case "http_check":
		res = r.runHTTPCheck(cfg, def.TimeoutSeconds)
	case "sms_health":
		res = r.runSMSHealth(cfg, def.TimeoutSeconds)
	case "nid_health":
		res = r.runNIDHealth(cfg, def.TimeoutSeconds)
	default:
		res.OK = false
		res.Status = "error"
		res.Error = fmt.Sprintf("unknown probe type %q", def.Type)
		res.Payload = map[string]interface{}{"probe_type": def.Type}
	}
	return res
}

func isoNow(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// tcpDial opens a TCP connection to host:port with the given timeout,
// reporting latency and error without ever panicking.
func tcpDial(host string, port int, timeout time.Duration) (ok bool, latencyMs float64, errMsg string) {
	start := time.Now()
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), timeout)
	latencyMs = float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		return false, latencyMs, err.Error()
	}
	conn.Close()
	return true, latencyMs, ""
}

func (r *Runner) runTCPCheck(cfg map[string]interface{}, timeoutSeconds int) Result {
	host, _ := cfg["host"].(string)
	port := intFromConfig(cfg, "port", 0)

	if port <= 0 {
		return Result{
			OK: false, Status: "error", Error: "port must be > 0",
			Payload: map[string]interface{}{"probe_type": "tcp_check", "host": host, "port": port},
		}
	}

	effTimeout := capDuration(timeoutSeconds, 10)
	ok, latency, errMsg := tcpDial(host, port, effTimeout)

	status := "healthy"
	if !ok {
		status = "degraded"
	}
	return Result{
		OK: ok, Status: status, Error: errMsg,
		Payload: map[string]interface{}{
			"probe_type": "tcp_check", "host": host, "port": port,
			"ok": ok, "latency_ms": latency, "error": errMsg,
		},
	}
}

func (r *Runner) runHTTPCheck(cfg map[string]interface{}, timeoutSeconds int) Result {
	url, _ := cfg["url"].(string)
	method, _ := cfg["method"].(string)
	if method == "" {
		method = "GET"
	}
	allow4xx := boolFromConfig(cfg, "allow_4xx", true)
	expected := intsFromConfig(cfg, "expected_status")

	effTimeout := capDuration(timeoutSeconds, 20)
	hr := httpProbe(url, method, effTimeout, expected, allow4xx)

	status := "healthy"
	if !hr.ok {
		status = "degraded"
	}
	return Result{
		OK: hr.ok, Status: status, Error: hr.errMsg,
		Payload: map[string]interface{}{
			"probe_type": "http_check", "url": url, "method": method,
			"status_code": hr.statusCode, "ok": hr.ok, "error": hr.errMsg,
			"latency_ms": hr.latencyMs, "sample": hr.sample,
		},
	}
}

func capDuration(configuredSeconds, capSeconds int) time.Duration {
	s := configuredSeconds
	if s <= 0 || s > capSeconds {
		s = capSeconds
	}
	return time.Duration(s) * time.Second
}

func intFromConfig(cfg map[string]interface{}, key string, fallback int) int {
	v, ok := cfg[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return fallback
	}
}

func stringFromConfig(cfg map[string]interface{}, key, fallback string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func boolFromConfig(cfg map[string]interface{}, key string, fallback bool) bool {
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return fallback
}

func intsFromConfig(cfg map[string]interface{}, key string) []int {
	v, ok := cfg[key]
	if !ok {
		return nil
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]int, 0, len(arr))
	for _, e := range arr {
		switch n := e.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		}
	}
	return out
}
