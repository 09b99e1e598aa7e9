package probe

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// step is one named check inside a composite probe (sms_health, nid_health).
// A skipped step always counts as ok for aggregation (spec.md §4.2
// "Step-ok rule"), matching the Python original's ProbeRunner._step_ok.
type step struct {
	Name       string
	Required   bool
	OK         bool
	Skipped    bool
	Error      string
	StatusCode int
	LatencyMs  float64
	Value      *int
	Threshold  int
}

func stepOK(s step) bool {
	if s.Skipped {
		return true
	}
	return s.OK
}

func aggregateSteps(steps []step) (ok bool, status, errMsg string) {
	var failedNames []string
	for _, s := range steps {
		if !stepOK(s) {
			failedNames = append(failedNames, s.Name)
		}
	}
	ok = len(failedNames) == 0
	if ok {
		status = "healthy"
	} else {
		status = "degraded"
	}
	return ok, status, strings.Join(failedNames, "; ")
}

func stepToMap(s step) map[string]interface{} {
	m := map[string]interface{}{"name": s.Name, "required": s.Required, "ok": s.OK}
	if s.Skipped {
		m["skipped"] = true
	}
	if s.Error != "" {
		m["error"] = s.Error
	}
	if s.StatusCode != 0 {
		m["status_code"] = s.StatusCode
	}
	if s.LatencyMs != 0 {
		m["latency_ms"] = s.LatencyMs
	}
	if s.Value != nil {
		m["value"] = *s.Value
		m["threshold"] = s.Threshold
	}
	return m
}

func stepsPayload(probeName, baseURLKey, baseURL string, steps []step) map[string]interface{} {
	raw := make([]map[string]interface{}, 0, len(steps))
	for _, s := range steps {
		raw = append(raw, stepToMap(s))
	}
	return map[string]interface{}{"probe": probeName, baseURLKey: baseURL, "steps": raw}
}

func tcpStep(name string, cfg map[string]interface{}, rawURL string, timeoutSeconds int, capSeconds int) step {
	host, port, err := parseURLHostPort(rawURL)
	if err != nil {
		return step{Name: name, Required: true, OK: false, Error: err.Error()}
	}
	timeout := capDuration(timeoutSeconds, capSeconds)
	ok, latency, errMsg := tcpDial(host, port, timeout)
	return step{Name: name, Required: true, OK: ok, Error: errMsg, LatencyMs: latency}
}

func httpStep(name, rawURL string, timeoutSeconds, capSeconds int) step {
	timeout := capDuration(timeoutSeconds, capSeconds)
	hr := httpProbe(rawURL, "GET", timeout, nil, true)
	return step{Name: name, Required: true, OK: hr.ok, Error: hr.errMsg, StatusCode: hr.statusCode, LatencyMs: hr.latencyMs}
}

// runSMSHealth checks the Afromessage SMS gateway: TCP and HTTP reachability
// against afro_base_url, plus two optional Postgres backlog checks when a
// DSN is configured. Ported from
// original_source/.../ProbeRunner._probe_sms_health.
func (r *Runner) runSMSHealth(cfg map[string]interface{}, timeoutSeconds int) Result {
	baseURL := stringFromConfig(cfg, "afro_base_url", "")
	if baseURL == "" {
		envName := stringFromConfig(cfg, "afro_base_url_env", "AFRO_SMS_BASE_URL")
		baseURL = envOr(envName, "https://api.afromessage.com/api")
	}

	var steps []step
	steps = append(steps, tcpStep("provider_tcp", cfg, baseURL, timeoutSeconds, 5))
	steps = append(steps, httpStep("provider_http", baseURL, timeoutSeconds, 8))

	dsn := stringFromConfig(cfg, "pg_dsn", "")
	if dsn == "" {
		envName := stringFromConfig(cfg, "pg_dsn_env", "RC_PG_DSN")
		dsn = envOr(envName, "")
	}

	if dsn == "" {
		steps = append(steps, step{Name: "db_checks", Required: false, OK: true, Skipped: true, Error: "pg_dsn not provided"})
	} else {
		outboxLimit := intFromConfig(cfg, "max_outbox", 200)
		failedLimit := intFromConfig(cfg, "max_failed_recent", 20)
		failedWindowRows := intFromConfig(cfg, "failed_recent_rows", 200)

		outboxQuery := stringFromConfig(cfg, "outbox_count_query",
			"SELECT COUNT(*) FROM cis_messaging.cis_sms WHERE status='Outbox';")
		failedQuery := stringFromConfig(cfg, "failed_recent_query", fmt.Sprintf(`
			SELECT COALESCE(SUM(CASE WHEN q.success = false THEN 1 ELSE 0 END), 0)
			FROM (
			  SELECT r.success
			  FROM cis_messaging.cis_sms_result r
			  JOIN cis_messaging.cis_sms s ON s.id = r.sms_id
			  ORDER BY s.create_time DESC
			  LIMIT %d
			) q;`, failedWindowRows))

		steps = append(steps, psqlThresholdStep("db_outbox_backlog", dsn, outboxQuery, outboxLimit, timeoutSeconds))
		steps = append(steps, psqlThresholdStep("db_failed_recent", dsn, failedQuery, failedLimit, timeoutSeconds))
	}

	ok, status, errMsg := aggregateSteps(steps)
	return Result{OK: ok, Status: status, Error: errMsg, Payload: stepsPayload("sms_health", "afro_base_url", baseURL, steps)}
}

// runNIDHealth checks the National ID gateway's TCP/HTTP reachability on its
// base URL plus its two well-known data endpoints. All four steps are
// required; ported from original_source/.../ProbeRunner._probe_nid_health.
func (r *Runner) runNIDHealth(cfg map[string]interface{}, timeoutSeconds int) Result {
	baseURL := stringFromConfig(cfg, "base_url", "")
	if baseURL == "" {
		envName := stringFromConfig(cfg, "base_url_env", "NID_BASE_URL")
		baseURL = envOr(envName, "http://196.188.240.67/gateway")
	}
	requestDataURL := stringFromConfig(cfg, "request_data_url", baseURL+"/nid/requestData")
	getDataURL := stringFromConfig(cfg, "get_data_url", baseURL+"/nid/getData")

	var steps []step
	steps = append(steps, tcpStep("gateway_tcp", cfg, baseURL, timeoutSeconds, 5))
	steps = append(steps, httpStep("gateway_http_base", baseURL, timeoutSeconds, 8))
	steps = append(steps, httpStep("gateway_http_requestData_endpoint", requestDataURL, timeoutSeconds, 8))
	steps = append(steps, httpStep("gateway_http_getData_endpoint", getDataURL, timeoutSeconds, 8))

	ok, status, errMsg := aggregateSteps(steps)
	return Result{OK: ok, Status: status, Error: errMsg, Payload: stepsPayload("nid_health", "base_url", baseURL, steps)}
}

func psqlThresholdStep(name, dsn, query string, limit, timeoutSeconds int) step {
	timeout := time.Duration(maxInt(5, timeoutSeconds)) * time.Second
	value, err := psqlScalar(dsn, query, timeout)
	if err != nil {
		return step{Name: name, Required: true, OK: false, Error: err.Error(), Threshold: limit}
	}
	v := value
	return step{Name: name, Required: true, OK: value <= limit, Value: &v, Threshold: limit}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// psqlScalar shells out to the psql client to run a single scalar query,
// the same mechanism as the Python original's _psql_scalar: it never links
// a Postgres driver into the process, trading a library dependency for a
// subprocess already present on the host where this service runs.
func psqlScalar(dsn, query string, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "psql", dsn, "-At", "-v", "ON_ERROR_STOP=1", "-c", query)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return 0, fmt.Errorf("psql: %s", msg)
	}

	lines := strings.SplitN(stdout.String(), "\n", 2)
	first := strings.TrimSpace(lines[0])
	if first == "" {
		return 0, fmt.Errorf("no scalar result")
	}
	n, err := strconv.Atoi(first)
	if err != nil {
		return 0, fmt.Errorf("non-integer scalar result: %s", first)
	}
	return n, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
