package store

import "encoding/json"

// ProbeDefinition is a named, typed, periodically-executed health check.
// See SPEC_FULL.md §3.
type ProbeDefinition struct {
	Key             string          `db:"probe_key" json:"key"`
	Type            string          `db:"probe_type" json:"type"`
	IntervalSeconds int             `db:"interval_seconds" json:"interval_seconds"`
	TimeoutSeconds  int             `db:"timeout_seconds" json:"timeout_seconds"`
	StaleAfter      int             `db:"stale_after_seconds" json:"stale_after_seconds"`
	Enabled         bool            `db:"enabled" json:"enabled"`
	ConfigJSON      string          `db:"probe_config_json" json:"-"`
	NextRunAt       *string         `db:"next_run_at" json:"next_run_at,omitempty"`
	LastRunAt       *string         `db:"last_run_at" json:"last_run_at,omitempty"`
}

// Config decodes ConfigJSON, tolerating a malformed blob by returning an
// empty object rather than an error (spec.md §4.1 Failure clause).
func (d ProbeDefinition) Config() map[string]interface{} {
	out := map[string]interface{}{}
	if d.ConfigJSON == "" {
		return out
	}
	if err := json.Unmarshal([]byte(d.ConfigJSON), &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

// NewProbeDefinition normalizes raw fields the way sync_probe_definitions
// does in the Python original: clamps numeric minima and serializes config
// to its canonical JSON form.
func NewProbeDefinition(key, probeType string, interval, timeout, staleAfter int, enabled bool, config map[string]interface{}) ProbeDefinition {
	if interval < 5 {
		interval = 5
	}
	if timeout < 1 {
		timeout = 1
	}
	if staleAfter < 10 {
		d := interval * 2
		if d < 120 {
			d = 120
		}
		staleAfter = d
	}
	if config == nil {
		config = map[string]interface{}{}
	}
	raw, _ := json.Marshal(config)
	return ProbeDefinition{
		Key:             key,
		Type:            probeType,
		IntervalSeconds: interval,
		TimeoutSeconds:  timeout,
		StaleAfter:      staleAfter,
		Enabled:         enabled,
		ConfigJSON:      string(raw),
	}
}

// ProbeRun is one immutable, append-only execution record.
type ProbeRun struct {
	ID          int64   `db:"id" json:"id"`
	ProbeKey    string  `db:"probe_key" json:"probe_key"`
	StartedAt   string  `db:"started_at" json:"started_at"`
	EndedAt     string  `db:"ended_at" json:"ended_at"`
	OK          bool    `db:"ok" json:"ok"`
	Status      string  `db:"status" json:"status"`
	LatencyMs   float64 `db:"latency_ms" json:"latency_ms"`
	Error       string  `db:"error" json:"error,omitempty"`
	PayloadJSON string  `db:"payload_json" json:"-"`
}

// Payload decodes PayloadJSON, defaulting to an empty object on error.
func (r ProbeRun) Payload() map[string]interface{} {
	out := map[string]interface{}{}
	if r.PayloadJSON == "" {
		return out
	}
	_ = json.Unmarshal([]byte(r.PayloadJSON), &out)
	return out
}

// ActionAudit is one immutable record of an attempted lifecycle action that
// reached command execution.
type ActionAudit struct {
	ID            int64  `db:"id" json:"id"`
	TimestampUTC  string `db:"timestamp_utc" json:"timestamp_utc"`
	Actor         string `db:"actor" json:"actor"`
	RemoteIP      string `db:"remote_ip" json:"remote_ip"`
	TargetType    string `db:"target_type" json:"target_type"`
	Target        string `db:"target" json:"target"`
	Action        string `db:"action" json:"action"`
	Reason        string `db:"reason" json:"reason"`
	OK            bool   `db:"ok" json:"ok"`
	ReturnCode    int    `db:"return_code" json:"return_code"`
	Stderr        string `db:"stderr" json:"stderr"`
}

// ProbeWithLatestRun is the result row shape returned by GetLatestProbes:
// a definition left-joined to its most recent run, with staleness derived.
type ProbeWithLatestRun struct {
	Definition  ProbeDefinition `json:"definition"`
	LatestRun   *ProbeRun       `json:"latest_run,omitempty"`
	AgeSeconds  *float64        `json:"age_seconds"`
	IsStale     bool            `json:"is_stale"`
}
