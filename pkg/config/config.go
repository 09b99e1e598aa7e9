// Package config loads the remote-control service's configuration snapshot.
// Unlike the teacher, which loads YAML from a fixed per-environment path,
// this service reads a single JSON document whose schema and semantics are
// fixed by the spec (SPEC_FULL.md §6); only the loading mechanics — a
// package-level singleton populated by Load() and read back by Get(), with
// environment-variable overrides layered on top — are carried over from the
// teacher's pkg/config/config.go.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// TCPCheckTarget is one entry under targets.tcp_checks.
type TCPCheckTarget struct {
	Name           string  `json:"name"`
	Host           string  `json:"host"`
	Port           int     `json:"port"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

// Targets is the config document's "targets" object.
type Targets struct {
	Services   []string         `json:"services"`
	Containers []string         `json:"containers"`
	TCPChecks  []TCPCheckTarget `json:"tcp_checks"`
}

// Actions is the config document's "actions" object: allowed verbs per
// target type.
type Actions struct {
	Service   []string `json:"service"`
	Container []string `json:"container"`
}

// ScheduledProbe is a ProbeDefinition as it appears in the config document.
// Config is left as a raw JSON message so each probe type's runner decides
// how to interpret it; the store re-serializes it to its canonical form
// (probe_config_json) rather than trusting the document's own formatting.
type ScheduledProbe struct {
	Key             string          `json:"key"`
	Type            string          `json:"type"`
	IntervalSeconds int             `json:"interval_seconds"`
	TimeoutSeconds  int             `json:"timeout_seconds"`
	StaleAfter      int             `json:"stale_after_seconds"`
	Enabled         *bool           `json:"enabled"`
	Config          json.RawMessage `json:"config"`
}

// Snapshot is the fully parsed, in-memory configuration document, loaded
// once at process start per spec.md §3's ConfigSnapshot.
type Snapshot struct {
	Targets         Targets          `json:"targets"`
	Actions         Actions          `json:"actions"`
	ScheduledProbes []ScheduledProbe `json:"scheduled_probes"`

	// Runtime knobs, populated from the environment rather than the JSON
	// document — these govern the process, not the monitored fleet.
	BindHost            string
	BindPort            int
	DBPath              string
	AdminToken          string
	MaxBodyBytes        int64
	ProbeTickSeconds    float64
	HelperSocket        string
	HelperSocketGroup   string
	HelperMaxBodyBytes  int64
	HelperConfigPath    string
	ConfigPath          string
	ConfigWatchEnabled  bool
	TLSDomain           string
	TLSACMEEmail        string
	TLSCacheDir         string
}

var global *Snapshot

// Load reads the config document from RC_CONFIG_PATH (default: config.json
// in the running binary's directory, or "./config.json" if that directory
// cannot be determined), layers RC_* environment overrides on top,
// validates, and stores the result as the package singleton.
func Load() (*Snapshot, error) {
	path := os.Getenv("RC_CONFIG_PATH")
	if path == "" {
		path = "./config.json"
		if exe, err := os.Executable(); err == nil {
			path = filepath.Join(filepath.Dir(exe), "config.json")
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	snap := &Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	snap.ConfigPath = path

	overrideWithEnv(snap)

	if err := validate(snap); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	global = snap
	return snap, nil
}

// Get returns the process-wide configuration singleton. Panics if Load has
// not run, matching the teacher's "construct explicitly in main" discipline
// (see SPEC_FULL.md §9 — this is never called before cmd/rc-server's main
// has loaded the snapshot).
func Get() *Snapshot {
	if global == nil {
		panic("configuration not loaded, call Load() first")
	}
	return global
}

func overrideWithEnv(s *Snapshot) {
	s.BindHost = envOr("RC_BIND_HOST", "127.0.0.1")
	s.BindPort = envInt("RC_BIND_PORT", 8765)
	s.DBPath = envOr("RC_DB_PATH", "./data/health.sqlite3")
	s.AdminToken = os.Getenv("RC_ADMIN_TOKEN")
	s.MaxBodyBytes = envInt64("RC_MAX_BODY_BYTES", 16384)
	s.ProbeTickSeconds = envFloat("RC_PROBE_TICK_SECONDS", 2.0)
	s.HelperSocket = envOr("RC_HELPER_SOCKET", "/run/rc-control/helper.sock")
	s.HelperSocketGroup = envOr("RC_HELPER_SOCKET_GROUP", "tewelde")
	s.HelperMaxBodyBytes = envInt64("RC_HELPER_MAX_BODY_BYTES", 16384)
	s.HelperConfigPath = envOr("RC_HELPER_CONFIG_PATH", "./helper-config.yaml")
	s.ConfigWatchEnabled = envOr("RC_CONFIG_WATCH", "true") == "true"
	s.TLSDomain = os.Getenv("RC_TLS_DOMAIN")
	s.TLSACMEEmail = os.Getenv("RC_TLS_ACME_EMAIL")
	s.TLSCacheDir = envOr("RC_TLS_CACHE_DIR", "./data/acme-cache")
}

func validate(s *Snapshot) error {
	if s.BindPort <= 0 || s.BindPort > 65535 {
		return fmt.Errorf("invalid bind port: %d", s.BindPort)
	}
	if s.ProbeTickSeconds < 1 {
		s.ProbeTickSeconds = 1
	}
	for _, p := range s.ScheduledProbes {
		if p.Key == "" {
			return fmt.Errorf("scheduled_probes: entry missing key")
		}
		switch p.Type {
		case "tcp_check", "http_check", "sms_health", "nid_health":
		default:
			return fmt.Errorf("scheduled_probes[%s]: unknown probe type %q", p.Key, p.Type)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
