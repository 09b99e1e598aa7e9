// Package store implements the persistent, single-node record store for
// probe definitions, probe runs, and action audit rows (spec.md §4.1).
// Connection and schema mechanics are grounded on the teacher's
// pkg/database/database.go (WAL-mode DSN, :memory: special case,
// InitSchema-via-single-Exec pattern); the schema content itself is ported
// from original_source/python-backend/remote_control_server.py's
// SQLiteStore.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DB wraps a sqlx connection to the probe/audit database.
type DB struct {
	*sqlx.DB
}

// Open connects to the sqlite database at path, creating its parent
// directory if necessary, and initializes the schema. path == ":memory:"
// opens a private in-memory database, as in the teacher's NewDB.
func Open(path string) (*DB, error) {
	if path == ":memory:" {
		conn, err := sqlx.Connect("sqlite", ":memory:")
		if err != nil {
			return nil, fmt.Errorf("connect in-memory database: %w", err)
		}
		db := &DB{DB: conn}
		if err := db.initSchema(); err != nil {
			return nil, err
		}
		return db, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{DB: conn}
	if err := db.initSchema(); err != nil {
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS probe_definitions (
	probe_key TEXT PRIMARY KEY,
	probe_type TEXT NOT NULL,
	interval_seconds INTEGER NOT NULL,
	timeout_seconds INTEGER NOT NULL,
	stale_after_seconds INTEGER NOT NULL,
	enabled INTEGER NOT NULL,
	probe_config_json TEXT NOT NULL,
	next_run_at TEXT,
	last_run_at TEXT
);

CREATE TABLE IF NOT EXISTS probe_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	probe_key TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT NOT NULL,
	ok INTEGER NOT NULL,
	status TEXT NOT NULL,
	latency_ms REAL NOT NULL,
	error TEXT,
	payload_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_probe_runs_probe_key_id ON probe_runs(probe_key, id DESC);

CREATE TABLE IF NOT EXISTS action_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp_utc TEXT NOT NULL,
	actor TEXT,
	remote_ip TEXT,
	target_type TEXT,
	target TEXT,
	action TEXT,
	reason TEXT,
	ok INTEGER NOT NULL,
	return_code INTEGER,
	stderr TEXT
);
CREATE INDEX IF NOT EXISTS idx_action_audit_time ON action_audit(timestamp_utc DESC);
`

func (db *DB) initSchema() error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// HealthCheck verifies the connection is alive.
func (db *DB) HealthCheck() error {
	var result int
	if err := db.Get(&result, "SELECT 1"); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
