package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned by lookups for a key that does not exist.
var ErrNotFound = errors.New("not found")

// Store is the durable, single-node, serializable-under-mutex record store
// described in spec.md §4.1. A single mutex serializes each logical
// operation end to end; WAL mode lets readers proceed concurrently with the
// writer at the engine level, but correctness here rests on the mutex, not
// on SQLite's own locking.
type Store struct {
	db *DB
	mu sync.Mutex
}

// New wraps an already-opened DB in a Store.
func New(db *DB) *Store {
	return &Store{db: db}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// SyncProbeDefinitions upserts each definition by key and disables
// (soft-deletes) any stored key absent from defs. Newly inserted
// definitions get next_run_at set to now so they become due immediately;
// updates preserve the existing next_run_at.
func (s *Store) SyncProbeDefinitions(defs []ProbeDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("sync_probe_definitions: begin: %w", err)
	}
	defer tx.Rollback()

	now := nowISO()
	keys := make([]string, 0, len(defs))
	for _, d := range defs {
		keys = append(keys, d.Key)

		var exists int
		err := tx.Get(&exists, `SELECT COUNT(*) FROM probe_definitions WHERE probe_key = ?`, d.Key)
		if err != nil {
			return fmt.Errorf("sync_probe_definitions: lookup %s: %w", d.Key, err)
		}

		if exists == 0 {
			_, err = tx.Exec(`INSERT INTO probe_definitions
				(probe_key, probe_type, interval_seconds, timeout_seconds, stale_after_seconds, enabled, probe_config_json, next_run_at, last_run_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
				d.Key, d.Type, d.IntervalSeconds, d.TimeoutSeconds, d.StaleAfter, d.Enabled, d.ConfigJSON, now)
		} else {
			_, err = tx.Exec(`UPDATE probe_definitions SET
				probe_type = ?, interval_seconds = ?, timeout_seconds = ?, stale_after_seconds = ?,
				enabled = ?, probe_config_json = ?
				WHERE probe_key = ?`,
				d.Type, d.IntervalSeconds, d.TimeoutSeconds, d.StaleAfter, d.Enabled, d.ConfigJSON, d.Key)
		}
		if err != nil {
			return fmt.Errorf("sync_probe_definitions: upsert %s: %w", d.Key, err)
		}
	}

	if len(keys) == 0 {
		_, err = tx.Exec(`UPDATE probe_definitions SET enabled = 0`)
	} else {
		query, args, qerr := sqlxIn(`UPDATE probe_definitions SET enabled = 0 WHERE probe_key NOT IN (?)`, keys)
		if qerr != nil {
			return fmt.Errorf("sync_probe_definitions: build disable query: %w", qerr)
		}
		_, err = tx.Exec(query, args...)
	}
	if err != nil {
		return fmt.Errorf("sync_probe_definitions: disable stale keys: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sync_probe_definitions: commit: %w", err)
	}
	return nil
}

// GetProbeDefinition returns the definition for key, or ErrNotFound.
func (s *Store) GetProbeDefinition(key string) (*ProbeDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d ProbeDefinition
	err := s.db.Get(&d, `SELECT * FROM probe_definitions WHERE probe_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get_probe_definition: %w", err)
	}
	return &d, nil
}

// ListDueProbes returns every enabled definition whose next_run_at is null
// or <= now, ordered by (next_run_at asc, key asc) with null treated as
// lowest.
func (s *Store) ListDueProbes(now string) ([]ProbeDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var defs []ProbeDefinition
	err := s.db.Select(&defs, `
		SELECT * FROM probe_definitions
		WHERE enabled = 1 AND (next_run_at IS NULL OR next_run_at <= ?)
		ORDER BY COALESCE(next_run_at, '') ASC, probe_key ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("list_due_probes: %w", err)
	}
	return defs, nil
}

// SetProbeNextRun writes a tentative next_run_at ahead of execution.
func (s *Store) SetProbeNextRun(key, t string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE probe_definitions SET next_run_at = ? WHERE probe_key = ?`, t, key)
	if err != nil {
		return fmt.Errorf("set_probe_next_run: %w", err)
	}
	return nil
}

// SaveProbeRun atomically appends the run row and updates the definition's
// last_run_at/next_run_at — a reader never sees a definition pointing to a
// run that has not been inserted (spec.md §5 ordering guarantee (c)).
func (s *Store) SaveProbeRun(key string, run ProbeRun, nextRunAt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("save_probe_run: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO probe_runs
		(probe_key, started_at, ended_at, ok, status, latency_ms, error, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key, run.StartedAt, run.EndedAt, run.OK, run.Status, run.LatencyMs, run.Error, run.PayloadJSON)
	if err != nil {
		return fmt.Errorf("save_probe_run: insert run: %w", err)
	}

	_, err = tx.Exec(`UPDATE probe_definitions SET last_run_at = ?, next_run_at = ? WHERE probe_key = ?`,
		run.EndedAt, nextRunAt, key)
	if err != nil {
		return fmt.Errorf("save_probe_run: update definition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save_probe_run: commit: %w", err)
	}
	return nil
}

// GetLatestProbes left-joins each definition to its most recent run and
// computes staleness: is_stale iff no run exists or age exceeds
// stale_after_seconds.
func (s *Store) GetLatestProbes(now string) ([]ProbeWithLatestRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var defs []ProbeDefinition
	if err := s.db.Select(&defs, `SELECT * FROM probe_definitions ORDER BY probe_key ASC`); err != nil {
		return nil, fmt.Errorf("get_latest_probes: list definitions: %w", err)
	}

	nowT, err := time.Parse(time.RFC3339Nano, now)
	if err != nil {
		nowT = time.Now().UTC()
	}

	results := make([]ProbeWithLatestRun, 0, len(defs))
	for _, d := range defs {
		var run ProbeRun
		err := s.db.Get(&run, `SELECT * FROM probe_runs WHERE probe_key = ? ORDER BY id DESC LIMIT 1`, d.Key)

		item := ProbeWithLatestRun{Definition: d}
		if errors.Is(err, sql.ErrNoRows) {
			item.IsStale = true
		} else if err != nil {
			return nil, fmt.Errorf("get_latest_probes: latest run for %s: %w", d.Key, err)
		} else {
			item.LatestRun = &run
			if endedAt, perr := time.Parse(time.RFC3339Nano, run.EndedAt); perr == nil {
				age := nowT.Sub(endedAt).Seconds()
				item.AgeSeconds = &age
				item.IsStale = age > float64(d.StaleAfter)
			} else {
				item.IsStale = true
			}
		}
		results = append(results, item)
	}
	return results, nil
}

// GetProbeHistory returns up to limit runs for key, newest first.
func (s *Store) GetProbeHistory(key string, limit int) ([]ProbeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var runs []ProbeRun
	err := s.db.Select(&runs, `SELECT * FROM probe_runs WHERE probe_key = ? ORDER BY id DESC LIMIT ?`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("get_probe_history: %w", err)
	}
	return runs, nil
}

// AddActionAudit appends one audit row; actor defaults to "unknown" when
// empty, matching the Python original.
func (s *Store) AddActionAudit(row ActionAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row.Actor == "" {
		row.Actor = "unknown"
	}
	if row.TimestampUTC == "" {
		row.TimestampUTC = nowISO()
	}

	_, err := s.db.Exec(`INSERT INTO action_audit
		(timestamp_utc, actor, remote_ip, target_type, target, action, reason, ok, return_code, stderr)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.TimestampUTC, row.Actor, row.RemoteIP, row.TargetType, row.Target, row.Action, row.Reason,
		row.OK, row.ReturnCode, row.Stderr)
	if err != nil {
		return fmt.Errorf("add_action_audit: %w", err)
	}
	return nil
}

// ReadActionAudit returns up to limit audit rows, newest first.
func (s *Store) ReadActionAudit(limit int) ([]ActionAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var rows []ActionAudit
	err := s.db.Select(&rows, `SELECT * FROM action_audit ORDER BY timestamp_utc DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("read_action_audit: %w", err)
	}
	return rows, nil
}
