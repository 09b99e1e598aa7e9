// Package watch hot-reloads the config document: a change to the file at
// RC_CONFIG_PATH is detected via fsnotify and pushed into the store as a
// fresh set of probe definitions, without a process restart. Structure
// (watch the containing directory rather than the file itself, since many
// editors replace-by-rename rather than write-in-place, and gate on the
// exact path match) is grounded on the teacher's
// internal/runtime.HotReloadSystem.WatchConfigChanges.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/teweldemat/cis-dire-rc/pkg/config"
	"github.com/teweldemat/cis-dire-rc/pkg/store"
)

// Watcher reloads config.Snapshot from disk on write/create events
// targeting its configured path (a replace-by-rename onto the path arrives
// as a create; rename and remove events are ignored), and resyncs the
// store's probe definitions from the reloaded snapshot.
type Watcher struct {
	path    string
	store   *store.Store
	watcher *fsnotify.Watcher
}

// New builds a Watcher for the config file at path.
func New(path string, s *store.Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	return &Watcher{path: path, store: s, watcher: fsw}, nil
}

// Run watches the config file's directory until ctx is cancelled, reloading
// and resyncing on every event that targets the file itself. Errors
// encountered while reloading are logged, not fatal — the process keeps
// serving the last-known-good configuration.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.watcher.Close()
		return fmt.Errorf("watch: add dir %s: %w", dir, err)
	}

	go func() {
		defer w.watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if ev.Name != w.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				w.reload()
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️  config watcher error: %v", err)
			}
		}
	}()

	return nil
}

// Close stops watching without waiting for Run's goroutine to exit.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) reload() {
	snap, err := config.Load()
	if err != nil {
		log.Printf("❌ config reload failed, keeping previous snapshot: %v", err)
		return
	}

	defs := ProbeDefinitionsFromSnapshot(snap)

	if err := w.store.SyncProbeDefinitions(defs); err != nil {
		log.Printf("❌ config reload: sync_probe_definitions failed: %v", err)
		return
	}

	log.Printf("🔄 config reloaded from %s (%d scheduled probes)", w.path, len(defs))
}

// ProbeDefinitionsFromSnapshot converts a config document's scheduled_probes
// into store.ProbeDefinition rows, skipping any entry whose config is not
// valid JSON. Shared by the initial sync in cmd/rc-server's startup and by
// every reload this package performs thereafter.
func ProbeDefinitionsFromSnapshot(snap *config.Snapshot) []store.ProbeDefinition {
	defs := make([]store.ProbeDefinition, 0, len(snap.ScheduledProbes))
	for _, p := range snap.ScheduledProbes {
		cfgMap := map[string]interface{}{}
		if len(p.Config) > 0 {
			if err := json.Unmarshal(p.Config, &cfgMap); err != nil {
				log.Printf("⚠️  probe %s has invalid config, skipping: %v", p.Key, err)
				continue
			}
		}
		enabled := true
		if p.Enabled != nil {
			enabled = *p.Enabled
		}
		defs = append(defs, store.NewProbeDefinition(p.Key, p.Type, p.IntervalSeconds, p.TimeoutSeconds, p.StaleAfter, enabled, cfgMap))
	}
	return defs
}
