package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/teweldemat/cis-dire-rc/pkg/config"
	"github.com/teweldemat/cis-dire-rc/pkg/gateway"
	"github.com/teweldemat/cis-dire-rc/pkg/metrics"
	"github.com/teweldemat/cis-dire-rc/pkg/store"
)

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func actorOf(c *gin.Context) string {
	if v, ok := c.Get("actor"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "unknown"
}

// handleStatus implements GET /api/v1/status: host metrics, target status,
// and the latest probe results, ported from
// RemoteControlApi.collect_status.
func (s *Server) handleStatus(c *gin.Context) {
	cfg := config.Get()
	host := collectHostStatus(cfg)

	latest, err := s.store.GetLatestProbes(nowISO())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	for _, p := range latest {
		staleValue := 0.0
		if p.IsStale {
			staleValue = 1.0
		}
		metrics.ProbeLatestStale.WithLabelValues(p.Definition.Key).Set(staleValue)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{
		"timestamp_utc":    host.TimestampUTC,
		"host":             host.Host,
		"uptime_seconds":   host.UptimeSec,
		"load_avg":         host.LoadAvg,
		"memory":           host.Memory,
		"disk_root":        host.DiskRoot,
		"targets":          host.Targets,
		"scheduled_probes": latest,
	}})
}

// handleAudit implements GET /api/v1/audit?limit=N.
func (s *Server) handleAudit(c *gin.Context) {
	limit := clampLimit(c.Query("limit"), 100, 500)
	rows, err := s.store.ReadActionAudit(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": rows})
}

// handleProbeHistory implements GET /api/v1/probes/history?key=K&limit=N.
func (s *Server) handleProbeHistory(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "key is required"})
		return
	}
	limit := clampLimit(c.Query("limit"), 50, 500)

	history, err := s.store.GetProbeHistory(key, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": history})
}

// handleConfig implements GET /api/v1/config: echoes targets/actions/
// scheduled_probes. The admin token and other runtime knobs are not part of
// the response. Each scheduled probe's config block is echoed as-is, with
// no redaction, so a DSN written into a probe config (e.g. pg_dsn) is
// returned too.
func (s *Server) handleConfig(c *gin.Context) {
	cfg := config.Get()
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{
		"targets":          cfg.Targets,
		"actions":          cfg.Actions,
		"scheduled_probes": cfg.ScheduledProbes,
	}})
}

// handleAction implements POST /api/v1/action, delegating the entire
// four-step validation and execution pipeline to the gateway.
func (s *Server) handleAction(c *gin.Context) {
	var req gateway.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Invalid request body."})
		return
	}

	resp, err := s.gateway.Execute(c.Request.Context(), actorOf(c), c.ClientIP(), req)
	if err != nil {
		var verr *gateway.ErrValidation
		if errors.As(err, &verr) {
			c.JSON(verr.StatusCode, gin.H{"ok": false, "error": verr.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusInternalServerError
	}
	c.JSON(status, resp)
}

// handleProbeRun implements POST /api/v1/probes/run: executes one probe
// out-of-band and persists it, mirroring RemoteControlApi.run_probe_once.
func (s *Server) handleProbeRun(c *gin.Context) {
	var body struct {
		Key string `json:"key"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "key is required"})
		return
	}

	def, err := s.store.GetProbeDefinition(body.Key)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "Probe '" + body.Key + "' not found."})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	result := s.runner.Run(*def)
	nextRun := time.Now().UTC().Add(time.Duration(def.IntervalSeconds) * time.Second).Format(time.RFC3339Nano)

	run := store.ProbeRun{
		ProbeKey: def.Key, StartedAt: result.StartedAt, EndedAt: result.EndedAt,
		OK: result.OK, Status: result.Status, LatencyMs: result.LatencyMs, Error: result.Error,
	}
	if raw, err := json.Marshal(result.Payload); err == nil {
		run.PayloadJSON = string(raw)
	} else {
		run.PayloadJSON = "{}"
	}

	if err := s.store.SaveProbeRun(def.Key, run, nextRun); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "probe_key": def.Key, "run": result})
}

func clampLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
