// Package api wires the public HTTP surface (spec.md §6) on top of
// gin-gonic/gin, the teacher's own HTTP framework. Route grouping and
// middleware chain assembly follow the teacher's pkg/router/router.go;
// endpoint semantics are ported from
// original_source/python-backend/remote_control_server.py's Handler.do_GET/do_POST.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/teweldemat/cis-dire-rc/pkg/api/middleware"
	"github.com/teweldemat/cis-dire-rc/pkg/auth"
	"github.com/teweldemat/cis-dire-rc/pkg/config"
	"github.com/teweldemat/cis-dire-rc/pkg/gateway"
	"github.com/teweldemat/cis-dire-rc/pkg/metrics"
	"github.com/teweldemat/cis-dire-rc/pkg/probe"
	"github.com/teweldemat/cis-dire-rc/pkg/store"
)

// Server bundles the dependencies every handler needs.
type Server struct {
	store   *store.Store
	runner  *probe.Runner
	gateway *gateway.Gateway
}

// NewServer builds a Server.
func NewServer(s *store.Store, r *probe.Runner, g *gateway.Gateway) *Server {
	return &Server{store: s, runner: r, gateway: g}
}

// NewRouter assembles the full middleware chain and route table. maxBody is
// the request-body size cap (spec.md §6); validator enforces the
// fail-closed X-RC-Token check on every route except /health and /metrics.
func (s *Server) NewRouter(validator *auth.TokenValidator, maxBody int64) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORSMiddleware())

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1")
	v1.GET("/health", s.handleHealth)

	authed := v1.Group("")
	authed.Use(middleware.MaxBodyBytes(maxBody))
	authed.Use(middleware.TokenAuth(validator))
	{
		authed.GET("/status", s.handleStatus)
		authed.GET("/audit", s.handleAudit)
		authed.GET("/probes/history", s.handleProbeHistory)
		authed.GET("/config", s.handleConfig)
		authed.POST("/action", s.handleAction)
		authed.POST("/probes/run", s.handleProbeRun)
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "timestamp_utc": nowISO()})
}
