// Package gateway implements ActionGateway: the validation, allowlisting,
// and audit-trail discipline governing every state-changing lifecycle
// action (spec.md §4.4). Structural shape (mutex-free, context-scoped,
// fmt.Errorf-wrapped) is grounded on the teacher's pkg/orchestrator
// orchestrator.go, since the teacher has no subprocess-execution precedent
// of its own; validation and execution semantics are ported from
// original_source/python-backend/remote_control_server.py's
// RemoteControlApi.execute_action.
package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/teweldemat/cis-dire-rc/pkg/config"
	"github.com/teweldemat/cis-dire-rc/pkg/metrics"
	"github.com/teweldemat/cis-dire-rc/pkg/store"
)

// ErrValidation marks a request rejected by the four-step validation
// pipeline, before any privileged command ran.
type ErrValidation struct {
	StatusCode int
	Message    string
}

func (e *ErrValidation) Error() string { return e.Message }

// Request is the caller-supplied lifecycle-action payload.
type Request struct {
	TargetType string `json:"target_type"`
	Action     string `json:"action"`
	Target     string `json:"target"`
	Reason     string `json:"reason"`
}

// Response is the envelope returned for a request that reached command
// execution.
type Response struct {
	OK           bool   `json:"ok"`
	TargetType   string `json:"target_type"`
	Target       string `json:"target"`
	Action       string `json:"action"`
	Reason       string `json:"reason"`
	Stdout       string `json:"stdout"`
	Stderr       string `json:"stderr"`
	ReturnCode   int    `json:"return_code"`
	TimestampUTC string `json:"timestamp_utc"`
}

// Transport executes a validated, allowlisted privileged command and
// returns its outcome. Direct and Helper-RPC are the two reference
// implementations (spec.md §4.4).
type Transport interface {
	Execute(ctx context.Context, targetType, action, target string) (ok bool, stdout, stderr string, returnCode int, err error)
}

// Gateway validates requests against the live config snapshot, dispatches
// to a Transport, and records exactly one audit row per attempt that
// reaches command execution.
type Gateway struct {
	store     *store.Store
	transport Transport
}

// New builds a Gateway over the given store and transport.
func New(s *store.Store, t Transport) *Gateway {
	return &Gateway{store: s, transport: t}
}

// Execute runs the four-step validation pipeline against the current
// config snapshot, then — on pass — invokes the transport with a
// 45-second timeout and writes one audit row. Validation failures are
// returned as *ErrValidation and are never audited, per spec.md §4.4's
// reference design (kept as specified, not the permissive extension).
func (g *Gateway) Execute(ctx context.Context, actor, remoteIP string, req Request) (*Response, error) {
	cfg := config.Get()

	if req.TargetType != "service" && req.TargetType != "container" {
		return nil, &ErrValidation{StatusCode: 400, Message: "Invalid target_type. Use service|container."}
	}
	if req.Target == "" {
		return nil, &ErrValidation{StatusCode: 400, Message: "Target is required."}
	}

	allowedActions := cfg.Actions.Service
	allowedTargets := cfg.Targets.Services
	if req.TargetType == "container" {
		allowedActions = cfg.Actions.Container
		allowedTargets = cfg.Targets.Containers
	}
	if !contains(allowedActions, req.Action) {
		return nil, &ErrValidation{StatusCode: 403, Message: fmt.Sprintf("Action '%s' is not allowed for %s.", req.Action, req.TargetType)}
	}
	if !contains(allowedTargets, req.Target) {
		label := "Service"
		if req.TargetType == "container" {
			label = "Container"
		}
		return nil, &ErrValidation{StatusCode: 403, Message: fmt.Sprintf("%s '%s' is not in allowlist.", label, req.Target)}
	}

	execCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()

	ok, stdout, stderr, returnCode, execErr := g.transport.Execute(execCtx, req.TargetType, req.Action, req.Target)
	if execErr != nil {
		stderr = execErr.Error()
		ok = false
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	resp := &Response{
		OK: ok, TargetType: req.TargetType, Target: req.Target, Action: req.Action,
		Reason: req.Reason, Stdout: stdout, Stderr: stderr, ReturnCode: returnCode,
		TimestampUTC: now,
	}

	if err := g.store.AddActionAudit(store.ActionAudit{
		TimestampUTC: now, Actor: actor, RemoteIP: remoteIP,
		TargetType: req.TargetType, Target: req.Target, Action: req.Action, Reason: req.Reason,
		OK: ok, ReturnCode: returnCode, Stderr: stderr,
	}); err != nil {
		return resp, fmt.Errorf("gateway: write audit row: %w", err)
	}

	metrics.ActionAuditTotal.WithLabelValues(req.TargetType, strconv.FormatBool(ok)).Inc()

	return resp, nil
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
