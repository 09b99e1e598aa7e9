package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRegisteredSeries(t *testing.T) {
	ProbeRunsTotal.WithLabelValues("sms_health", "healthy").Inc()
	ActionAuditTotal.WithLabelValues("service", "true").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "rc_probe_runs_total")
	require.Contains(t, body, "rc_action_audit_total")
	require.Contains(t, body, "rc_scheduler_tick_duration_seconds")
}
