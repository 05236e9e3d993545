package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RobertJohnDavidson/rag-style-check/audit"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ audit.Recorder = (*Metrics)(nil)

func TestMetricsRecordAudits(t *testing.T) {
	m := NewMetrics()

	m.AuditFinished(audit.OutcomeOK, 2, 3, 1500*time.Millisecond)
	m.AuditFinished(audit.OutcomeDegraded, 1, 0, time.Second)
	m.AuditFinished(audit.OutcomeOK, 1, 1, time.Second)
	m.ViolationDropped(audit.DropNotVerbatim)
	m.ViolationDropped(audit.DropNotVerbatim)
	m.ViolationDropped(audit.DropLowConfidence)
	m.RetrievalDegraded("vector")
	m.RerankFallback("llm")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.audits.WithLabelValues(audit.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.audits.WithLabelValues(audit.OutcomeDegraded)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.accepted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dropped.WithLabelValues(audit.DropNotVerbatim)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues(audit.DropLowConfidence)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.degraded.WithLabelValues("vector")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("llm")))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.AuditFinished(audit.OutcomeIncomplete, 0, 0, 10*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `stylecheck_audits_total{outcome="incomplete"} 1`)
	assert.Contains(t, string(body), "stylecheck_audit_duration_seconds_bucket")
	assert.Contains(t, string(body), "go_goroutines")
}
