package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")

	m.RecordDecision("origin", OutcomeAllow, time.Millisecond)
	m.RecordDecision("origin", OutcomeAllow, time.Millisecond)
	m.RecordDecision("ratelimit", OutcomeReject, time.Millisecond)
	m.RecordRateLimitRejection("auth")
	m.RecordRateLimitStoreError("general", "open")
	m.RecordValidationFailure("query")
	m.RecordValidationFailure("query")
	m.RecordOriginRejection()
	m.RecordRequest(http.MethodGet, http.StatusTooManyRequests, time.Millisecond)
	m.RecordPanic()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("origin", OutcomeAllow)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("ratelimit", OutcomeReject)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitRejects.WithLabelValues("auth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitStoreErrs.WithLabelValues("general", "open")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.validationFailures.WithLabelValues("query")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.originRejects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "429")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.panics))
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDecision("origin", OutcomeAllow, time.Millisecond)
		m.RecordRateLimitRejection("general")
		m.RecordRateLimitStoreError("general", "closed")
		m.RecordValidationFailure("body")
		m.RecordOriginRejection()
		m.RecordRequest(http.MethodPost, http.StatusOK, time.Second)
		m.RecordPanic()
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := NewMetrics("")
	m.RecordDecision("validation", OutcomeReject, time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `admission_decisions_total{outcome="reject",stage="validation"} 1`)
}
