package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/admission/internal/apierror"
	"github.com/vyrodovalexey/admission/internal/observability"
	"github.com/vyrodovalexey/admission/internal/reqctx"
)

func TestRecovery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		handler        http.HandlerFunc
		expectedStatus int
		shouldPanic    bool
	}{
		{
			name: "no panic",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(`{"status":"ok"}`))
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "panic with string",
			handler: func(w http.ResponseWriter, r *http.Request) {
				panic("test panic")
			},
			expectedStatus: http.StatusInternalServerError,
			shouldPanic:    true,
		},
		{
			name: "panic with error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				panic(errors.New("boom"))
			},
			expectedStatus: http.StatusInternalServerError,
			shouldPanic:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.ErrorLevel)
			logger := observability.NewLoggerFromZap(zap.New(core))

			handler := Chain(tt.handler,
				reqctx.CorrelationIDWithGenerator(func() string { return "corr-rec" }),
				Recovery(logger, nil),
			)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if !tt.shouldPanic {
				assert.Equal(t, 0, logs.Len())
				return
			}

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			assert.Equal(t, "panic recovered", entry.Message)
			assert.Equal(t, "corr-rec", entry.ContextMap()["correlation_id"])

			var env apierror.Envelope
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
			assert.Equal(t, apierror.CodeInternal, env.Error.Code)
			assert.Equal(t, http.StatusInternalServerError, env.Error.StatusCode)
			assert.Equal(t, "corr-rec", env.Error.CorrelationID)
			assert.NotContains(t, env.Error.Message, "boom")
		})
	}
}

func TestRecovery_CountsPanics(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics("rec")
	handler := Recovery(observability.NopLogger(), metrics)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("again")
	}))

	for range 2 {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}

	count, err := testutil.GatherAndCount(metrics.Registry(), "rec_http_panics_recovered_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "rec_http_panics_recovered_total" {
			assert.Equal(t, 2.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
}

func TestRecovery_ReraisesAbortHandler(t *testing.T) {
	t.Parallel()

	handler := Recovery(observability.NopLogger(), nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestChain_Order(t *testing.T) {
	t.Parallel()

	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
