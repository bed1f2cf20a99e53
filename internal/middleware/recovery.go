package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/vyrodovalexey/admission/internal/apierror"
	"github.com/vyrodovalexey/admission/internal/observability"
	"github.com/vyrodovalexey/admission/internal/reqctx"
)

// Recovery returns a middleware that recovers from panics and answers with
// a 500 INTERNAL_ERROR envelope. http.ErrAbortHandler is re-raised.
func Recovery(logger observability.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
					panic(rec)
				}

				logger.Error("panic recovered",
					observability.String("path", r.URL.Path),
					observability.String("method", r.Method),
					observability.Any("error", rec),
					observability.String("stack", string(debug.Stack())),
					observability.String("correlation_id", reqctx.CorrelationIDFromContext(r.Context())),
				)
				metrics.RecordPanic()

				cid := reqctx.CorrelationIDFromContext(r.Context())
				apierror.Render(w, r, apierror.Internal(cid, fmt.Errorf("panic: %v", rec)))
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Chain wraps h with mws so that the first middleware is the outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
