package middleware

import (
	"net"
	"net/http"
	"time"

	"github.com/vyrodovalexey/admission/internal/observability"
	"github.com/vyrodovalexey/admission/internal/reqctx"
)

// ClientIPFunc resolves the client address recorded in the access log.
type ClientIPFunc func(r *http.Request) string

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush implements http.Flusher interface for streaming support.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// AccessLog returns a middleware that logs every request once it has been
// served and records it in metrics. Responses with a 5xx status are logged
// at warn level. A nil clientIP falls back to the connection address.
func AccessLog(
	logger observability.Logger,
	metrics *observability.Metrics,
	clientIP ClientIPFunc,
) func(http.Handler) http.Handler {
	if clientIP == nil {
		clientIP = remoteIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			metrics.RecordRequest(r.Method, rw.status, duration)

			fields := []observability.Field{
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.String("query", r.URL.RawQuery),
				observability.Int("status", rw.status),
				observability.Int("size", rw.size),
				observability.Duration("duration", duration),
				observability.String("client_ip", clientIP(r)),
				observability.String("user_agent", r.UserAgent()),
				observability.String("correlation_id", reqctx.CorrelationIDFromContext(r.Context())),
			}

			if rw.status >= http.StatusInternalServerError {
				logger.Warn("http request", fields...)
				return
			}
			logger.Info("http request", fields...)
		})
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
