package reqctx

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// CorrelationIDHeader is the header carrying the correlation id.
	CorrelationIDHeader = "X-Correlation-ID"

	// RequestIDHeader is accepted as a fallback source for the correlation id.
	RequestIDHeader = "X-Request-ID"

	// maxCorrelationIDLength is the longest inbound id that is propagated.
	maxCorrelationIDLength = 128
)

// CorrelationID returns a middleware that creates the request context.
// An inbound X-Correlation-ID (or X-Request-ID) is propagated, otherwise a
// new UUID is generated. The id is echoed on the response.
func CorrelationID() func(http.Handler) http.Handler {
	return CorrelationIDWithGenerator(func() string { return uuid.New().String() })
}

// CorrelationIDWithGenerator returns a middleware that uses a custom ID generator.
func CorrelationIDWithGenerator(generator func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := inboundCorrelationID(r)
			if id == "" {
				id = generator()
			}

			rc := &RequestContext{
				CorrelationID: id,
				StartTime:     time.Now(),
			}
			if existing := FromContext(r.Context()); existing != nil {
				rc.Identity = existing.Identity
			}

			w.Header().Set(CorrelationIDHeader, id)
			next.ServeHTTP(w, r.WithContext(WithRequestContext(r.Context(), rc)))
		})
	}
}

func inboundCorrelationID(r *http.Request) string {
	id := r.Header.Get(CorrelationIDHeader)
	if id == "" {
		id = r.Header.Get(RequestIDHeader)
	}
	if len(id) > maxCorrelationIDLength {
		return ""
	}
	return id
}
