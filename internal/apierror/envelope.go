package apierror

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/vyrodovalexey/admission/internal/reqctx"
)

// TimestampFormat is the ISO-8601 layout used in the envelope (UTC, millisecond precision).
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Envelope is the failure response body clients parse.
type Envelope struct {
	Error Body `json:"error"`
}

// Body is the content of the envelope's error key.
type Body struct {
	Message       string            `json:"message"`
	Code          string            `json:"code"`
	StatusCode    int               `json:"statusCode"`
	CorrelationID string            `json:"correlationId"`
	Timestamp     string            `json:"timestamp"`
	RetryAfter    *int              `json:"retryAfter,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

// Envelope builds the response envelope for e.
func (e *Error) Envelope() Envelope {
	body := Body{
		Message:       e.Message,
		Code:          e.Code,
		StatusCode:    e.StatusCode,
		CorrelationID: e.CorrelationID,
		Timestamp:     e.Timestamp.UTC().Format(TimestampFormat),
		Details:       e.Details,
	}
	if e.Kind == KindRateLimitExceeded {
		retryAfter := e.RetryAfter
		body.RetryAfter = &retryAfter
	}
	return Envelope{Error: body}
}

// Renderer writes an error produced by the pipeline to the response.
type Renderer func(w http.ResponseWriter, r *http.Request, err error)

// Render is the default Renderer. It writes the JSON envelope with the
// error's status code and, for rate-limit errors, a Retry-After header.
func Render(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := From(err, reqctx.CorrelationIDFromContext(r.Context()))
	if apiErr.CorrelationID == "" {
		apiErr = withCorrelationID(apiErr, reqctx.CorrelationIDFromContext(r.Context()))
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if apiErr.Kind == KindRateLimitExceeded && apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(apiErr.RetryAfter))
	}
	w.WriteHeader(apiErr.StatusCode)

	_ = json.NewEncoder(w).Encode(apiErr.Envelope())
}

// withCorrelationID returns a copy of e carrying id.
func withCorrelationID(e *Error, id string) *Error {
	if id == "" {
		return e
	}
	cp := *e
	cp.CorrelationID = id
	return &cp
}
