package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// Request decoding limits.
const (
	DefaultMaxBodyBytes       = 1 << 20
	DefaultMaxMultipartMemory = 32 << 20
)

// DecodeOptions bounds request decoding.
type DecodeOptions struct {
	MaxBodyBytes       int64
	MaxMultipartMemory int64
}

// ErrBodyTooLarge is reported when the body exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("request body is too large")

// InputFromRequest reads the parts of r. The body is buffered and put
// back after decoding so r reaches the next handler unchanged. Form
// bodies are also parsed into r.Form and r.MultipartForm; files of a
// multipart form may spill to disk and must be released with
// ReleaseForm. Body decoding failures are reported in Input.BodyError
// rather than as an error; the returned error is only set for failures
// unrelated to the request's shape.
func InputFromRequest(r *http.Request, params map[string]string, opts DecodeOptions) (Input, error) {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.MaxMultipartMemory <= 0 {
		opts.MaxMultipartMemory = DefaultMaxMultipartMemory
	}

	in := Input{
		Query:   r.URL.Query(),
		Params:  params,
		Headers: r.Header,
	}

	if r.Body == nil || r.Body == http.NoBody {
		return in, nil
	}

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mt == "multipart/form-data":
		raw, err := readBody(r, max(opts.MaxBodyBytes, opts.MaxMultipartMemory))
		if err != nil {
			in.BodyError = bodyReadError(err)
			return in, nil
		}
		err = r.ParseMultipartForm(opts.MaxMultipartMemory)
		restoreBody(r, raw)
		if err != nil {
			in.BodyError = fmt.Errorf("body must be a valid multipart form")
			return in, nil
		}
		in.Body = formBody(r.MultipartForm.Value)
		in.Files = r.MultipartForm.File

	case mt == "application/x-www-form-urlencoded":
		raw, err := readBody(r, opts.MaxBodyBytes)
		if err != nil {
			in.BodyError = bodyReadError(err)
			return in, nil
		}
		err = r.ParseForm()
		restoreBody(r, raw)
		if err != nil {
			in.BodyError = fmt.Errorf("body must be a valid form")
			return in, nil
		}
		in.Body = formBody(r.PostForm)

	case mt == "" || mt == "application/json" || strings.HasSuffix(mt, "+json"):
		raw, err := readBody(r, opts.MaxBodyBytes)
		if err != nil {
			in.BodyError = bodyReadError(err)
			return in, nil
		}
		in.Body, in.BodyError = decodeJSONObject(raw)

	default:
		in.BodyError = fmt.Errorf("body content type %q is not supported", mt)
	}
	return in, nil
}

// ReleaseForm removes the temporary files of a parsed multipart form.
// net/http only cleans up the form of the request it created, not of
// copies made with WithContext.
func ReleaseForm(r *http.Request) {
	if r != nil && r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	_ = r.Body.Close()
	restoreBody(r, raw)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > limit {
		return nil, ErrBodyTooLarge
	}
	return raw, nil
}

func restoreBody(r *http.Request, raw []byte) {
	r.Body = io.NopCloser(bytes.NewReader(raw))
}

func bodyReadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.Is(err, ErrBodyTooLarge) || errors.As(err, &maxErr) {
		return ErrBodyTooLarge
	}
	return fmt.Errorf("body could not be read")
}

func decodeJSONObject(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("body must be valid JSON")
	}
	if dec.More() {
		return nil, fmt.Errorf("body must contain a single JSON value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("body must be a JSON object")
	}
	return obj, nil
}

func formBody(values map[string][]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

type resultKey struct{}

// WithResult stores a validation result in ctx.
func WithResult(ctx context.Context, res *Result) context.Context {
	return context.WithValue(ctx, resultKey{}, res)
}

// ResultFromContext returns the validation result stored by the pipeline.
func ResultFromContext(ctx context.Context) *Result {
	res, _ := ctx.Value(resultKey{}).(*Result)
	return res
}
