package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vyrodovalexey/admission/internal/apierror"
	"github.com/vyrodovalexey/admission/internal/reqctx"
)

// Input is the four request parts plus attached files.
type Input struct {
	Body    map[string]any
	Query   url.Values
	Params  map[string]string
	Headers http.Header
	Files   map[string][]*multipart.FileHeader

	// BodyError is set when the body could not be decoded.
	BodyError error
}

// Result holds the validated, coerced values of each part.
type Result struct {
	Body    map[string]any
	Query   map[string]any
	Params  map[string]any
	Headers map[string]any

	violations map[PartName][]string
}

// Valid reports whether no violation was found.
func (r *Result) Valid() bool {
	return len(r.violations) == 0
}

// Violations returns the messages of part.
func (r *Result) Violations(part PartName) []string {
	return slices.Clone(r.violations[part])
}

// Details joins the violations of each part.
func (r *Result) Details() map[string]string {
	if r.Valid() {
		return nil
	}
	out := make(map[string]string, len(r.violations))
	for part, msgs := range r.violations {
		out[string(part)] = strings.Join(msgs, "; ")
	}
	return out
}

func (r *Result) add(part PartName, msg string) {
	if r.violations == nil {
		r.violations = make(map[PartName][]string)
	}
	r.violations[part] = append(r.violations[part], msg)
}

// Validator validates inputs against compiled schemas. It is safe for
// concurrent use.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks in against schema. Every declared part is validated in
// full. When any part has violations the returned error is an
// *apierror.Error of kind ValidationFailed carrying all of them; the
// Result is returned in both cases.
func (v *Validator) Validate(ctx context.Context, schema *Compiled, in Input) (*Result, error) {
	res := &Result{}

	if p := schema.part(PartBody); p != nil {
		if in.BodyError != nil {
			res.add(PartBody, in.BodyError.Error())
		} else {
			res.Body = v.validatePart(res, p, bodySource(in.Body), false)
		}
	}
	if p := schema.part(PartQuery); p != nil {
		res.Query = v.validatePart(res, p, valuesSource(in.Query), false)
	}
	if p := schema.part(PartParams); p != nil {
		res.Params = v.validatePart(res, p, paramsSource(in.Params), true)
	}
	if p := schema.part(PartHeaders); p != nil {
		res.Headers = v.validateHeaders(res, p, in.Headers)
	}

	if !res.Valid() {
		return res, apierror.ValidationFailed(reqctx.CorrelationIDFromContext(ctx), res.Details())
	}
	return res, nil
}

// source abstracts a part's raw values.
type source interface {
	lookup(name string) (any, bool)
	keys() []string
}

type bodySource map[string]any

func (s bodySource) lookup(name string) (any, bool) {
	v, ok := s[name]
	return v, ok
}

func (s bodySource) keys() []string {
	return sortedKeys(s)
}

type valuesSource url.Values

func (s valuesSource) lookup(name string) (any, bool) {
	vs, ok := s[name]
	if !ok || len(vs) == 0 {
		return nil, false
	}
	return vs[0], true
}

func (s valuesSource) keys() []string {
	return sortedKeys(s)
}

type paramsSource map[string]string

func (s paramsSource) lookup(name string) (any, bool) {
	v, ok := s[name]
	return v, ok
}

func (s paramsSource) keys() []string {
	return sortedKeys(s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (v *Validator) validatePart(res *Result, p *compiledPart, src source, strict bool) map[string]any {
	out := make(map[string]any, len(p.fields))
	declared := make(map[string]struct{}, len(p.fields))

	for _, f := range p.fields {
		declared[f.name] = struct{}{}
		raw, ok := src.lookup(f.name)
		if val, keep := v.validateField(res, p.name, f, raw, ok); keep {
			out[f.name] = val
		}
	}

	if strict {
		for _, k := range src.keys() {
			if _, ok := declared[k]; !ok {
				res.add(p.name, fmt.Sprintf("%q is not allowed", k))
			}
		}
	}
	return out
}

func (v *Validator) validateHeaders(res *Result, p *compiledPart, h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for name, values := range h {
		if len(values) > 0 {
			out[strings.ToLower(name)] = values[0]
		}
	}

	for _, f := range p.fields {
		var raw any
		vals, ok := h[canonicalHeader(f.name)]
		if ok && len(vals) > 0 {
			raw = vals[0]
		} else {
			ok = false
		}
		if val, keep := v.validateField(res, p.name, f, raw, ok); keep {
			out[f.name] = val
		} else {
			delete(out, f.name)
		}
	}
	return out
}

// validateField checks one field and returns its coerced value. keep is
// false when the field is absent or invalid.
func (v *Validator) validateField(res *Result, part PartName, f compiledField, raw any, present bool) (any, bool) {
	if present && isEmpty(raw) {
		present = false
	}
	if !present {
		if f.rule.Required {
			res.add(part, fmt.Sprintf("%q is required", f.name))
		}
		return nil, false
	}

	val, err := coerce(f.rule.Type, raw)
	if err != nil {
		res.add(part, fmt.Sprintf("%q %s", f.name, err.Error()))
		return nil, false
	}

	msgs := v.check(f, val)
	for _, m := range msgs {
		res.add(part, fmt.Sprintf("%q %s", f.name, m))
	}
	return val, len(msgs) == 0
}

func isEmpty(raw any) bool {
	switch t := raw.(type) {
	case nil:
		return true
	case string:
		return t == ""
	default:
		return false
	}
}

type coerceError string

func (e coerceError) Error() string { return string(e) }

const (
	errNotString  coerceError = "must be a string"
	errNotInteger coerceError = "must be an integer"
	errNotNumber  coerceError = "must be a number"
	errNotBoolean coerceError = "must be a boolean"
)

// coerce converts raw to the Go value of t. Strings from query, params,
// headers and form bodies are parsed; JSON values must already have the
// right kind.
func coerce(t FieldType, raw any) (any, error) {
	switch t {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, errNotString
		}
		return s, nil

	case TypeInteger:
		return toInteger(raw)

	case TypeNumber:
		return toFloat(raw, errNotNumber)

	case TypeBoolean:
		switch b := raw.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, errNotBoolean
			}
			return parsed, nil
		}
		return nil, errNotBoolean
	}
	return nil, fmt.Errorf("unsupported type %q", t)
}

// toInteger parses integers exactly and accepts integral floats such as
// 2.0 or 1e3 only when they fit in an int64.
func toInteger(raw any) (int64, error) {
	switch n := raw.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, nil
		}
	}

	f, err := toFloat(raw, errNotInteger)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, errNotInteger
	}
	return int64(f), nil
}

func toFloat(raw any, typeErr coerceError) (float64, error) {
	var f float64
	var err error
	switch n := raw.(type) {
	case json.Number:
		f, err = n.Float64()
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, typeErr
	}
	if err != nil || math.IsNaN(f) {
		return 0, typeErr
	}
	return f, nil
}

// formatTags maps a format to its validator tag. Values are lowercased
// first when fold is set.
var formatTags = map[Format]struct {
	tag  string
	desc string
	fold bool
}{
	FormatUUID:     {tag: "uuid", desc: "must be a valid UUID", fold: true},
	FormatEmail:    {tag: "email", desc: "must be a valid email"},
	FormatURI:      {tag: "uri", desc: "must be a valid uri"},
	FormatDateTime: {tag: "datetime=" + time.RFC3339, desc: "must be a valid ISO 8601 date"},
}

// check runs every constraint of f against a coerced value and returns
// all failures.
func (v *Validator) check(f compiledField, val any) []string {
	var msgs []string
	r := f.rule

	switch t := val.(type) {
	case string:
		if r.Format != "" {
			spec := formatTags[r.Format]
			in := t
			if spec.fold {
				in = strings.ToLower(in)
			}
			if v.validate.Var(in, spec.tag) != nil {
				msgs = append(msgs, spec.desc)
			}
		}
		if r.MinLength != nil && v.validate.Var(t, "min="+strconv.Itoa(*r.MinLength)) != nil {
			msgs = append(msgs, fmt.Sprintf("length must be at least %d characters long", *r.MinLength))
		}
		if r.MaxLength != nil && v.validate.Var(t, "max="+strconv.Itoa(*r.MaxLength)) != nil {
			msgs = append(msgs, fmt.Sprintf("length must be less than or equal to %d characters long", *r.MaxLength))
		}
		if f.pattern != nil && !f.pattern.MatchString(t) {
			msgs = append(msgs, "fails to match the required pattern: "+f.pattern.String())
		}
	case int64, float64:
		n := asFloat(t)
		if r.Min != nil && v.validate.Var(n, "gte="+formatNumber(*r.Min)) != nil {
			msgs = append(msgs, "must be greater than or equal to "+formatNumber(*r.Min))
		}
		if r.Max != nil && v.validate.Var(n, "lte="+formatNumber(*r.Max)) != nil {
			msgs = append(msgs, "must be less than or equal to "+formatNumber(*r.Max))
		}
	}

	if len(r.Enum) > 0 && !slices.Contains(r.Enum, fmt.Sprint(val)) {
		msgs = append(msgs, "must be one of ["+strings.Join(r.Enum, ", ")+"]")
	}
	return msgs
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
