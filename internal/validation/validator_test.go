package validation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/admission/internal/apierror"
	"github.com/vyrodovalexey/admission/internal/reqctx"
)

func ctxWithCorrelation(id string) context.Context {
	return reqctx.WithRequestContext(context.Background(), &reqctx.RequestContext{CorrelationID: id})
}

func TestValidate_CollectsAllParts(t *testing.T) {
	t.Parallel()

	schema := MustCompile(Schema{
		Body:  Part{"id": {Type: TypeString, Required: true, Format: FormatUUID}},
		Query: Part{"page": {Type: TypeInteger, Required: true, Min: float(1)}},
	})

	in := Input{
		Body:  map[string]any{"id": "not-a-uuid"},
		Query: url.Values{"page": {"0"}},
	}

	res, err := NewValidator().Validate(ctxWithCorrelation("corr-9"), schema, in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierror.ErrValidation))

	var apiErr *apierror.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "corr-9", apiErr.CorrelationID)
	require.Contains(t, apiErr.Details, "body")
	require.Contains(t, apiErr.Details, "query")
	assert.Equal(t, `"id" must be a valid UUID`, apiErr.Details["body"])
	assert.Equal(t, `"page" must be greater than or equal to 1`, apiErr.Details["query"])
	assert.False(t, res.Valid())
}

func TestValidate_ExhaustiveWithinPart(t *testing.T) {
	t.Parallel()

	schema := MustCompile(Schema{Body: Part{
		"email": {Type: TypeString, Required: true, Format: FormatEmail},
		"name":  {Type: TypeString, Required: true, MinLength: length(2)},
		"age":   {Type: TypeInteger, Min: float(18)},
	}})

	res, err := NewValidator().Validate(context.Background(), schema, Input{
		Body: map[string]any{"email": "nope", "age": json.Number("12")},
	})
	require.Error(t, err)

	msgs := res.Violations(PartBody)
	assert.ElementsMatch(t, []string{
		`"age" must be greater than or equal to 18`,
		`"email" must be a valid email`,
		`"name" is required`,
	}, msgs)
}

func TestValidate_UnknownFieldHandling(t *testing.T) {
	t.Parallel()

	schema := MustCompile(Schema{
		Body:    Part{"name": {Type: TypeString}},
		Query:   Part{"q": {Type: TypeString}},
		Params:  Part{"id": {Type: TypeString}},
		Headers: Part{"x-tenant": {Type: TypeString}},
	})

	t.Run("body and query are stripped", func(t *testing.T) {
		t.Parallel()

		res, err := NewValidator().Validate(context.Background(), schema, Input{
			Body:  map[string]any{"name": "a", "isAdmin": true},
			Query: url.Values{"q": {"x"}, "debug": {"1"}},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "a"}, res.Body)
		assert.Equal(t, map[string]any{"q": "x"}, res.Query)
	})

	t.Run("headers allow unknown", func(t *testing.T) {
		t.Parallel()

		h := http.Header{}
		h.Set("X-Tenant", "acme")
		h.Set("X-Forwarded-For", "1.2.3.4")

		res, err := NewValidator().Validate(context.Background(), schema, Input{Headers: h})
		require.NoError(t, err)
		assert.Equal(t, "acme", res.Headers["x-tenant"])
		assert.Equal(t, "1.2.3.4", res.Headers["x-forwarded-for"])
	})

	t.Run("params reject unknown", func(t *testing.T) {
		t.Parallel()

		res, err := NewValidator().Validate(context.Background(), schema, Input{
			Params: map[string]string{"id": "1", "slug": "x"},
		})
		require.Error(t, err)
		assert.Equal(t, []string{`"slug" is not allowed`}, res.Violations(PartParams))
	})
}

func TestValidate_Coercion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rule    Rule
		raw     string
		want    any
		wantMsg string
	}{
		{name: "integer", rule: Rule{Type: TypeInteger}, raw: "42", want: int64(42)},
		{name: "integer rejects fraction", rule: Rule{Type: TypeInteger}, raw: "4.2", wantMsg: `"f" must be an integer`},
		{name: "integer in exponent form", rule: Rule{Type: TypeInteger}, raw: "1e3", want: int64(1000)},
		{name: "integer above int64", rule: Rule{Type: TypeInteger, Max: float(1000)}, raw: "1e30", wantMsg: `"f" must be an integer`},
		{name: "integer below int64", rule: Rule{Type: TypeInteger, Min: float(0)}, raw: "-1e30", wantMsg: `"f" must be an integer`},
		{name: "integer int64 max", rule: Rule{Type: TypeInteger}, raw: "9223372036854775807", want: int64(9223372036854775807)},
		{name: "integer overflow", rule: Rule{Type: TypeInteger}, raw: "9223372036854775808", wantMsg: `"f" must be an integer`},
		{name: "uppercase uuid", rule: Rule{Format: FormatUUID}, raw: "123E4567-E89B-12D3-A456-426614174000", want: "123E4567-E89B-12D3-A456-426614174000"},
		{name: "bad uuid", rule: Rule{Format: FormatUUID}, raw: "123E4567-E89B-12D3-A456", wantMsg: `"f" must be a valid UUID`},
		{name: "number", rule: Rule{Type: TypeNumber}, raw: "4.5", want: 4.5},
		{name: "number rejects text", rule: Rule{Type: TypeNumber}, raw: "abc", wantMsg: `"f" must be a number`},
		{name: "boolean", rule: Rule{Type: TypeBoolean}, raw: "true", want: true},
		{name: "boolean rejects text", rule: Rule{Type: TypeBoolean}, raw: "yes", wantMsg: `"f" must be a boolean`},
		{name: "enum", rule: Rule{Enum: []string{"asc", "desc"}}, raw: "up", wantMsg: `"f" must be one of [asc, desc]`},
		{name: "max", rule: Rule{Type: TypeInteger, Max: float(100)}, raw: "101", wantMsg: `"f" must be less than or equal to 100`},
		{name: "max length", rule: Rule{MaxLength: length(3)}, raw: "abcd", wantMsg: `"f" length must be less than or equal to 3 characters long`},
		{name: "pattern", rule: Rule{Pattern: `^[a-z]+$`}, raw: "ABC", wantMsg: `"f" fails to match the required pattern: ^[a-z]+$`},
		{name: "datetime", rule: Rule{Format: FormatDateTime}, raw: "2026-01-02T15:04:05Z", want: "2026-01-02T15:04:05Z"},
		{name: "bad datetime", rule: Rule{Format: FormatDateTime}, raw: "yesterday", wantMsg: `"f" must be a valid ISO 8601 date`},
		{name: "uri", rule: Rule{Format: FormatURI}, raw: "https://example.com/x", want: "https://example.com/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			schema := MustCompile(Schema{Query: Part{"f": tt.rule}})
			res, err := NewValidator().Validate(context.Background(), schema, Input{Query: url.Values{"f": {tt.raw}}})
			if tt.wantMsg != "" {
				require.Error(t, err)
				assert.Equal(t, []string{tt.wantMsg}, res.Violations(PartQuery))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Query["f"])
		})
	}
}

func TestValidate_JSONTypesAreStrict(t *testing.T) {
	t.Parallel()

	schema := MustCompile(Schema{Body: Part{
		"name":   {Type: TypeString},
		"count":  {Type: TypeInteger},
		"active": {Type: TypeBoolean},
	}})

	res, err := NewValidator().Validate(context.Background(), schema, Input{
		Body: map[string]any{"name": json.Number("5"), "count": json.Number("3"), "active": true},
	})
	require.Error(t, err)
	assert.Equal(t, []string{`"name" must be a string`}, res.Violations(PartBody))
}

func TestValidate_JSONIntegersKeepPrecision(t *testing.T) {
	t.Parallel()

	schema := MustCompile(Schema{Body: Part{
		"id":    {Type: TypeInteger},
		"ratio": {Type: TypeInteger},
		"huge":  {Type: TypeInteger},
	}})

	res, err := NewValidator().Validate(context.Background(), schema, Input{
		Body: map[string]any{"id": json.Number("9007199254740993"), "ratio": json.Number("2.0")},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), res.Body["id"])
	assert.Equal(t, int64(2), res.Body["ratio"])

	res, err = NewValidator().Validate(context.Background(), schema, Input{
		Body: map[string]any{"huge": json.Number("1e30")},
	})
	require.Error(t, err)
	assert.Equal(t, []string{`"huge" must be an integer`}, res.Violations(PartBody))
}

func TestValidate_UndeclaredPartsIgnored(t *testing.T) {
	t.Parallel()

	schema := MustCompile(Schema{Query: Part{"page": {Type: TypeInteger}}})
	res, err := NewValidator().Validate(context.Background(), schema, Input{
		Params: map[string]string{"anything": "x"},
		Body:   map[string]any{"free": "form"},
	})
	require.NoError(t, err)
	assert.True(t, res.Valid())
	assert.Nil(t, res.Body)
	assert.Nil(t, res.Details())
}

func TestValidate_BodyError(t *testing.T) {
	t.Parallel()

	schema := MustCompile(Schema{Body: Part{"id": {Required: true}}})
	_, err := NewValidator().Validate(context.Background(), schema, Input{BodyError: ErrBodyTooLarge})

	var apiErr *apierror.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, ErrBodyTooLarge.Error(), apiErr.Details["body"])
}

func TestValidate_SchemaIsNotMutated(t *testing.T) {
	t.Parallel()

	s := Schema{Query: Part{"page": {Type: TypeInteger, Min: float(1)}}}
	schema := MustCompile(s)
	v := NewValidator()

	for i := 0; i < 3; i++ {
		_, err := v.Validate(context.Background(), schema, Input{Query: url.Values{"page": {"2"}}})
		require.NoError(t, err)
	}
	assert.Equal(t, Rule{Type: TypeInteger, Min: float(1)}, s.Query["page"])
}

func TestCompile_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		schema Schema
	}{
		{name: "unknown type", schema: Schema{Body: Part{"a": {Type: "date"}}}},
		{name: "unknown format", schema: Schema{Body: Part{"a": {Format: "ipv4"}}}},
		{name: "format on integer", schema: Schema{Body: Part{"a": {Type: TypeInteger, Format: FormatUUID}}}},
		{name: "bad pattern", schema: Schema{Body: Part{"a": {Pattern: "("}}}},
		{name: "min above max", schema: Schema{Query: Part{"a": {Type: TypeNumber, Min: float(2), Max: float(1)}}}},
		{name: "minLength above maxLength", schema: Schema{Query: Part{"a": {MinLength: length(3), MaxLength: length(1)}}}},
		{name: "file without field", schema: Schema{Files: []FileRule{{Required: true}}}},
		{name: "bad allowed type", schema: Schema{Files: []FileRule{{Field: "f", AllowedTypes: []string{"/"}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Compile(tt.schema)
			assert.Error(t, err)
		})
	}

	assert.Panics(t, func() { MustCompile(tests[0].schema) })
}
