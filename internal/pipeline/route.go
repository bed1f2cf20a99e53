package pipeline

import (
	"context"
	"maps"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vyrodovalexey/admission/internal/validation"
)

// ParamsFunc extracts route parameters from a request.
type ParamsFunc func(r *http.Request) map[string]string

type paramsKey struct{}

// WithParams attaches route parameters to ctx, for routers that do not
// carry them in the request.
func WithParams(ctx context.Context, params map[string]string) context.Context {
	return context.WithValue(ctx, paramsKey{}, maps.Clone(params))
}

// DefaultParams returns parameters attached with WithParams, falling back
// to gorilla/mux route variables.
func DefaultParams(r *http.Request) map[string]string {
	if params, ok := r.Context().Value(paramsKey{}).(map[string]string); ok {
		return params
	}
	return mux.Vars(r)
}

// RouteSpec declares the validation of one route.
type RouteSpec struct {
	Schema    *validation.Compiled
	Validator *validation.Validator
	Params    ParamsFunc
	Decode    validation.DecodeOptions
}

// Route returns a copy of p with the route's validation stages appended:
// schema validation, then file rules when the schema declares any.
func (p *Pipeline) Route(spec RouteSpec) *Pipeline {
	if spec.Schema == nil {
		return p
	}

	stages := []Stage{ValidationStage(spec.Validator, spec.Schema, spec.Params, spec.Decode)}
	if spec.Schema.HasFiles() {
		stages = append(stages, FilesStage(spec.Schema.Files(), spec.Decode))
	}
	return p.With(stages...)
}
