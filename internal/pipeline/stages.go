package pipeline

import (
	"mime/multipart"
	"net/http"

	"github.com/vyrodovalexey/admission/internal/origin"
	"github.com/vyrodovalexey/admission/internal/ratelimit"
	"github.com/vyrodovalexey/admission/internal/validation"
)

// Stage names.
const (
	StageOrigin     = "origin"
	StageValidation = "validation"
	StageFiles      = "files"
)

// OriginDecider evaluates a request origin. *origin.Policy and
// *origin.Reloadable implement it.
type OriginDecider interface {
	Decide(origin string) (origin.Decision, error)
}

type originStage struct {
	policy OriginDecider
}

// OriginStage enforces the origin allow-list and answers preflight
// requests with 204 once the origin is allowed.
func OriginStage(policy OriginDecider) Stage {
	return &originStage{policy: policy}
}

func (s *originStage) Name() string { return StageOrigin }

func (s *originStage) Decide(r *http.Request, ann *Annotations) (Verdict, error) {
	d, err := s.policy.Decide(r.Header.Get("Origin"))
	if err != nil {
		return Continue, err
	}
	ann.AddHeaders(d.Headers)

	if origin.IsPreflight(r) {
		return Respond(http.StatusNoContent), nil
	}
	return Continue, nil
}

type guardStage struct {
	guard *ratelimit.Guard
}

// GuardStage applies a rate limit guard. Rate limit headers are
// annotated on admits and on quota rejections.
func GuardStage(g *ratelimit.Guard) Stage {
	return &guardStage{guard: g}
}

func (s *guardStage) Name() string { return "ratelimit." + s.guard.Name() }

func (s *guardStage) Decide(r *http.Request, ann *Annotations) (Verdict, error) {
	d, err := s.guard.Check(r)
	ann.AddHeaders(d.Headers)
	return Continue, err
}

type validationStage struct {
	validator *validation.Validator
	schema    *validation.Compiled
	params    ParamsFunc
	decode    validation.DecodeOptions
}

// ValidationStage validates the request against schema. The coerced
// result is attached to the request context for the handler.
func ValidationStage(
	v *validation.Validator,
	schema *validation.Compiled,
	params ParamsFunc,
	decode validation.DecodeOptions,
) Stage {
	if v == nil {
		v = validation.NewValidator()
	}
	if params == nil {
		params = DefaultParams
	}
	return &validationStage{validator: v, schema: schema, params: params, decode: decode}
}

func (s *validationStage) Name() string { return StageValidation }

func (s *validationStage) Decide(r *http.Request, ann *Annotations) (Verdict, error) {
	in, err := validation.InputFromRequest(r, s.params(r), s.decode)
	if err != nil {
		return Continue, err
	}

	res, err := s.validator.Validate(r.Context(), s.schema, in)
	if err != nil {
		return Continue, err
	}
	ann.SetContext(validation.WithResult(ann.Context(), res))
	return Continue, nil
}

type filesStage struct {
	rules  []validation.FileRule
	decode validation.DecodeOptions
}

// FilesStage checks uploaded files against rules. It reuses a multipart
// form already parsed by an earlier stage.
func FilesStage(rules []validation.FileRule, decode validation.DecodeOptions) Stage {
	return &filesStage{rules: rules, decode: decode}
}

func (s *filesStage) Name() string { return StageFiles }

func (s *filesStage) Decide(r *http.Request, _ *Annotations) (Verdict, error) {
	if r.MultipartForm == nil {
		if _, err := validation.InputFromRequest(r, nil, s.decode); err != nil {
			return Continue, err
		}
	}

	var files map[string][]*multipart.FileHeader
	if r.MultipartForm != nil {
		files = r.MultipartForm.File
	}
	return Continue, validation.ValidateFilesError(r.Context(), s.rules, files)
}
