package pipeline

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vyrodovalexey/admission/internal/apierror"
	"github.com/vyrodovalexey/admission/internal/observability"
	"github.com/vyrodovalexey/admission/internal/validation"
)

// Verdict is the non-error outcome of a stage.
type Verdict struct {
	// Status, when non-zero, ends the pipeline with an empty response
	// carrying that status.
	Status int
}

// Continue passes the request to the next stage.
var Continue = Verdict{}

// Respond ends the pipeline with an empty response of status.
func Respond(status int) Verdict {
	return Verdict{Status: status}
}

// Terminal reports whether v ends the pipeline.
func (v Verdict) Terminal() bool {
	return v.Status != 0
}

// Stage is one admission check.
type Stage interface {
	Name() string
	Decide(r *http.Request, ann *Annotations) (Verdict, error)
}

// Annotations carries what stages attach to the request as it moves
// through the pipeline.
type Annotations struct {
	header http.Header
	ctx    context.Context
}

func newAnnotations(ctx context.Context) *Annotations {
	return &Annotations{header: make(http.Header), ctx: ctx}
}

// Header returns the response headers collected so far.
func (a *Annotations) Header() http.Header {
	return a.header
}

// AddHeaders merges h into the collected headers. Vary values accumulate;
// other headers are replaced.
func (a *Annotations) AddHeaders(h http.Header) {
	for name, values := range h {
		if name == "Vary" {
			a.header[name] = append(a.header[name], values...)
			continue
		}
		a.header[name] = slices.Clone(values)
	}
}

// Context returns the request context later stages and the handler see.
func (a *Annotations) Context() context.Context {
	return a.ctx
}

// SetContext replaces the request context for later stages and the handler.
func (a *Annotations) SetContext(ctx context.Context) {
	a.ctx = ctx
}

func (a *Annotations) apply(h http.Header) {
	for name, values := range a.header {
		for _, v := range values {
			if name == "Vary" {
				h.Add(name, v)
				continue
			}
			h.Set(name, v)
		}
	}
}

// Pipeline is an ordered, immutable list of stages.
type Pipeline struct {
	stages   []Stage
	logger   observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	renderer apierror.Renderer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithTracer sets the tracer used for stage spans.
func WithTracer(t *observability.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// WithRenderer replaces the error renderer.
func WithRenderer(r apierror.Renderer) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.renderer = r
		}
	}
}

// New creates a Pipeline running stages in order.
func New(stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages:   slices.Clone(stages),
		logger:   observability.NopLogger(),
		renderer: apierror.Render,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// With returns a copy of p with stages appended.
func (p *Pipeline) With(stages ...Stage) *Pipeline {
	cp := *p
	cp.stages = append(slices.Clone(p.stages), stages...)
	return &cp
}

// Stages returns the stage names in order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Handler wraps next with the pipeline. Temporary files of a multipart
// form parsed during admission are removed once the request is served.
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ann := newAnnotations(r.Context())
		defer func() { validation.ReleaseForm(r) }()

		for _, stage := range p.stages {
			if err := r.Context().Err(); err != nil {
				p.logger.WithContext(r.Context()).Debug("request cancelled during admission",
					observability.String("stage", stage.Name()),
					observability.Error(err),
				)
				return
			}

			verdict, err := p.run(stage, r, ann)
			if ann.ctx != r.Context() {
				r = r.WithContext(ann.ctx)
			}

			if err != nil {
				ann.apply(w.Header())
				p.reject(w, r, stage, err)
				return
			}
			if verdict.Terminal() {
				ann.apply(w.Header())
				w.WriteHeader(verdict.Status)
				return
			}
		}

		ann.apply(w.Header())
		next.ServeHTTP(w, r)
	})
}

func (p *Pipeline) run(stage Stage, r *http.Request, ann *Annotations) (Verdict, error) {
	_, span := p.tracer.StartSpan(r.Context(), "admission."+stage.Name())
	start := time.Now()

	verdict, err := stage.Decide(r, ann)

	outcome := outcomeOf(verdict, err)
	p.metrics.RecordDecision(stage.Name(), outcome, time.Since(start))
	span.SetAttributes(
		attribute.String("admission.stage", stage.Name()),
		attribute.String("admission.outcome", outcome),
	)
	if outcome == observability.OutcomeError {
		observability.EndSpan(span, err)
	} else {
		span.End()
	}
	return verdict, err
}

func outcomeOf(v Verdict, err error) string {
	switch {
	case err == nil && v.Terminal():
		return observability.OutcomeShortCircuit
	case err == nil:
		return observability.OutcomeAllow
	}
	switch apierror.KindOf(err) {
	case apierror.KindOriginNotAllowed, apierror.KindRateLimitExceeded, apierror.KindValidationFailed:
		return observability.OutcomeReject
	default:
		return observability.OutcomeError
	}
}

func (p *Pipeline) reject(w http.ResponseWriter, r *http.Request, stage Stage, err error) {
	logger := p.logger.WithContext(r.Context())

	if errors.Is(err, context.Canceled) || r.Context().Err() != nil {
		logger.Debug("request cancelled during admission",
			observability.String("stage", stage.Name()),
			observability.Error(err),
		)
		return
	}

	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case apierror.KindOriginNotAllowed:
			p.metrics.RecordOriginRejection()
		case apierror.KindValidationFailed:
			for part := range apiErr.Details {
				p.metrics.RecordValidationFailure(part)
			}
		}
	}

	fields := []observability.Field{
		observability.String("stage", stage.Name()),
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.Error(err),
	}
	if apiErr == nil || apiErr.StatusCode >= http.StatusInternalServerError {
		logger.Error("request admission failed", fields...)
	} else {
		logger.Info("request rejected", append(fields,
			observability.String("code", apiErr.Code),
			observability.Int("status", apiErr.StatusCode),
		)...)
	}

	p.renderer(w, r, err)
}
