package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/admission/internal/apierror"
	"github.com/vyrodovalexey/admission/internal/observability"
	"github.com/vyrodovalexey/admission/internal/reqctx"
)

// Rate limit response headers.
const (
	HeaderLimit      = "RateLimit-Limit"
	HeaderRemaining  = "RateLimit-Remaining"
	HeaderReset      = "RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Guard names.
const (
	GeneralGuardName = "general"
	AuthGuardName    = "auth"
)

// Default exempt paths of the general guard.
var DefaultExemptPaths = []string{"/health", "/ready", "/live", "/metrics"}

// Default paths of the authentication guard.
var DefaultAuthPaths = []string{"/api/auth"}

// Decision is the outcome of a Guard check that did not reject.
type Decision struct {
	// Applied is false when the guard skipped the request or failed open.
	Applied bool

	// Result is the limiter result when Applied.
	Result *Result

	// Headers are the rate limit headers to emit.
	Headers http.Header
}

// Guard applies a Limiter to HTTP requests.
type Guard struct {
	name       string
	limiter    Limiter
	keyFunc    KeyFunc
	include    *PathMatcher
	exclude    *PathMatcher
	policy     FailurePolicy
	reject     func(correlationID string, retryAfter int) *apierror.Error
	logger     observability.Logger
	metrics    *observability.Metrics
	warnBudget *rate.Limiter
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardLogger sets the logger.
func WithGuardLogger(logger observability.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGuardMetrics sets the metrics sink.
func WithGuardMetrics(m *observability.Metrics) GuardOption {
	return func(g *Guard) {
		g.metrics = m
	}
}

// WithFailurePolicy overrides the guard's default failure policy.
func WithFailurePolicy(p FailurePolicy) GuardOption {
	return func(g *Guard) {
		if p != "" {
			g.policy = p
		}
	}
}

// WithKeyFunc overrides how keys are derived.
func WithKeyFunc(fn KeyFunc) GuardOption {
	return func(g *Guard) {
		if fn != nil {
			g.keyFunc = fn
		}
	}
}

// WithPaths restricts the guard to the given paths.
func WithPaths(paths []string) GuardOption {
	return func(g *Guard) {
		g.include = NewPathMatcher(paths)
	}
}

// WithExemptPaths excludes the given paths from the guard.
func WithExemptPaths(paths []string) GuardOption {
	return func(g *Guard) {
		g.exclude = NewPathMatcher(paths)
	}
}

// WithRejectionLogRate sets how many repeat rejections per second are
// logged at Warn. Repeats over the budget are logged at Debug.
func WithRejectionLogRate(perSecond float64, burst int) GuardOption {
	return func(g *Guard) {
		g.warnBudget = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewGeneralGuard creates the guard of the general limiter. It applies to
// every path except the exempt ones, keys by identity or address, and
// fails open.
func NewGeneralGuard(l Limiter, ips *ClientIPExtractor, opts ...GuardOption) *Guard {
	g := newGuard(GeneralGuardName, l, GeneralKey(ips), FailOpen, apierror.RateLimitExceeded)
	g.exclude = NewPathMatcher(DefaultExemptPaths)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewAuthGuard creates the guard of the authentication limiter. It only
// applies to the authentication paths, keys by address, and fails closed.
func NewAuthGuard(l Limiter, ips *ClientIPExtractor, opts ...GuardOption) *Guard {
	g := newGuard(AuthGuardName, l, AuthKey(ips), FailClosed, apierror.AuthRateLimitExceeded)
	g.include = NewPathMatcher(DefaultAuthPaths)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func newGuard(
	name string,
	l Limiter,
	keyFunc KeyFunc,
	policy FailurePolicy,
	reject func(string, int) *apierror.Error,
) *Guard {
	return &Guard{
		name:       name,
		limiter:    l,
		keyFunc:    keyFunc,
		include:    NewPathMatcher(nil),
		exclude:    NewPathMatcher(nil),
		policy:     policy,
		reject:     reject,
		logger:     observability.NopLogger(),
		warnBudget: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// Name returns the guard name.
func (g *Guard) Name() string {
	return g.name
}

// Policy returns the failure policy.
func (g *Guard) Policy() FailurePolicy {
	return g.policy
}

// Limiter returns the underlying limiter.
func (g *Guard) Limiter() Limiter {
	return g.limiter
}

// Applies reports whether the guard limits r.
func (g *Guard) Applies(r *http.Request) bool {
	path := r.URL.Path
	if g.exclude.Match(path) {
		return false
	}
	if g.include.Empty() {
		return true
	}
	return g.include.Match(path)
}

// Check counts r against its key. It returns an error when the request is
// rejected, either for quota or because the store failed and the policy
// is FailClosed. Headers in the returned Decision are set on admits and on
// quota rejections.
func (g *Guard) Check(r *http.Request) (Decision, error) {
	if !g.Applies(r) {
		return Decision{}, nil
	}

	ctx := r.Context()
	key := g.keyFunc(r)
	cid := reqctx.CorrelationIDFromContext(ctx)

	res, err := g.limiter.Allow(ctx, key)
	if err != nil {
		return g.storeFailure(ctx, key, cid, err)
	}

	d := Decision{Applied: true, Result: res, Headers: g.headers(res)}
	if res.Allowed {
		return d, nil
	}

	g.metrics.RecordRateLimitRejection(g.name)
	g.logRejection(ctx, r, key, res)
	return d, g.reject(cid, res.RetryAfterSeconds())
}

func (g *Guard) storeFailure(ctx context.Context, key, cid string, err error) (Decision, error) {
	if errors.Is(err, context.Canceled) {
		return Decision{}, err
	}

	g.metrics.RecordRateLimitStoreError(g.name, string(g.policy))
	g.logger.WithContext(ctx).Error("rate limit store failure",
		observability.String("limiter", g.name),
		observability.String("key", key),
		observability.String("policy", string(g.policy)),
		observability.Error(err),
	)

	if g.policy == FailOpen {
		return Decision{}, nil
	}
	return Decision{}, apierror.RateLimiterUnavailable(cid, err)
}

func (g *Guard) logRejection(ctx context.Context, r *http.Request, key string, res *Result) {
	fields := []observability.Field{
		observability.String("limiter", g.name),
		observability.String("key", key),
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.Int64("count", res.Count),
		observability.Int("limit", res.Limit),
		observability.Int("retry_after", res.RetryAfterSeconds()),
	}
	logger := g.logger.WithContext(ctx)

	switch {
	case res.FirstBreach:
		logger.Warn("rate limit threshold reached", fields...)
	case g.warnBudget.Allow():
		logger.Warn("rate limit request rejected", fields...)
	default:
		logger.Debug("rate limit request rejected", fields...)
	}
}

func (g *Guard) headers(res *Result) http.Header {
	h := make(http.Header, 4)
	h.Set(HeaderLimit, strconv.Itoa(res.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(res.Remaining))
	h.Set(HeaderReset, strconv.Itoa(res.ResetSeconds()))
	if !res.Allowed {
		h.Set(HeaderRetryAfter, strconv.Itoa(res.RetryAfterSeconds()))
	}
	return h
}
