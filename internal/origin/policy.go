// Package origin decides whether a request's Origin is permitted and
// computes the CORS response headers of an allowed request.
package origin

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/vyrodovalexey/admission/internal/apierror"
)

// MaxAge is the preflight cache lifetime advertised to browsers (24h).
const MaxAge = 86400

// Wildcard in the allow-list admits every origin.
const Wildcard = "*"

// CORS header names.
const (
	HeaderAllowOrigin      = "Access-Control-Allow-Origin"
	HeaderAllowMethods     = "Access-Control-Allow-Methods"
	HeaderAllowHeaders     = "Access-Control-Allow-Headers"
	HeaderExposeHeaders    = "Access-Control-Expose-Headers"
	HeaderAllowCredentials = "Access-Control-Allow-Credentials"
	HeaderMaxAge           = "Access-Control-Max-Age"
	HeaderVary             = "Vary"
)

// Config is the origin policy configuration.
type Config struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
}

// DefaultConfig returns a configuration that allows no cross-origin
// callers and advertises the gateway's usual methods and headers.
func DefaultConfig() Config {
	return Config{
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
			http.MethodDelete, http.MethodHead, http.MethodOptions,
		},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization", "X-Correlation-ID", "X-Request-ID",
		},
		ExposeHeaders: []string{
			"RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset", "Retry-After", "X-Correlation-ID",
		},
	}
}

// Decision is the result of evaluating an allowed request.
type Decision struct {
	// Origin is the request origin, empty when the request carried none.
	Origin string

	// Headers are the CORS headers to emit. Empty when Origin is empty.
	Headers http.Header
}

// CrossOrigin reports whether the decision applies to a cross-origin call.
func (d Decision) CrossOrigin() bool {
	return d.Origin != ""
}

// Apply copies the decision's headers onto h.
func (d Decision) Apply(h http.Header) {
	for name, values := range d.Headers {
		for _, v := range values {
			if name == HeaderVary {
				h.Add(name, v)
				continue
			}
			h.Set(name, v)
		}
	}
}

// Policy is an immutable, pre-computed origin policy.
type Policy struct {
	allowOrigins     map[string]struct{}
	allowAll         bool
	allowMethods     string
	allowHeaders     string
	exposeHeaders    string
	allowCredentials bool
	maxAge           string
}

// NewPolicy builds a Policy. Entries are matched exactly; the only
// pattern understood is a lone "*".
func NewPolicy(cfg Config) *Policy {
	p := &Policy{
		allowOrigins:     make(map[string]struct{}, len(cfg.AllowOrigins)),
		allowMethods:     strings.Join(cfg.AllowMethods, ", "),
		allowHeaders:     strings.Join(cfg.AllowHeaders, ", "),
		exposeHeaders:    strings.Join(cfg.ExposeHeaders, ", "),
		allowCredentials: cfg.AllowCredentials,
		maxAge:           strconv.Itoa(MaxAge),
	}

	for _, o := range cfg.AllowOrigins {
		o = strings.TrimSpace(o)
		if o == Wildcard {
			p.allowAll = true
			continue
		}
		if o != "" {
			p.allowOrigins[o] = struct{}{}
		}
	}
	return p
}

// Allowed reports whether origin is on the allow-list.
func (p *Policy) Allowed(origin string) bool {
	if p.allowAll {
		return true
	}
	_, ok := p.allowOrigins[origin]
	return ok
}

// Origins returns the configured exact origins in sorted order.
func (p *Policy) Origins() []string {
	out := make([]string, 0, len(p.allowOrigins)+1)
	for o := range p.allowOrigins {
		out = append(out, o)
	}
	slices.Sort(out)
	if p.allowAll {
		out = append(out, Wildcard)
	}
	return out
}

// Decide evaluates origin. A request without an origin is not a browser
// cross-origin call and is allowed without CORS headers. A disallowed
// origin yields an *apierror.Error of kind OriginNotAllowed.
func (p *Policy) Decide(origin string) (Decision, error) {
	if origin == "" {
		return Decision{}, nil
	}
	if !p.Allowed(origin) {
		return Decision{}, apierror.OriginNotAllowed("")
	}
	return Decision{Origin: origin, Headers: p.headers(origin)}, nil
}

func (p *Policy) headers(origin string) http.Header {
	h := make(http.Header, 7)
	h.Set(HeaderAllowOrigin, origin)
	h.Set(HeaderVary, "Origin")
	if p.allowMethods != "" {
		h.Set(HeaderAllowMethods, p.allowMethods)
	}
	if p.allowHeaders != "" {
		h.Set(HeaderAllowHeaders, p.allowHeaders)
	}
	if p.exposeHeaders != "" {
		h.Set(HeaderExposeHeaders, p.exposeHeaders)
	}
	if p.allowCredentials {
		h.Set(HeaderAllowCredentials, "true")
	}
	h.Set(HeaderMaxAge, p.maxAge)
	return h
}

// IsPreflight reports whether r is a CORS preflight request.
func IsPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions
}
