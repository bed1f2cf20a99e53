// Package identity resolves bearer tokens into the request identity.
//
// The resolver never rejects a request. A missing or invalid token leaves
// the request anonymous and the admission stages key it by client address.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vyrodovalexey/admission/internal/observability"
	"github.com/vyrodovalexey/admission/internal/reqctx"
)

const (
	// DefaultHeader carries the bearer token.
	DefaultHeader = "Authorization"

	// DefaultPrefix precedes the token in the header value.
	DefaultPrefix = "Bearer "

	// DefaultAlgorithm signs shared-secret tokens.
	DefaultAlgorithm = "HS256"
)

var (
	// ErrNoToken is returned when the request carries no bearer token.
	ErrNoToken = errors.New("no bearer token")

	// ErrNoKey is returned when neither a secret nor a key set is configured.
	ErrNoKey = errors.New("identity: a secret or a key set is required")

	// ErrNoSubject is returned for a valid token without a subject.
	ErrNoSubject = errors.New("token has no subject")
)

// Config configures token verification.
type Config struct {
	// Algorithm is the HMAC algorithm for Secret. Ignored for key sets.
	Algorithm string
	Secret    []byte
	// KeySet verifies tokens by their kid header.
	KeySet    jwk.Set
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

// Resolver verifies bearer tokens and maps their claims to an identity.
type Resolver struct {
	parseOpts []jwt.ParseOption
	header    string
	prefix    string
	logger    observability.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithHeader reads the token from a custom header and prefix.
func WithHeader(header, prefix string) Option {
	return func(r *Resolver) {
		r.header = header
		r.prefix = prefix
	}
}

// NewResolver creates a resolver from cfg.
func NewResolver(cfg Config, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		header: DefaultHeader,
		prefix: DefaultPrefix,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	switch {
	case cfg.KeySet != nil:
		r.parseOpts = append(r.parseOpts, jwt.WithKeySet(cfg.KeySet))
	case len(cfg.Secret) > 0:
		alg, err := ParseAlgorithm(cfg.Algorithm)
		if err != nil {
			return nil, err
		}
		r.parseOpts = append(r.parseOpts, jwt.WithKey(alg, cfg.Secret))
	default:
		return nil, ErrNoKey
	}

	r.parseOpts = append(r.parseOpts, jwt.WithValidate(true), jwt.WithAcceptableSkew(cfg.ClockSkew))
	if cfg.Issuer != "" {
		r.parseOpts = append(r.parseOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		r.parseOpts = append(r.parseOpts, jwt.WithAudience(cfg.Audience))
	}
	return r, nil
}

// ParseAlgorithm parses an HMAC algorithm name. Empty selects HS256.
func ParseAlgorithm(name string) (jwa.SignatureAlgorithm, error) {
	switch strings.ToUpper(name) {
	case "", DefaultAlgorithm:
		return jwa.HS256, nil
	case "HS384":
		return jwa.HS384, nil
	case "HS512":
		return jwa.HS512, nil
	default:
		return "", fmt.Errorf("identity: unsupported algorithm %q", name)
	}
}

// LoadKeySet reads a JSON Web Key Set from path.
func LoadKeySet(path string) (jwk.Set, error) {
	set, err := jwk.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read key set %s: %w", path, err)
	}
	return set, nil
}

// Extract returns the raw bearer token of the request.
func (r *Resolver) Extract(req *http.Request) (string, error) {
	value := req.Header.Get(r.header)
	if value == "" {
		return "", ErrNoToken
	}
	if r.prefix != "" {
		if len(value) < len(r.prefix) || !strings.EqualFold(value[:len(r.prefix)], r.prefix) {
			return "", ErrNoToken
		}
		value = value[len(r.prefix):]
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ErrNoToken
	}
	return value, nil
}

// Resolve verifies raw and returns the identity it names.
func (r *Resolver) Resolve(raw string) (*reqctx.Identity, error) {
	tok, err := jwt.ParseString(raw, r.parseOpts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if tok.Subject() == "" {
		return nil, ErrNoSubject
	}

	id := &reqctx.Identity{
		ID:        tok.Subject(),
		IssuedAt:  tok.IssuedAt(),
		ExpiresAt: tok.Expiration(),
	}
	if v, ok := tok.Get("roles"); ok {
		id.Roles = stringList(v)
	}
	if v, ok := tok.Get("permissions"); ok {
		id.Permissions = stringList(v)
	} else if v, ok := tok.Get("scope"); ok {
		id.Permissions = stringList(v)
	}
	if v, ok := tok.Get("sid"); ok {
		if s, ok := v.(string); ok {
			id.SessionID = s
		}
	}
	return id, nil
}

// Middleware attaches the identity of a valid bearer token to the request
// context. Requests without a valid token pass through unchanged.
func (r *Resolver) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			raw, err := r.Extract(req)
			if err != nil {
				next.ServeHTTP(w, req)
				return
			}
			id, err := r.Resolve(raw)
			if err != nil {
				r.logger.Debug("bearer token ignored",
					observability.String("correlation_id", reqctx.CorrelationIDFromContext(req.Context())),
					observability.String("path", req.URL.Path),
					observability.Error(err),
				)
				next.ServeHTTP(w, req)
				return
			}
			next.ServeHTTP(w, req.WithContext(reqctx.WithIdentity(req.Context(), id)))
		})
	}
}

// stringList accepts a JSON array or a space separated string.
func stringList(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return strings.Fields(t)
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
