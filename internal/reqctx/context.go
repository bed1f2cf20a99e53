// Package reqctx holds the per-request context shared by every admission
// stage: the correlation id, the optional authenticated identity and the
// request start time.
//
// The context is populated upstream (correlation-id middleware and the
// authentication collaborator) before the admission pipeline runs. Stages
// only read it.
package reqctx

import (
	"context"
	"time"
)

// Identity is the authenticated caller attached by the authentication
// collaborator.
type Identity struct {
	ID          string
	Roles       []string
	Permissions []string
	SessionID   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// HasRole reports whether the identity carries the given role.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RequestContext is created once per request and is read-only afterwards.
type RequestContext struct {
	CorrelationID string
	Identity      *Identity
	StartTime     time.Time
}

// Authenticated reports whether an identity with a non-empty id is present.
func (rc *RequestContext) Authenticated() bool {
	return rc != nil && rc.Identity != nil && rc.Identity.ID != ""
}

// Elapsed returns the time spent since the request started.
func (rc *RequestContext) Elapsed() time.Duration {
	if rc == nil || rc.StartTime.IsZero() {
		return 0
	}
	return time.Since(rc.StartTime)
}

type ctxKey string

const ctxKeyRequestContext ctxKey = "request_context"

// WithRequestContext stores rc in ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKeyRequestContext, rc)
}

// FromContext returns the request context stored in ctx, or nil.
func FromContext(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(ctxKeyRequestContext).(*RequestContext); ok {
		return rc
	}
	return nil
}

// CorrelationIDFromContext returns the correlation id, or "" when no
// request context is attached.
func CorrelationIDFromContext(ctx context.Context) string {
	if rc := FromContext(ctx); rc != nil {
		return rc.CorrelationID
	}
	return ""
}

// IdentityFromContext returns the authenticated identity, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	if rc := FromContext(ctx); rc != nil {
		return rc.Identity
	}
	return nil
}

// WithIdentity returns a context whose request context carries id. The
// existing request context is copied, never mutated.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	next := RequestContext{StartTime: time.Now()}
	if rc := FromContext(ctx); rc != nil {
		next = *rc
	}
	next.Identity = id
	return WithRequestContext(ctx, &next)
}
