// Package ratelimit implements the fixed window rate limiter of the
// admission pipeline and the guards that apply it to HTTP requests.
//
// A Limiter counts hits per key in a store.Store. A Guard decides which
// requests a limiter applies to, derives their key, renders the
// RateLimit-* headers, logs breaches, and resolves store failures
// according to its FailurePolicy.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Limiter defines the interface for rate limiting.
type Limiter interface {
	// Allow records one request for key and reports whether it is admitted.
	Allow(ctx context.Context, key string) (*Result, error)

	// GetLimit returns the limit the limiter enforces.
	GetLimit() Limit

	// Reset forgets the state of key.
	Reset(ctx context.Context, key string) error
}

// Limit is a quota of Requests per Window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// String renders the limit as "5/15m0s".
func (l Limit) String() string {
	return fmt.Sprintf("%d/%s", l.Requests, l.Window)
}

// Result represents the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is admitted.
	Allowed bool

	// Limit is the maximum number of requests per window.
	Limit int

	// Remaining is the number of requests left in the current window.
	Remaining int

	// Count is the number of requests seen in the window, rejected ones included.
	Count int64

	// ResetAfter is the time until the current window ends.
	ResetAfter time.Duration

	// RetryAfter is the time to wait before retrying. Zero when allowed.
	RetryAfter time.Duration

	// FirstBreach is true for the first rejected request of a window.
	FirstBreach bool
}

// ResetSeconds returns ResetAfter rounded up to whole seconds.
func (r *Result) ResetSeconds() int {
	return ceilSeconds(r.ResetAfter)
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds.
func (r *Result) RetryAfterSeconds() int {
	return ceilSeconds(r.RetryAfter)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// FailurePolicy decides what happens to a request when the store fails.
type FailurePolicy string

const (
	// FailOpen admits the request without rate limit headers.
	FailOpen FailurePolicy = "open"

	// FailClosed rejects the request as service unavailable.
	FailClosed FailurePolicy = "closed"
)

// ParseFailurePolicy parses "open" or "closed". An empty string yields def.
func ParseFailurePolicy(s string, def FailurePolicy) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return def, nil
	case FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", fmt.Errorf("invalid failure policy %q: must be %q or %q", s, FailOpen, FailClosed)
	}
}

// NoopLimiter admits every request.
type NoopLimiter struct{}

// NewNoopLimiter creates a new noop limiter.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(context.Context, string) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// GetLimit implements Limiter.
func (l *NoopLimiter) GetLimit() Limit {
	return Limit{}
}

// Reset implements Limiter.
func (l *NoopLimiter) Reset(context.Context, string) error {
	return nil
}
