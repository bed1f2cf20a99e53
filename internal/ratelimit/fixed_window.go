package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/vyrodovalexey/admission/internal/ratelimit/store"
)

// Limits of the authentication limiter.
const (
	AuthWindow      = 15 * time.Minute
	AuthMaxRequests = 5
)

// FixedWindowLimiter implements the fixed window algorithm. A key's
// window opens at its first request and lasts Window; the request that
// arrives exactly at the end opens the next window. Rejected requests
// are counted too.
type FixedWindowLimiter struct {
	store store.Store
	limit Limit
	now   func() time.Time
}

// FixedWindowOption configures a FixedWindowLimiter.
type FixedWindowOption func(*FixedWindowLimiter)

// WithClock sets the clock used to timestamp hits.
func WithClock(now func() time.Time) FixedWindowOption {
	return func(l *FixedWindowLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// MinWindow is the shortest window a store can expire reliably; stores
// keep window state at millisecond resolution.
const MinWindow = time.Millisecond

// NewFixedWindowLimiter creates a fixed window limiter over s.
func NewFixedWindowLimiter(s store.Store, limit Limit, opts ...FixedWindowOption) (*FixedWindowLimiter, error) {
	if s == nil {
		return nil, fmt.Errorf("fixed window limiter: store is required")
	}
	if limit.Requests <= 0 {
		return nil, fmt.Errorf("fixed window limiter: requests must be positive, got %d", limit.Requests)
	}
	if limit.Window < MinWindow {
		return nil, fmt.Errorf("fixed window limiter: window must be at least %s, got %s", MinWindow, limit.Window)
	}

	l := &FixedWindowLimiter{store: s, limit: limit, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// NewAuthLimiter creates the fixed 15 minute / 5 request limiter.
func NewAuthLimiter(s store.Store, opts ...FixedWindowOption) (*FixedWindowLimiter, error) {
	return NewFixedWindowLimiter(s, Limit{Requests: AuthMaxRequests, Window: AuthWindow}, opts...)
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	now := l.now()

	w, err := l.store.Hit(ctx, key, l.limit.Window, now)
	if err != nil {
		return nil, fmt.Errorf("rate limit hit for %q: %w", key, err)
	}

	quota := int64(l.limit.Requests)
	resetAfter := w.ResetAt(l.limit.Window).Sub(now)

	res := &Result{
		Allowed:    w.Count <= quota,
		Limit:      l.limit.Requests,
		Remaining:  int(max(0, quota-w.Count)),
		Count:      w.Count,
		ResetAfter: resetAfter,
	}
	if !res.Allowed {
		res.RetryAfter = resetAfter
		res.FirstBreach = w.Count == quota+1
	}
	return res, nil
}

// GetLimit implements Limiter.
func (l *FixedWindowLimiter) GetLimit() Limit {
	return l.limit
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

