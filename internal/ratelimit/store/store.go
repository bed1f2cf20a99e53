// Package store provides the window state backends of the rate limiter.
//
// A Store owns one fixed window per key and applies the
// check-reset-increment sequence of a hit as a single atomic operation,
// so concurrent requests for the same key are serialized by the store.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backing store cannot serve a call.
var ErrUnavailable = errors.New("rate limit store unavailable")

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("rate limit store closed")

// Window is the state of one key after a hit.
type Window struct {
	// Count is the number of hits in the current window, this one included.
	Count int64

	// Start is when the current window began.
	Start time.Time
}

// ResetAt returns the instant the window ends.
func (w Window) ResetAt(length time.Duration) time.Time {
	return w.Start.Add(length)
}

// Store defines the interface for rate limit window storage.
type Store interface {
	// Hit records one request for key at now. If no window exists, or
	// now >= Start+window, a new window starting at now replaces it
	// before the count is incremented.
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error)

	// Reset forgets the window of key.
	Reset(ctx context.Context, key string) error

	// Ping reports whether the store can serve calls.
	Ping(ctx context.Context) error

	// Close releases resources. It is safe to call more than once.
	Close() error
}
