package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/admission/internal/observability"
)

// BreakerConfig configures a BreakerStore.
type BreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string

	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32

	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration

	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "ratelimit-store",
		ConsecutiveFailures: 5,
		OpenTimeout:         10 * time.Second,
		HalfOpenRequests:    1,
	}
}

// BreakerStore guards another Store with a circuit breaker. While the
// breaker is open calls fail immediately with ErrUnavailable.
type BreakerStore struct {
	next   Store
	cb     *gobreaker.CircuitBreaker
	logger observability.Logger
}

// NewBreakerStore wraps next.
func NewBreakerStore(next Store, cfg BreakerConfig, logger observability.Logger) *BreakerStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	def := DefaultBreakerConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}

	b := &BreakerStore{next: next, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("rate limit store breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})
	return b
}

// State returns the breaker state.
func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerStore) execute(fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return res, err
}

// Hit implements Store.
func (b *BreakerStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error) {
	res, err := b.execute(func() (any, error) {
		return b.next.Hit(ctx, key, window, now)
	})
	if err != nil {
		return Window{}, err
	}
	return res.(Window), nil
}

// Reset implements Store.
func (b *BreakerStore) Reset(ctx context.Context, key string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.next.Reset(ctx, key)
	})
	return err
}

// Ping bypasses the breaker so readiness reflects the backing store.
func (b *BreakerStore) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}

// Close implements Store.
func (b *BreakerStore) Close() error {
	return b.next.Close()
}
