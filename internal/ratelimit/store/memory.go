package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	defaultStripes         = 64
	defaultCleanupInterval = time.Minute
)

type entry struct {
	count  int64
	start  time.Time
	window time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.start.Add(e.window))
}

type stripe struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// MemoryStore implements Store with a lock-striped map. Keys are spread
// over stripes by xxhash so unrelated keys rarely contend.
type MemoryStore struct {
	stripes []*stripe
	now     func() time.Time
	ticker  *time.Ticker
	done    chan struct{}
	closed  atomic.Bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	stripes         int
	cleanupInterval time.Duration
	now             func() time.Time
}

// WithStripes sets the number of lock stripes.
func WithStripes(n int) MemoryOption {
	return func(o *memoryOptions) {
		if n > 0 {
			o.stripes = n
		}
	}
}

// WithCleanupInterval sets how often expired windows are evicted.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(o *memoryOptions) {
		if d > 0 {
			o.cleanupInterval = d
		}
	}
}

// WithClock sets the clock used by eviction.
func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewMemoryStore creates a new in-memory store and starts its eviction loop.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	o := memoryOptions{
		stripes:         defaultStripes,
		cleanupInterval: defaultCleanupInterval,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &MemoryStore{
		stripes: make([]*stripe, o.stripes),
		now:     o.now,
		ticker:  time.NewTicker(o.cleanupInterval),
		done:    make(chan struct{}),
	}
	for i := range s.stripes {
		s.stripes[i] = &stripe{entries: make(map[string]*entry)}
	}

	go s.runCleanup()

	return s
}

func (s *MemoryStore) stripeFor(key string) *stripe {
	return s.stripes[xxhash.Sum64String(key)%uint64(len(s.stripes))]
}

// Hit implements Store.
func (s *MemoryStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, err
	}
	if s.closed.Load() {
		return Window{}, ErrClosed
	}

	st := s.stripeFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.entries[key]
	if !ok || e.expired(now) {
		e = &entry{start: now, window: window}
		st.entries[key] = e
	}
	e.count++

	return Window{Count: e.count, Start: e.start}, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	st := s.stripeFor(key)
	st.mu.Lock()
	delete(st.entries, key)
	st.mu.Unlock()
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.ticker.Stop()
	close(s.done)
	return nil
}

func (s *MemoryStore) runCleanup() {
	for {
		select {
		case <-s.ticker.C:
			s.evictExpired()
		case <-s.done:
			return
		}
	}
}

// evictExpired drops windows that have ended. A dropped window is
// indistinguishable from an ended one: the next hit starts a new window.
func (s *MemoryStore) evictExpired() int {
	now := s.now()
	evicted := 0
	for _, st := range s.stripes {
		st.mu.Lock()
		for key, e := range st.entries {
			if e.expired(now) {
				delete(st.entries, key)
				evicted++
			}
		}
		st.mu.Unlock()
	}
	return evicted
}

// Size returns the number of windows held.
func (s *MemoryStore) Size() int {
	n := 0
	for _, st := range s.stripes {
		st.mu.Lock()
		n += len(st.entries)
		st.mu.Unlock()
	}
	return n
}
