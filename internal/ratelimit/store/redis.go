package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/admission/internal/observability"
)

// hitScript applies one hit to a fixed window held in a hash.
// KEYS[1] = key
// ARGV[1] = now in milliseconds
// ARGV[2] = window length in milliseconds
// Returns: {count, window start in milliseconds}
var hitScript = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
	if start == nil or now >= start + window then
		start = now
		redis.call('HSET', KEYS[1], 'start', start, 'count', 0)
	end

	local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
	redis.call('PEXPIRE', KEYS[1], start + window - now)

	return {count, start}
`)

type redisMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    prometheus.Counter
	connErrors prometheus.Counter
}

func newRedisMetrics(reg prometheus.Registerer) *redisMetrics {
	factory := promauto.With(reg)
	return &redisMetrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_redis_operations_total",
				Help: "Total number of Redis rate limit store operations",
			},
			[]string{"operation", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratelimit_redis_operation_duration_seconds",
				Help:    "Duration of Redis rate limit store operations in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation"},
		),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_redis_connection_retries_total",
			Help: "Total number of Redis connection retry attempts",
		}),
		connErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_redis_connection_errors_total",
			Help: "Total number of Redis connection errors",
		}),
	}
}

func (m *redisMetrics) observe(op string, start time.Time, err error) {
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operations.WithLabelValues(op, status).Inc()
}

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string

	PoolSize     int
	MinIdleConns int

	DialTimeout time.Duration

	// Timeout bounds every Hit, Reset and Ping call.
	Timeout time.Duration

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	ConnectionRetries int

	Logger observability.Logger

	// Registerer receives the store metrics. Nil keeps them unregistered.
	Registerer prometheus.Registerer
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:           "localhost:6379",
		Prefix:            "ratelimit:",
		PoolSize:          10,
		MinIdleConns:      2,
		DialTimeout:       5 * time.Second,
		Timeout:           50 * time.Millisecond,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		ConnectionRetries: 5,
	}
}

// RedisStore implements Store on Redis. Every hit is one Lua script call,
// so the window update is atomic across gateway replicas.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	logger  observability.Logger
	metrics *redisMetrics
	mu      sync.Mutex
	closed  bool
}

// NewRedisStore connects to Redis, retrying with decorrelated jitter
// backoff until ConnectionRetries is exhausted.
func NewRedisStore(ctx context.Context, cfg *RedisConfig) (*RedisStore, error) {
	cfg = normalizeRedisConfig(cfg)

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
	})

	s := newRedisStoreWithClient(client, cfg)
	if err := s.connect(ctx, cfg); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// NewRedisStoreWithClient wraps an existing client without connecting.
func NewRedisStoreWithClient(client *redis.Client, cfg *RedisConfig) *RedisStore {
	return newRedisStoreWithClient(client, normalizeRedisConfig(cfg))
}

func newRedisStoreWithClient(client *redis.Client, cfg *RedisConfig) *RedisStore {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &RedisStore{
		client:  client,
		prefix:  cfg.Prefix,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		metrics: newRedisMetrics(reg),
	}
}

func normalizeRedisConfig(cfg *RedisConfig) *RedisConfig {
	def := DefaultRedisConfig()
	if cfg == nil {
		cfg = def
	}
	out := *cfg
	if out.Logger == nil {
		out.Logger = observability.NopLogger()
	}
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = def.DialTimeout
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = def.InitialBackoff
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = def.MaxBackoff
	}
	if out.ConnectionRetries < 0 {
		out.ConnectionRetries = 0
	}
	return &out
}

func (s *RedisStore) connect(ctx context.Context, cfg *RedisConfig) error {
	backoff := newDecorrelatedJitterBackoff(cfg.InitialBackoff, cfg.MaxBackoff)

	var lastErr error
	for attempt := 0; attempt <= cfg.ConnectionRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		lastErr = s.client.Ping(pingCtx).Err()
		cancel()

		if lastErr == nil {
			if attempt > 0 {
				s.logger.Info("redis connection established after retry",
					observability.String("address", cfg.Address),
					observability.Int("attempt", attempt+1),
				)
			}
			return nil
		}

		s.metrics.connErrors.Inc()
		if attempt == cfg.ConnectionRetries {
			break
		}

		wait := backoff.next(attempt)
		s.logger.Debug("redis connection failed, retrying",
			observability.String("address", cfg.Address),
			observability.Int("attempt", attempt+1),
			observability.Duration("backoff", wait),
			observability.Error(lastErr),
		)
		s.metrics.retries.Inc()

		select {
		case <-ctx.Done():
			return fmt.Errorf("redis connect: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("failed to connect to redis after %d attempts: %w", cfg.ConnectionRetries+1, lastErr)
}

// decorrelatedJitterBackoff computes sleep = min(cap, rand(base, sleep*3)).
type decorrelatedJitterBackoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newDecorrelatedJitterBackoff(initial, maxDuration time.Duration) *decorrelatedJitterBackoff {
	return &decorrelatedJitterBackoff{initial: initial, max: maxDuration, current: initial}
}

func (b *decorrelatedJitterBackoff) next(attempt int) time.Duration {
	if attempt == 0 {
		b.current = b.initial
		return b.current
	}

	lo := float64(b.initial)
	hi := float64(b.current) * 3
	//nolint:gosec // jitter does not need a cryptographic source
	wait := lo + rand.Float64()*(hi-lo)
	if wait > float64(b.max) {
		wait = float64(b.max)
	}

	b.current = time.Duration(wait)
	return b.current
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := hitScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(), window.Milliseconds()).Int64Slice()
	if err == nil && len(res) != 2 {
		err = fmt.Errorf("unexpected script result length %d", len(res))
	}
	s.metrics.observe("hit", start, err)
	if err != nil {
		return Window{}, fmt.Errorf("redis hit %q: %w", key, err)
	}

	return Window{Count: res[0], Start: time.UnixMilli(res[1])}, nil
}

// Reset implements Store.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.client.Del(ctx, s.prefix+key).Err()
	s.metrics.observe("reset", start, err)
	if err != nil {
		return fmt.Errorf("redis reset %q: %w", key, err)
	}
	return nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.client.Ping(ctx).Err()
	s.metrics.observe("ping", start, err)
	return err
}

// Close implements Store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
