package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/vyrodovalexey/admission/internal/apierror"
	"github.com/vyrodovalexey/admission/internal/config"
	"github.com/vyrodovalexey/admission/internal/health"
	"github.com/vyrodovalexey/admission/internal/middleware"
	"github.com/vyrodovalexey/admission/internal/observability"
	"github.com/vyrodovalexey/admission/internal/origin"
	"github.com/vyrodovalexey/admission/internal/pipeline"
	"github.com/vyrodovalexey/admission/internal/ratelimit"
	"github.com/vyrodovalexey/admission/internal/ratelimit/store"
	"github.com/vyrodovalexey/admission/internal/reqctx"
)

// Health endpoint paths.
const (
	HealthPath = "/health"
	ReadyPath  = "/ready"
	LivePath   = "/live"
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// BackendFunc returns the handler that serves admitted requests of a route.
type BackendFunc func(route string) http.Handler

// Gateway is the admission gateway.
type Gateway struct {
	config    *config.GatewayConfig
	logger    observability.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	store     store.Store
	ownsStore bool
	origin    *origin.Reloadable
	checker   *health.Checker
	pipeline  *pipeline.Pipeline
	handler   http.Handler
	listener  *Listener
	backend   BackendFunc
	version   string
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
	closeOnce sync.Once

	shutdownTimeout time.Duration
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics. Without it metrics are created from the
// configuration when enabled.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = t
	}
}

// WithStore sets the rate limit store instead of building one from the
// configuration. The caller keeps ownership and closes it.
func WithStore(s store.Store) Option {
	return func(g *Gateway) {
		g.store = s
	}
}

// WithBackend sets the handler of admitted requests.
func WithBackend(fn BackendFunc) Option {
	return func(g *Gateway) {
		g.backend = fn
	}
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(version string) Option {
	return func(g *Gateway) {
		g.version = version
	}
}

// WithShutdownTimeout sets the shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		g.shutdownTimeout = timeout
	}
}

// New validates cfg and builds the gateway. It connects to the rate limit
// store, so ctx bounds the connection attempts.
func New(ctx context.Context, cfg *config.GatewayConfig, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	g := &Gateway{
		config:          cfg,
		logger:          observability.NopLogger(),
		backend:         echoBackend,
		version:         "dev",
		shutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.metrics == nil && cfg.Metrics.Enabled {
		g.metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	if g.store == nil {
		s, err := newStore(ctx, cfg.RateLimit.Store, g.logger, g.metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limit store: %w", err)
		}
		g.store = s
		g.ownsStore = true
	}

	if err := g.build(); err != nil {
		g.closeStore()
		return nil, err
	}

	g.state.Store(int32(StateStopped))

	return g, nil
}

// build assembles the pipeline, router and middleware chain.
func (g *Gateway) build() error {
	cfg := g.config

	guards, ips, err := newGuards(cfg, g.store, g.logger, g.metrics)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	g.origin = origin.NewReloadable(origin.NewPolicy(originConfig(cfg.CORS)))

	stages := []pipeline.Stage{pipeline.OriginStage(g.origin)}
	critical := false
	for _, guard := range guards {
		stages = append(stages, pipeline.GuardStage(guard))
		critical = critical || guard.Policy() == ratelimit.FailClosed
	}

	g.pipeline = pipeline.New(stages,
		pipeline.WithLogger(g.logger),
		pipeline.WithMetrics(g.metrics),
		pipeline.WithTracer(g.tracer),
	)

	g.checker = health.NewChecker(g.version)
	g.checker.RegisterCheck("ratelimit_store", critical, health.PingCheck(g.store))

	router := mux.NewRouter()
	router.HandleFunc(HealthPath, g.checker.HealthHandler()).Methods(http.MethodGet)
	router.HandleFunc(ReadyPath, g.checker.ReadinessHandler()).Methods(http.MethodGet)
	router.HandleFunc(LivePath, g.checker.LivenessHandler()).Methods(http.MethodGet)
	if g.metrics != nil && cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, g.metrics.Handler()).Methods(http.MethodGet)
	}

	if err := mountRoutes(router, cfg, g.pipeline, g.backend); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	router.NotFoundHandler = g.pipeline.Handler(statusHandler(http.StatusNotFound, "NOT_FOUND", "Route not found"))
	router.MethodNotAllowedHandler = g.pipeline.Handler(
		statusHandler(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed"))

	mws := []func(http.Handler) http.Handler{
		reqctx.CorrelationID(),
		middleware.Recovery(g.logger, g.metrics),
		observability.TracingMiddleware(g.tracer),
		middleware.AccessLog(g.logger, g.metrics, ips.Extract),
	}
	if cfg.Identity.Enabled {
		resolver, err := newResolver(cfg.Identity, g.logger)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		mws = append(mws, resolver.Middleware())
	}
	g.handler = middleware.Chain(router, mws...)
	g.listener = NewListener(cfg.Server, g.handler, g.logger)

	return nil
}

// statusHandler answers with an error envelope for requests that were
// admitted but match no route.
func statusHandler(status int, code, message string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env := apierror.Envelope{Error: apierror.Body{
			Message:       message,
			Code:          code,
			StatusCode:    status,
			CorrelationID: reqctx.CorrelationIDFromContext(r.Context()),
			Timestamp:     time.Now().UTC().Format(apierror.TimestampFormat),
		}}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(env)
	})
}

// Start starts the gateway.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrGatewayNotStopped
	}

	g.logger.Info("starting gateway",
		observability.String("address", g.config.Server.Address),
		observability.Strings("stages", g.pipeline.Stages()),
		observability.Int("routes", len(g.config.Routes)),
	)

	if err := g.listener.Start(ctx); err != nil {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to start listener: %w", err)
	}

	g.checker.SetDraining(false)
	g.startTime = time.Now()
	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started",
		observability.String("address", g.listener.Address()),
	)

	return nil
}

// Stop stops the gateway gracefully. Readiness reports draining while
// in-flight requests complete.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrGatewayNotRunning
	}

	g.logger.Info("stopping gateway")
	g.checker.SetDraining(true)

	if _, ok := ctx.Deadline(); !ok && g.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.shutdownTimeout)
		defer cancel()
	}

	err := g.listener.Stop(ctx)
	if err != nil {
		g.logger.Error("failed to stop listener", observability.Error(err))
	}

	g.state.Store(int32(StateStopped))

	g.logger.Info("gateway stopped")

	return err
}

// Close releases the rate limit store built by New. The gateway must be
// stopped. It is safe to call more than once.
func (g *Gateway) Close() error {
	if g.State() != StateStopped {
		return ErrGatewayNotStopped
	}
	g.closeStore()
	return nil
}

func (g *Gateway) closeStore() {
	g.closeOnce.Do(func() {
		if !g.ownsStore || g.store == nil {
			return
		}
		if err := g.store.Close(); err != nil {
			g.logger.Warn("failed to close rate limit store", observability.Error(err))
		}
	})
}

// Reload applies cfg to the running gateway. Only the origin policy is
// swapped; other sections take effect on restart.
func (g *Gateway) Reload(cfg *config.GatewayConfig) error {
	if cfg == nil {
		return ErrNilConfig
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.origin.Store(origin.NewPolicy(originConfig(cfg.CORS)))
	g.config = cfg

	g.logger.Info("gateway configuration reloaded",
		observability.Strings("allowed_origins", cfg.CORS.AllowOrigins),
	)

	return nil
}

// Handler returns the complete HTTP handler, middleware included.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Pipeline returns the shared admission pipeline.
func (g *Gateway) Pipeline() *pipeline.Pipeline {
	return g.pipeline
}

// Checker returns the health checker.
func (g *Gateway) Checker() *health.Checker {
	return g.checker
}

// Metrics returns the metrics, nil when disabled.
func (g *Gateway) Metrics() *observability.Metrics {
	return g.metrics
}

// Address returns the listener address.
func (g *Gateway) Address() string {
	return g.listener.Address()
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning returns true if the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the gateway uptime.
func (g *Gateway) Uptime() time.Duration {
	if g.startTime.IsZero() || !g.IsRunning() {
		return 0
	}
	return time.Since(g.startTime)
}

// Config returns the current configuration.
func (g *Gateway) Config() *config.GatewayConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}
