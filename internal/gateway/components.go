package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/vyrodovalexey/admission/internal/config"
	"github.com/vyrodovalexey/admission/internal/identity"
	"github.com/vyrodovalexey/admission/internal/observability"
	"github.com/vyrodovalexey/admission/internal/origin"
	"github.com/vyrodovalexey/admission/internal/pipeline"
	"github.com/vyrodovalexey/admission/internal/ratelimit"
	"github.com/vyrodovalexey/admission/internal/ratelimit/store"
	"github.com/vyrodovalexey/admission/internal/reqctx"
	"github.com/vyrodovalexey/admission/internal/validation"
)

// newStore builds the window store selected by cfg. A Redis store is put
// behind a circuit breaker unless the breaker is disabled.
func newStore(
	ctx context.Context,
	cfg config.StoreConfig,
	logger observability.Logger,
	metrics *observability.Metrics,
) (store.Store, error) {
	switch cfg.Type {
	case config.StoreMemory, "":
		return store.NewMemoryStore(
			store.WithStripes(cfg.Memory.Stripes),
			store.WithCleanupInterval(cfg.Memory.CleanupInterval.Duration()),
		), nil

	case config.StoreRedis:
		rc := store.DefaultRedisConfig()
		rc.Address = cfg.Redis.Address
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		rc.Prefix = cfg.Redis.KeyPrefix
		rc.Timeout = cfg.Timeout.Duration()
		rc.Logger = logger
		if reg := metrics.Registry(); reg != nil {
			rc.Registerer = reg
		}

		rs, err := store.NewRedisStore(ctx, rc)
		if err != nil {
			return nil, err
		}
		if !cfg.Breaker.Enabled {
			return rs, nil
		}

		bc := store.DefaultBreakerConfig()
		if cfg.Breaker.ConsecutiveFailures > 0 {
			bc.ConsecutiveFailures = cfg.Breaker.ConsecutiveFailures
		}
		if d := cfg.Breaker.OpenTimeout.Duration(); d > 0 {
			bc.OpenTimeout = d
		}
		return store.NewBreakerStore(rs, bc, logger), nil

	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// newGuards builds the enabled rate limit guards in pipeline order:
// general first, then authentication.
func newGuards(
	cfg *config.GatewayConfig,
	s store.Store,
	logger observability.Logger,
	metrics *observability.Metrics,
) ([]*ratelimit.Guard, *ratelimit.ClientIPExtractor, error) {
	ips, invalid := ratelimit.NewClientIPExtractor(cfg.RateLimit.TrustedProxies)
	if len(invalid) > 0 {
		return nil, nil, fmt.Errorf("invalid trusted proxies: %s", strings.Join(invalid, ", "))
	}

	common := []ratelimit.GuardOption{
		ratelimit.WithGuardLogger(logger),
		ratelimit.WithGuardMetrics(metrics),
		ratelimit.WithRejectionLogRate(cfg.RateLimit.RejectionLog.PerSecond, cfg.RateLimit.RejectionLog.Burst),
	}

	var guards []*ratelimit.Guard

	if cfg.RateLimit.Enabled {
		policy, err := ratelimit.ParseFailurePolicy(cfg.RateLimit.FailurePolicy, ratelimit.FailOpen)
		if err != nil {
			return nil, nil, fmt.Errorf("rateLimit.failurePolicy: %w", err)
		}
		l, err := ratelimit.NewFixedWindowLimiter(s, ratelimit.Limit{
			Requests: cfg.RateLimit.MaxRequests,
			Window:   cfg.RateLimit.Window.Duration(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("general rate limiter: %w", err)
		}
		opts := append([]ratelimit.GuardOption{
			ratelimit.WithFailurePolicy(policy),
			ratelimit.WithExemptPaths(cfg.RateLimit.ExemptPaths),
		}, common...)
		guards = append(guards, ratelimit.NewGeneralGuard(l, ips, opts...))
	}

	if cfg.AuthRateLimit.Enabled {
		policy, err := ratelimit.ParseFailurePolicy(cfg.AuthRateLimit.FailurePolicy, ratelimit.FailClosed)
		if err != nil {
			return nil, nil, fmt.Errorf("authRateLimit.failurePolicy: %w", err)
		}
		l, err := ratelimit.NewAuthLimiter(s)
		if err != nil {
			return nil, nil, fmt.Errorf("auth rate limiter: %w", err)
		}
		opts := append([]ratelimit.GuardOption{
			ratelimit.WithFailurePolicy(policy),
			ratelimit.WithPaths(cfg.AuthRateLimit.Paths),
		}, common...)
		guards = append(guards, ratelimit.NewAuthGuard(l, ips, opts...))
	}

	return guards, ips, nil
}

// newResolver builds the bearer token resolver from a shared secret or a
// key set file.
func newResolver(c config.IdentityConfig, logger observability.Logger) (*identity.Resolver, error) {
	ic := identity.Config{
		Algorithm: c.Algorithm,
		Secret:    []byte(c.Secret),
		Issuer:    c.Issuer,
		Audience:  c.Audience,
		ClockSkew: c.ClockSkew.Duration(),
	}
	if c.JWKSFile != "" {
		set, err := identity.LoadKeySet(c.JWKSFile)
		if err != nil {
			return nil, err
		}
		ic.KeySet = set
	}
	return identity.NewResolver(ic, identity.WithLogger(logger))
}

// originConfig maps the CORS section onto the origin policy, keeping the
// policy defaults for lists left empty.
func originConfig(c config.CORSConfig) origin.Config {
	oc := origin.DefaultConfig()
	oc.AllowOrigins = c.AllowOrigins
	oc.AllowCredentials = c.AllowCredentials
	if len(c.AllowMethods) > 0 {
		oc.AllowMethods = c.AllowMethods
	}
	if len(c.AllowHeaders) > 0 {
		oc.AllowHeaders = c.AllowHeaders
	}
	if len(c.ExposeHeaders) > 0 {
		oc.ExposeHeaders = c.ExposeHeaders
	}
	return oc
}

// newRegistry returns the common schemas plus the configured named ones.
func newRegistry(cfg *config.GatewayConfig) (*validation.Registry, error) {
	registry := validation.NewRegistry()
	for name, s := range cfg.Schemas {
		if err := registry.Register(name, s); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// mountRoutes registers every configured route on router, each behind the
// shared pipeline extended with the route's validation stages.
func mountRoutes(
	router *mux.Router,
	cfg *config.GatewayConfig,
	base *pipeline.Pipeline,
	backend func(route string) http.Handler,
) error {
	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	decode := validation.DecodeOptions{
		MaxBodyBytes:       cfg.Validation.MaxBodyBytes,
		MaxMultipartMemory: cfg.Validation.MaxMultipartMemory,
	}
	validator := validation.NewValidator()

	for i, rc := range cfg.Routes {
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("route-%d", i)
		}

		p := base
		if rc.HasValidation() {
			compiled, err := registry.Compose(rc.Use, rc.Schema(cfg.Uploads))
			if err != nil {
				return fmt.Errorf("route %s: %w", name, err)
			}
			p = base.Route(pipeline.RouteSpec{
				Schema:    compiled,
				Validator: validator,
				Params:    pipeline.DefaultParams,
				Decode:    decode,
			})
		}

		route := router.Handle(rc.Path, p.Handler(backend(name))).Name(name)
		if len(rc.Methods) > 0 {
			methods := make([]string, 0, len(rc.Methods)+1)
			for _, m := range rc.Methods {
				methods = append(methods, strings.ToUpper(m))
			}
			// preflight requests reach the origin stage
			methods = append(methods, http.MethodOptions)
			route.Methods(methods...)
		}
	}

	return nil
}

// admittedResponse is the body written by the echo backend.
type admittedResponse struct {
	Status        string         `json:"status"`
	Route         string         `json:"route"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Validated     map[string]any `json:"validated,omitempty"`
}

// echoBackend answers admitted requests with the route name and the
// validated values. It stands in for the upstream service.
func echoBackend(route string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := admittedResponse{
			Status:        "admitted",
			Route:         route,
			CorrelationID: reqctx.CorrelationIDFromContext(r.Context()),
		}
		if res := validation.ResultFromContext(r.Context()); res != nil {
			resp.Validated = map[string]any{
				"body":    res.Body,
				"query":   res.Query,
				"params":  res.Params,
				"headers": res.Headers,
			}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	})
}
