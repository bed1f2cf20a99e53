package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/admission/internal/validation"
)

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*GatewayConfig)
		wantPath string
	}{
		{name: "empty address", mutate: func(c *GatewayConfig) { c.Server.Address = "" }, wantPath: "server.address"},
		{name: "zero shutdown timeout", mutate: func(c *GatewayConfig) { c.Server.ShutdownTimeout = 0 }, wantPath: "server.shutdownTimeout"},
		{name: "bad log level", mutate: func(c *GatewayConfig) { c.Logging.Level = "verbose" }, wantPath: "logging.level"},
		{name: "bad log format", mutate: func(c *GatewayConfig) { c.Logging.Format = "xml" }, wantPath: "logging.format"},
		{name: "metrics path", mutate: func(c *GatewayConfig) { c.Metrics.Path = "metrics" }, wantPath: "metrics.path"},
		{name: "sampling rate", mutate: func(c *GatewayConfig) { c.Tracing.SamplingRate = 2 }, wantPath: "tracing.samplingRate"},
		{name: "tracing endpoint", mutate: func(c *GatewayConfig) { c.Tracing.Enabled = true }, wantPath: "tracing.otlpEndpoint"},
		{name: "origin with path", mutate: func(c *GatewayConfig) { c.CORS.AllowOrigins = []string{"https://a.example.com/app"} }, wantPath: "cors.allowOrigins[0]"},
		{name: "origin without scheme", mutate: func(c *GatewayConfig) { c.CORS.AllowOrigins = []string{"a.example.com"} }, wantPath: "cors.allowOrigins[0]"},
		{name: "wildcard with credentials", mutate: func(c *GatewayConfig) {
			c.CORS.AllowOrigins = []string{"*"}
			c.CORS.AllowCredentials = true
		}, wantPath: "cors.allowCredentials"},
		{name: "cors method", mutate: func(c *GatewayConfig) { c.CORS.AllowMethods = []string{"FETCH"} }, wantPath: "cors.allowMethods[0]"},
		{name: "window", mutate: func(c *GatewayConfig) { c.RateLimit.Window = 0 }, wantPath: "rateLimit.window"},
		{name: "sub-second window", mutate: func(c *GatewayConfig) { c.RateLimit.Window = Duration(500 * time.Microsecond) }, wantPath: "rateLimit.window"},
		{name: "max requests", mutate: func(c *GatewayConfig) { c.RateLimit.MaxRequests = 0 }, wantPath: "rateLimit.maxRequests"},
		{name: "failure policy", mutate: func(c *GatewayConfig) { c.RateLimit.FailurePolicy = "maybe" }, wantPath: "rateLimit.failurePolicy"},
		{name: "trusted proxy", mutate: func(c *GatewayConfig) { c.RateLimit.TrustedProxies = []string{"proxy.local"} }, wantPath: "rateLimit.trustedProxies[0]"},
		{name: "exempt path", mutate: func(c *GatewayConfig) { c.RateLimit.ExemptPaths = []string{"health"} }, wantPath: "rateLimit.exemptPaths[0]"},
		{name: "store type", mutate: func(c *GatewayConfig) { c.RateLimit.Store.Type = "etcd" }, wantPath: "rateLimit.store.type"},
		{name: "redis address", mutate: func(c *GatewayConfig) {
			c.RateLimit.Store.Type = StoreRedis
			c.RateLimit.Store.Redis.Address = ""
		}, wantPath: "rateLimit.store.redis.address"},
		{name: "store timeout", mutate: func(c *GatewayConfig) { c.RateLimit.Store.Timeout = 0 }, wantPath: "rateLimit.store.timeout"},
		{name: "auth paths", mutate: func(c *GatewayConfig) { c.AuthRateLimit.Paths = nil }, wantPath: "authRateLimit.paths"},
		{name: "auth policy", mutate: func(c *GatewayConfig) { c.AuthRateLimit.FailurePolicy = "never" }, wantPath: "authRateLimit.failurePolicy"},
		{name: "body limit", mutate: func(c *GatewayConfig) { c.Validation.MaxBodyBytes = 0 }, wantPath: "validation.maxBodyBytes"},
		{name: "upload type", mutate: func(c *GatewayConfig) { c.Uploads.AllowedTypes = []string{"/"} }, wantPath: "uploads.allowedTypes[0]"},
		{name: "identity without key", mutate: func(c *GatewayConfig) { c.Identity.Enabled = true }, wantPath: "identity"},
		{name: "identity with both keys", mutate: func(c *GatewayConfig) {
			c.Identity = IdentityConfig{Enabled: true, Algorithm: "HS256", Secret: "s", JWKSFile: "/etc/jwks.json"}
		}, wantPath: "identity"},
		{name: "identity algorithm", mutate: func(c *GatewayConfig) {
			c.Identity = IdentityConfig{Enabled: true, Algorithm: "RS256", Secret: "s"}
		}, wantPath: "identity.algorithm"},
		{name: "identity clock skew", mutate: func(c *GatewayConfig) { c.Identity.ClockSkew = -1 }, wantPath: "identity.clockSkew"},
		{name: "route path", mutate: func(c *GatewayConfig) { c.Routes = []RouteConfig{{Path: "items"}} }, wantPath: "routes[0].path"},
		{name: "route method", mutate: func(c *GatewayConfig) { c.Routes = []RouteConfig{{Path: "/items", Methods: []string{"FETCH"}}} }, wantPath: "routes[0].methods[0]"},
		{name: "duplicate route", mutate: func(c *GatewayConfig) {
			c.Routes = []RouteConfig{{Name: "a", Path: "/a"}, {Name: "a", Path: "/b"}}
		}, wantPath: "routes[1].name"},
		{name: "unknown schema reference", mutate: func(c *GatewayConfig) {
			c.Routes = []RouteConfig{{Path: "/a", Use: []string{"nope"}}}
		}, wantPath: "routes[0]"},
		{name: "bad route schema", mutate: func(c *GatewayConfig) {
			c.Routes = []RouteConfig{{Path: "/a", Body: validation.Part{"x": {Type: "date"}}}}
		}, wantPath: "routes[0]"},
		{name: "bad named schema", mutate: func(c *GatewayConfig) {
			c.Schemas = map[string]validation.Schema{"broken": {Query: validation.Part{"x": {Pattern: "("}}}}
		}, wantPath: "schemas.broken"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.Contains(t, verrs.Paths(), tt.wantPath)
		})
	}
}

func TestValidateConfig_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Server.Address = ""
	cfg.RateLimit.MaxRequests = -1
	cfg.Logging.Level = "loud"

	err := ValidateConfig(cfg)
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 3)
	assert.Contains(t, err.Error(), "3 validation errors")
}

func TestValidateConfig_NamedSchemasAreUsable(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Schemas = map[string]validation.Schema{
		"tenant": {Headers: validation.Part{"x-tenant": {Required: true}}},
	}
	cfg.Routes = []RouteConfig{{Path: "/api/items", Use: []string{"tenant", "pagination"}}}

	assert.NoError(t, ValidateConfig(cfg))
}

func TestValidateConfig_Nil(t *testing.T) {
	t.Parallel()
	assert.Error(t, ValidateConfig(nil))
}

func TestValidationError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a.b: bad", (&ValidationError{Path: "a.b", Message: "bad"}).Error())
	assert.Equal(t, "bad", (&ValidationError{Message: "bad"}).Error())
	assert.Equal(t, "no validation errors", ValidationErrors{}.Error())
	assert.False(t, ValidationErrors{}.HasErrors())
}
