package config

import (
	"time"

	"github.com/vyrodovalexey/admission/internal/validation"
)

// Default values.
const (
	DefaultAddress            = ":8080"
	DefaultReadTimeout        = 30 * time.Second
	DefaultWriteTimeout       = 30 * time.Second
	DefaultIdleTimeout        = 120 * time.Second
	DefaultShutdownTimeout    = 15 * time.Second
	DefaultMetricsPath        = "/metrics"
	DefaultServiceName        = "admission-gateway"
	DefaultRateLimitWindow    = 15 * time.Minute
	DefaultRateLimitRequests  = 100
	MinRateLimitWindow        = time.Second
	DefaultStoreTimeout       = 50 * time.Millisecond
	DefaultMaxFileSize        = 5 << 20
	DefaultRejectionLogPerSec = 10
)

// Store types.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// GatewayConfig is the root of the configuration document.
type GatewayConfig struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Tracing       TracingConfig       `yaml:"tracing" json:"tracing"`
	CORS          CORSConfig          `yaml:"cors" json:"cors"`
	RateLimit     RateLimitConfig     `yaml:"rateLimit" json:"rateLimit"`
	AuthRateLimit AuthRateLimitConfig `yaml:"authRateLimit" json:"authRateLimit"`
	Validation    ValidationConfig    `yaml:"validation" json:"validation"`
	Uploads       UploadsConfig       `yaml:"uploads" json:"uploads"`
	Identity      IdentityConfig      `yaml:"identity" json:"identity"`

	// Schemas are named schemas routes may reference in Use.
	Schemas map[string]validation.Schema `yaml:"schemas,omitempty" json:"schemas,omitempty"`
	Routes  []RouteConfig                `yaml:"routes,omitempty" json:"routes,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string   `yaml:"address" json:"address"`
	ReadTimeout     Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout" json:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Path      string `yaml:"path" json:"path"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
}

// CORSConfig configures the origin policy.
type CORSConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins" json:"allowOrigins"`
	AllowMethods     []string `yaml:"allowMethods,omitempty" json:"allowMethods,omitempty"`
	AllowHeaders     []string `yaml:"allowHeaders,omitempty" json:"allowHeaders,omitempty"`
	ExposeHeaders    []string `yaml:"exposeHeaders,omitempty" json:"exposeHeaders,omitempty"`
	AllowCredentials bool     `yaml:"allowCredentials" json:"allowCredentials"`
}

// RateLimitConfig configures the general rate limiter.
type RateLimitConfig struct {
	Enabled        bool        `yaml:"enabled" json:"enabled"`
	Window         Duration    `yaml:"window" json:"window"`
	MaxRequests    int         `yaml:"maxRequests" json:"maxRequests"`
	ExemptPaths    []string    `yaml:"exemptPaths,omitempty" json:"exemptPaths,omitempty"`
	FailurePolicy  string      `yaml:"failurePolicy" json:"failurePolicy"`
	TrustedProxies []string    `yaml:"trustedProxies,omitempty" json:"trustedProxies,omitempty"`
	RejectionLog   LogThrottle `yaml:"rejectionLog" json:"rejectionLog"`
	Store          StoreConfig `yaml:"store" json:"store"`
}

// AuthRateLimitConfig configures the authentication rate limiter. Its
// window and quota are fixed.
type AuthRateLimitConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Paths         []string `yaml:"paths" json:"paths"`
	FailurePolicy string   `yaml:"failurePolicy" json:"failurePolicy"`
}

// LogThrottle bounds warn-level rejection logging.
type LogThrottle struct {
	PerSecond float64 `yaml:"perSecond" json:"perSecond"`
	Burst     int     `yaml:"burst" json:"burst"`
}

// StoreConfig selects and configures the rate limit window store.
type StoreConfig struct {
	Type    string         `yaml:"type" json:"type"`
	Timeout Duration       `yaml:"timeout" json:"timeout"`
	Redis   RedisConfig    `yaml:"redis" json:"redis"`
	Breaker BreakerConfig  `yaml:"breaker" json:"breaker"`
	Memory  MemStoreConfig `yaml:"memory" json:"memory"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Address   string `yaml:"address" json:"address"`
	Password  string `yaml:"password,omitempty" json:"-"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"keyPrefix" json:"keyPrefix"`
}

// BreakerConfig configures the circuit breaker in front of a remote store.
type BreakerConfig struct {
	Enabled             bool     `yaml:"enabled" json:"enabled"`
	ConsecutiveFailures uint32   `yaml:"consecutiveFailures" json:"consecutiveFailures"`
	OpenTimeout         Duration `yaml:"openTimeout" json:"openTimeout"`
}

// MemStoreConfig configures the in-process store.
type MemStoreConfig struct {
	Stripes         int      `yaml:"stripes" json:"stripes"`
	CleanupInterval Duration `yaml:"cleanupInterval" json:"cleanupInterval"`
}

// ValidationConfig bounds request decoding.
type ValidationConfig struct {
	MaxBodyBytes       int64 `yaml:"maxBodyBytes" json:"maxBodyBytes"`
	MaxMultipartMemory int64 `yaml:"maxMultipartMemory" json:"maxMultipartMemory"`
}

// UploadsConfig holds file rule defaults applied to routes' file rules
// that leave a value unset.
type UploadsConfig struct {
	MaxFileSize   int64    `yaml:"maxFileSize" json:"maxFileSize"`
	AllowedTypes  []string `yaml:"allowedTypes,omitempty" json:"allowedTypes,omitempty"`
	DetectContent bool     `yaml:"detectContent" json:"detectContent"`
}

// IdentityConfig configures bearer token resolution. A resolved identity
// keys the general rate limiter by user instead of client address.
type IdentityConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Algorithm string   `yaml:"algorithm" json:"algorithm"`
	Secret    string   `yaml:"secret,omitempty" json:"-"`
	JWKSFile  string   `yaml:"jwksFile,omitempty" json:"jwksFile,omitempty"`
	Issuer    string   `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Audience  string   `yaml:"audience,omitempty" json:"audience,omitempty"`
	ClockSkew Duration `yaml:"clockSkew" json:"clockSkew"`
}

// RouteConfig declares one admitted route and its validation schema.
type RouteConfig struct {
	Name    string                `yaml:"name" json:"name"`
	Path    string                `yaml:"path" json:"path"`
	Methods []string              `yaml:"methods,omitempty" json:"methods,omitempty"`
	Use     []string              `yaml:"use,omitempty" json:"use,omitempty"`
	Body    validation.Part       `yaml:"body,omitempty" json:"body,omitempty"`
	Query   validation.Part       `yaml:"query,omitempty" json:"query,omitempty"`
	Params  validation.Part       `yaml:"params,omitempty" json:"params,omitempty"`
	Headers validation.Part       `yaml:"headers,omitempty" json:"headers,omitempty"`
	Files   []validation.FileRule `yaml:"files,omitempty" json:"files,omitempty"`
}

// Schema returns the route's own schema, without the Use references.
// Upload defaults fill unset file rule values.
func (r RouteConfig) Schema(uploads UploadsConfig) validation.Schema {
	s := validation.Schema{
		Body:    r.Body,
		Query:   r.Query,
		Params:  r.Params,
		Headers: r.Headers,
	}
	for _, f := range r.Files {
		if f.MaxSize == 0 {
			f.MaxSize = uploads.MaxFileSize
		}
		if len(f.AllowedTypes) == 0 {
			f.AllowedTypes = uploads.AllowedTypes
		}
		f.DetectContent = f.DetectContent || uploads.DetectContent
		s.Files = append(s.Files, f)
	}
	return s
}

// HasValidation reports whether the route declares any schema.
func (r RouteConfig) HasValidation() bool {
	return len(r.Use) > 0 || r.Body != nil || r.Query != nil || r.Params != nil ||
		r.Headers != nil || len(r.Files) > 0
}

// DefaultConfig returns the configuration used for omitted values.
func DefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		Server: ServerConfig{
			Address:         DefaultAddress,
			ReadTimeout:     Duration(DefaultReadTimeout),
			WriteTimeout:    Duration(DefaultWriteTimeout),
			IdleTimeout:     Duration(DefaultIdleTimeout),
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Metrics: MetricsConfig{Enabled: true, Path: DefaultMetricsPath, Namespace: "admission"},
		Tracing: TracingConfig{ServiceName: DefaultServiceName, SamplingRate: 1.0},
		CORS: CORSConfig{
			AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Correlation-ID"},
			ExposeHeaders: []string{
				"RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset", "Retry-After", "X-Correlation-ID",
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Window:        Duration(DefaultRateLimitWindow),
			MaxRequests:   DefaultRateLimitRequests,
			ExemptPaths:   []string{"/health", "/ready", "/live", "/metrics"},
			FailurePolicy: "open",
			RejectionLog:  LogThrottle{PerSecond: DefaultRejectionLogPerSec, Burst: 2 * DefaultRejectionLogPerSec},
			Store: StoreConfig{
				Type:    StoreMemory,
				Timeout: Duration(DefaultStoreTimeout),
				Redis:   RedisConfig{Address: "localhost:6379", KeyPrefix: "admission:ratelimit:"},
				Breaker: BreakerConfig{Enabled: true, ConsecutiveFailures: 5, OpenTimeout: Duration(10 * time.Second)},
				Memory:  MemStoreConfig{Stripes: 64, CleanupInterval: Duration(time.Minute)},
			},
		},
		AuthRateLimit: AuthRateLimitConfig{
			Enabled:       true,
			Paths:         []string{"/api/auth"},
			FailurePolicy: "closed",
		},
		Validation: ValidationConfig{
			MaxBodyBytes:       validation.DefaultMaxBodyBytes,
			MaxMultipartMemory: validation.DefaultMaxMultipartMemory,
		},
		Uploads:  UploadsConfig{MaxFileSize: DefaultMaxFileSize},
		Identity: IdentityConfig{Algorithm: "HS256", ClockSkew: Duration(30 * time.Second)},
	}
}
