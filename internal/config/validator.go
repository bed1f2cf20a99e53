package config

import (
	"fmt"
	"mime"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"

	"github.com/vyrodovalexey/admission/internal/validation"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Paths returns the paths of the errors in order.
func (e ValidationErrors) Paths() []string {
	out := make([]string, len(e))
	for i, err := range e {
		out[i] = err.Path
	}
	return out
}

var (
	logLevels       = []string{"debug", "info", "warn", "error"}
	logFormats      = []string{"json", "console"}
	failurePolicies = []string{"", "open", "closed"}
	httpMethods     = []string{
		http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}
)

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(config *GatewayConfig) error {
	v := NewValidator()
	return v.Validate(config)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *GatewayConfig) error {
	v.errors = make(ValidationErrors, 0)

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&config.Server)
	v.validateLogging(&config.Logging)
	v.validateMetrics(&config.Metrics)
	v.validateTracing(&config.Tracing)
	v.validateCORS(&config.CORS)
	v.validateRateLimit(&config.RateLimit)
	v.validateAuthRateLimit(&config.AuthRateLimit)
	v.validateBodyLimits(&config.Validation)
	v.validateUploads(&config.Uploads)
	v.validateIdentity(&config.Identity)
	v.validateRoutes(config)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateServer(s *ServerConfig) {
	if s.Address == "" {
		v.addError("server.address", "address is required")
	}
	for name, d := range map[string]Duration{
		"readTimeout":  s.ReadTimeout,
		"writeTimeout": s.WriteTimeout,
		"idleTimeout":  s.IdleTimeout,
	} {
		if d < 0 {
			v.addError("server."+name, "must not be negative")
		}
	}
	if s.ShutdownTimeout <= 0 {
		v.addError("server.shutdownTimeout", "must be positive")
	}
}

func (v *Validator) validateLogging(l *LoggingConfig) {
	if !slices.Contains(logLevels, strings.ToLower(l.Level)) {
		v.addError("logging.level", fmt.Sprintf("must be one of %s", strings.Join(logLevels, ", ")))
	}
	if !slices.Contains(logFormats, l.Format) {
		v.addError("logging.format", fmt.Sprintf("must be one of %s", strings.Join(logFormats, ", ")))
	}
}

func (v *Validator) validateMetrics(m *MetricsConfig) {
	if m.Enabled && !strings.HasPrefix(m.Path, "/") {
		v.addError("metrics.path", "must start with /")
	}
}

func (v *Validator) validateTracing(t *TracingConfig) {
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		v.addError("tracing.samplingRate", "must be between 0 and 1")
	}
	if t.Enabled && t.OTLPEndpoint == "" {
		v.addError("tracing.otlpEndpoint", "is required when tracing is enabled")
	}
}

func (v *Validator) validateCORS(c *CORSConfig) {
	wildcard := false
	for i, o := range c.AllowOrigins {
		path := fmt.Sprintf("cors.allowOrigins[%d]", i)
		if o == "*" {
			wildcard = true
			continue
		}
		if err := checkOrigin(o); err != nil {
			v.addError(path, err.Error())
		}
	}
	if wildcard && c.AllowCredentials {
		v.addError("cors.allowCredentials", "cannot be combined with a wildcard origin")
	}
	for i, m := range c.AllowMethods {
		if !slices.Contains(httpMethods, m) {
			v.addError(fmt.Sprintf("cors.allowMethods[%d]", i), fmt.Sprintf("unknown method %q", m))
		}
	}
}

// checkOrigin accepts scheme://host[:port] with nothing after the authority.
func checkOrigin(o string) error {
	u, err := url.Parse(o)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("origin %q must be scheme://host[:port]", o)
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return fmt.Errorf("origin %q must not carry a path, query or credentials", o)
	}
	if strings.HasSuffix(o, "/") {
		return fmt.Errorf("origin %q must not end with /", o)
	}
	return nil
}

func (v *Validator) validateRateLimit(r *RateLimitConfig) {
	if !slices.Contains(failurePolicies, r.FailurePolicy) {
		v.addError("rateLimit.failurePolicy", "must be open or closed")
	}
	for i, p := range r.TrustedProxies {
		if !validAddrOrPrefix(p) {
			v.addError(fmt.Sprintf("rateLimit.trustedProxies[%d]", i), fmt.Sprintf("%q is not an IP address or CIDR", p))
		}
	}
	v.validatePaths("rateLimit.exemptPaths", r.ExemptPaths)
	if r.RejectionLog.PerSecond < 0 || r.RejectionLog.Burst < 0 {
		v.addError("rateLimit.rejectionLog", "must not be negative")
	}
	v.validateStore(&r.Store)

	if !r.Enabled {
		return
	}
	if r.Window.Duration() < MinRateLimitWindow {
		v.addError("rateLimit.window", fmt.Sprintf("must be at least %s", MinRateLimitWindow))
	}
	if r.MaxRequests <= 0 {
		v.addError("rateLimit.maxRequests", "must be positive")
	}
}

func validAddrOrPrefix(s string) bool {
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

func (v *Validator) validateStore(s *StoreConfig) {
	switch s.Type {
	case StoreMemory:
		if s.Memory.Stripes < 0 {
			v.addError("rateLimit.store.memory.stripes", "must not be negative")
		}
	case StoreRedis:
		if s.Redis.Address == "" {
			v.addError("rateLimit.store.redis.address", "is required for the redis store")
		}
	default:
		v.addError("rateLimit.store.type", fmt.Sprintf("must be %s or %s", StoreMemory, StoreRedis))
	}
	if s.Timeout <= 0 {
		v.addError("rateLimit.store.timeout", "must be positive")
	}
}

func (v *Validator) validateAuthRateLimit(a *AuthRateLimitConfig) {
	if !slices.Contains(failurePolicies, a.FailurePolicy) {
		v.addError("authRateLimit.failurePolicy", "must be open or closed")
	}
	if a.Enabled && len(a.Paths) == 0 {
		v.addError("authRateLimit.paths", "at least one path is required")
	}
	v.validatePaths("authRateLimit.paths", a.Paths)
}

func (v *Validator) validatePaths(path string, paths []string) {
	for i, p := range paths {
		if !strings.HasPrefix(p, "/") {
			v.addError(fmt.Sprintf("%s[%d]", path, i), "must start with /")
		}
	}
}

func (v *Validator) validateBodyLimits(c *ValidationConfig) {
	if c.MaxBodyBytes <= 0 {
		v.addError("validation.maxBodyBytes", "must be positive")
	}
	if c.MaxMultipartMemory <= 0 {
		v.addError("validation.maxMultipartMemory", "must be positive")
	}
}

func (v *Validator) validateUploads(u *UploadsConfig) {
	if u.MaxFileSize < 0 {
		v.addError("uploads.maxFileSize", "must not be negative")
	}
	for i, t := range u.AllowedTypes {
		if _, _, err := mime.ParseMediaType(t); err != nil {
			v.addError(fmt.Sprintf("uploads.allowedTypes[%d]", i), fmt.Sprintf("invalid media type %q", t))
		}
	}
}

var hmacAlgorithms = []string{"HS256", "HS384", "HS512"}

func (v *Validator) validateIdentity(c *IdentityConfig) {
	if c.ClockSkew < 0 {
		v.addError("identity.clockSkew", "must not be negative")
	}
	if !c.Enabled {
		return
	}
	switch {
	case c.Secret != "" && c.JWKSFile != "":
		v.addError("identity", "secret and jwksFile are mutually exclusive")
	case c.Secret == "" && c.JWKSFile == "":
		v.addError("identity", "secret or jwksFile is required when enabled")
	case c.Secret != "" && !slices.Contains(hmacAlgorithms, strings.ToUpper(c.Algorithm)):
		v.addError("identity.algorithm", fmt.Sprintf("must be one of %s", strings.Join(hmacAlgorithms, ", ")))
	}
}

func (v *Validator) validateRoutes(config *GatewayConfig) {
	registry := validation.NewRegistry()
	for name, s := range config.Schemas {
		if err := registry.Register(name, s); err != nil {
			v.addError("schemas."+name, err.Error())
		}
	}

	names := make(map[string]bool)
	for i, route := range config.Routes {
		path := fmt.Sprintf("routes[%d]", i)

		switch {
		case route.Name == "":
		case names[route.Name]:
			v.addError(path+".name", fmt.Sprintf("duplicate route name: %s", route.Name))
		default:
			names[route.Name] = true
		}

		if !strings.HasPrefix(route.Path, "/") {
			v.addError(path+".path", "must start with /")
		}
		for j, m := range route.Methods {
			if !slices.Contains(httpMethods, strings.ToUpper(m)) {
				v.addError(fmt.Sprintf("%s.methods[%d]", path, j), fmt.Sprintf("unknown method %q", m))
			}
		}

		if _, err := registry.Compose(route.Use, route.Schema(config.Uploads)); err != nil {
			v.addError(path, err.Error())
		}
	}
}
