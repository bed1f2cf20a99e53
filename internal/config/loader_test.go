package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/admission/internal/validation"
)

const sampleYAML = `
server:
  address: ":9090"
cors:
  allowOrigins:
    - https://app.example.com
  allowCredentials: true
rateLimit:
  window: 1m
  maxRequests: ${RL_MAX:-60}
  trustedProxies: ["10.0.0.0/8"]
  store:
    type: redis
    redis:
      address: ${REDIS_ADDR}
      password: ${REDIS_PASSWORD:-}
routes:
  - name: list-items
    path: /api/items
    methods: [GET]
    use: [pagination]
  - name: create-item
    path: /api/items
    methods: [POST]
    body:
      name:
        type: string
        required: true
        maxLength: 64
      price:
        type: number
        min: 0
    files:
      - field: image
        allowedTypes: ["image/png"]
`

func fixedEnv(values map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := values[k]
		return v, ok
	}
}

func TestLoader_LoadFromReader(t *testing.T) {
	t.Parallel()

	l := NewLoader(WithLookupEnv(fixedEnv(map[string]string{"REDIS_ADDR": "redis:6379"})))
	cfg, err := l.LoadFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(cfg))

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window.Duration())
	assert.Equal(t, 60, cfg.RateLimit.MaxRequests)
	assert.Equal(t, "redis:6379", cfg.RateLimit.Store.Redis.Address)
	assert.Empty(t, cfg.RateLimit.Store.Redis.Password)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORS.AllowOrigins)
	assert.True(t, cfg.CORS.AllowCredentials)

	// Values the document omits keep their defaults.
	assert.Equal(t, DefaultConfig().Server.ShutdownTimeout, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "closed", cfg.AuthRateLimit.FailurePolicy)
	assert.Equal(t, "admission:ratelimit:", cfg.RateLimit.Store.Redis.KeyPrefix)

	require.Len(t, cfg.Routes, 2)
	assert.Equal(t, []string{"pagination"}, cfg.Routes[0].Use)
	name := cfg.Routes[1].Body["name"]
	assert.Equal(t, validation.TypeString, name.Type)
	assert.True(t, name.Required)
	require.NotNil(t, name.MaxLength)
	assert.Equal(t, 64, *name.MaxLength)
	require.Len(t, cfg.Routes[1].Files, 1)
	assert.Equal(t, "image", cfg.Routes[1].Files[0].Field)
}

func TestLoader_EmptyDocumentYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := LoadConfigFromReader(strings.NewReader("rateLimit:\n  maxRequest: 5\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxRequest")
}

func TestLoader_InvalidDuration(t *testing.T) {
	t.Parallel()

	_, err := LoadConfigFromReader(strings.NewReader("rateLimit:\n  window: fortnight\n"))
	assert.Error(t, err)
}

func TestLoader_SubstituteEnvVars(t *testing.T) {
	t.Parallel()

	l := NewLoader(WithLookupEnv(fixedEnv(map[string]string{"SET": "value", "EMPTY": ""})))

	tests := []struct {
		in   string
		want string
	}{
		{in: "${SET}", want: "value"},
		{in: "${MISSING}", want: ""},
		{in: "${MISSING:-fallback}", want: "fallback"},
		{in: "${EMPTY:-fallback}", want: ""},
		{in: "$${SET}", want: "${SET}"},
		{in: "a-${SET}-b", want: "a-value-b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.substituteEnvVars(tt.in), tt.in)
	}
}

func TestLoader_EnvFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("RL_MAX=7\nREDIS_ADDR=from-file:6379\n"), 0o600))

	configFile := filepath.Join(dir, "admission.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(sampleYAML), 0o600))

	l := NewLoader(
		WithEnvFiles(envFile, filepath.Join(dir, "missing.env")),
		WithLookupEnv(fixedEnv(map[string]string{"REDIS_ADDR": "from-process:6379"})),
	)
	cfg, err := l.Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.RateLimit.MaxRequests)
	assert.Equal(t, "from-process:6379", cfg.RateLimit.Store.Redis.Address, "process environment wins")
}

func TestLoader_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestResolveConfigPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "admission.yaml")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o600))

	got, err := ResolveConfigPath(file)
	require.NoError(t, err)
	assert.Equal(t, file, got)

	_, err = ResolveConfigPath(filepath.Join(dir, "other.yaml"))
	assert.Error(t, err)
}

func TestLoader_ShippedConfig(t *testing.T) {
	t.Parallel()

	l := NewLoader(WithLookupEnv(fixedEnv(nil)))
	cfg, err := l.Load(filepath.Join("..", "..", "configs", "admission.yaml"))
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(cfg))

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, StoreMemory, cfg.RateLimit.Store.Type)
	assert.Equal(t, "localhost:6379", cfg.RateLimit.Store.Redis.Address)
	assert.False(t, cfg.Identity.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Identity.ClockSkew.Duration())
	assert.Len(t, cfg.Routes, 5)
	assert.Contains(t, cfg.Schemas, "createUser")
}
