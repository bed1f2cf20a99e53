package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/admission/internal/config"
	"github.com/vyrodovalexey/admission/internal/observability"
)

const testConfigYAML = `
server:
  address: "127.0.0.1:0"
  shutdownTimeout: 2s
logging:
  level: warn
metrics:
  namespace: cmdtest
cors:
  allowOrigins:
    - https://app.example.com
routes:
  - name: get-user
    path: /api/users/{id}
    methods: [GET]
    use: [idParam]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "admission.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseFlags(t *testing.T) {
	t.Setenv("ADMISSION_CONFIG_PATH", "/etc/admission/custom.yaml")
	t.Setenv("ADMISSION_WATCH_CONFIG", "off")

	f := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-log-level", "debug"})

	assert.Equal(t, "/etc/admission/custom.yaml", f.configPath)
	assert.Equal(t, "debug", f.logLevel)
	assert.Equal(t, "json", f.logFormat)
	assert.False(t, f.watch)
	assert.False(t, f.showVersion)
}

func TestParseFlags_Defaults(t *testing.T) {
	t.Setenv("ADMISSION_CONFIG_PATH", "")
	t.Setenv("ADMISSION_LOG_LEVEL", "")

	f := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), nil)

	assert.Equal(t, defaultConfigFile, f.configPath)
	assert.Empty(t, f.logLevel)
	assert.True(t, f.watch)
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value    string
		def      bool
		expected bool
	}{
		{"", true, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"no", true, false},
		{"Off", true, false},
		{"maybe", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("ADMISSION_TEST_BOOL", tt.value)
			assert.Equal(t, tt.expected, getEnvBool("ADMISSION_TEST_BOOL", tt.def))
		})
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("ADMISSION_TEST_VALUE", "set")
	assert.Equal(t, "set", getEnvOrDefault("ADMISSION_TEST_VALUE", "default"))
	assert.Equal(t, "default", getEnvOrDefault("ADMISSION_TEST_UNSET_VALUE", "default"))
}

func TestRun_StartsAndStops(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, testConfigYAML)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cliFlags{configPath: path, logLevel: "error", watch: true}, observability.NopLogger())
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	err := run(context.Background(), cliFlags{configPath: filepath.Join(t.TempDir(), "missing.yaml")},
		observability.NopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")

	path := writeConfig(t, "cors:\n  allowOrigins: [\"*\"]\n  allowCredentials: true\n")
	err = run(context.Background(), cliFlags{configPath: path, logLevel: "error"}, observability.NopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestApplication_HandleReload(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, testConfigYAML)
	cfg, err := loadConfig(path, observability.NopLogger())
	require.NoError(t, err)

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.gateway.Close() })

	next := config.DefaultConfig()
	next.CORS.AllowOrigins = []string{"https://admin.example.com"}
	app.handleReload(next)
	assert.Same(t, next, app.gateway.Config())

	bad := config.DefaultConfig()
	bad.Server.Address = ""
	app.handleReload(bad)
	app.reloads.record(errors.New("parse error"))

	assert.Equal(t, 1.0, testutil.ToFloat64(app.reloads.total.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(app.reloads.total.WithLabelValues("failure")))
	assert.Same(t, next, app.gateway.Config())
}

func TestLoggerFromConfig(t *testing.T) {
	t.Parallel()

	base := observability.NopLogger()
	cfg := config.DefaultConfig()

	assert.Same(t, base, loggerFromConfig(cliFlags{logLevel: "debug"}, cfg, base))

	cfg.Logging.Level = "loud"
	assert.Same(t, base, loggerFromConfig(cliFlags{}, cfg, base))
}
