package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/admission/internal/observability"
)

const watchedYAML = `
cors:
  allowOrigins: ["https://one.example.com"]
`

const updatedYAML = `
cors:
  allowOrigins: ["https://one.example.com", "https://two.example.com"]
`

const invalidYAML = `
rateLimit:
  maxRequests: -5
`

// writeConfig replaces path atomically so the watcher never reads a
// half-written file.
func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

type reloads struct {
	mu      sync.Mutex
	configs []*GatewayConfig
	errs    []error
}

func (r *reloads) onConfig(c *GatewayConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, c)
}

func (r *reloads) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *reloads) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.configs), len(r.errs)
}

func newTestWatcher(t *testing.T, path string, r *reloads) *Watcher {
	t.Helper()

	w, err := NewWatcher(path, r.onConfig,
		WithDebounceDelay(10*time.Millisecond),
		WithErrorCallback(r.onError),
		WithLogger(observability.NopLogger()),
		WithLoader(NewLoader()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestWatcher_StartLoadsInitialConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "admission.yaml")
	writeConfig(t, path, watchedYAML)

	r := &reloads{}
	w := newTestWatcher(t, path, r)
	require.NoError(t, w.Start(context.Background()))

	require.NotNil(t, w.GetLastConfig())
	assert.Equal(t, []string{"https://one.example.com"}, w.GetLastConfig().CORS.AllowOrigins)

	n, _ := r.counts()
	assert.Zero(t, n, "initial load does not invoke the callback")
}

func TestWatcher_StartFailsOnInvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "admission.yaml")
	writeConfig(t, path, invalidYAML)

	w := newTestWatcher(t, path, &reloads{})
	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "admission.yaml")
	writeConfig(t, path, watchedYAML)

	r := &reloads{}
	w := newTestWatcher(t, path, r)
	require.NoError(t, w.Start(context.Background()))

	writeConfig(t, path, updatedYAML)

	require.Eventually(t, func() bool {
		n, _ := r.counts()
		return n >= 1 && len(w.GetLastConfig().CORS.AllowOrigins) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_KeepsPreviousConfigOnInvalidReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "admission.yaml")
	writeConfig(t, path, watchedYAML)

	r := &reloads{}
	w := newTestWatcher(t, path, r)
	require.NoError(t, w.Start(context.Background()))

	writeConfig(t, path, invalidYAML)

	require.Eventually(t, func() bool {
		_, e := r.counts()
		return e >= 1
	}, 5*time.Second, 10*time.Millisecond)

	n, _ := r.counts()
	assert.Zero(t, n)
	assert.Equal(t, []string{"https://one.example.com"}, w.GetLastConfig().CORS.AllowOrigins)
}

func TestWatcher_ForceReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "admission.yaml")
	writeConfig(t, path, watchedYAML)

	r := &reloads{}
	w := newTestWatcher(t, path, r)

	writeConfig(t, path, updatedYAML)
	require.NoError(t, w.ForceReload())

	n, _ := r.counts()
	assert.Equal(t, 1, n)
	assert.Len(t, w.GetLastConfig().CORS.AllowOrigins, 2)

	writeConfig(t, path, invalidYAML)
	assert.Error(t, w.ForceReload())
	assert.Len(t, w.GetLastConfig().CORS.AllowOrigins, 2)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "admission.yaml")
	writeConfig(t, path, watchedYAML)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
