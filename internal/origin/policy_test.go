package origin

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/admission/internal/apierror"
)

func testConfig(origins ...string) Config {
	cfg := DefaultConfig()
	cfg.AllowOrigins = origins
	return cfg
}

func TestPolicy_Decide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		origins   []string
		origin    string
		wantErr   bool
		wantCross bool
	}{
		{name: "absent origin allowed", origins: []string{"https://app.example.com"}, origin: ""},
		{name: "absent origin with empty list", origins: nil, origin: ""},
		{name: "exact match", origins: []string{"https://app.example.com"}, origin: "https://app.example.com", wantCross: true},
		{name: "unlisted origin", origins: []string{"https://app.example.com"}, origin: "https://evil.example", wantErr: true},
		{name: "no subdomain patterns", origins: []string{"*.example.com"}, origin: "https://app.example.com", wantErr: true},
		{name: "scheme must match", origins: []string{"https://app.example.com"}, origin: "http://app.example.com", wantErr: true},
		{name: "wildcard", origins: []string{"*"}, origin: "https://anything.test", wantCross: true},
		{name: "empty list rejects", origins: nil, origin: "https://app.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d, err := NewPolicy(testConfig(tt.origins...)).Decide(tt.origin)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apierror.ErrOriginNotAllowed))

				var apiErr *apierror.Error
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
				assert.Equal(t, apierror.CodeOriginNotAllowed, apiErr.Code)
				assert.NotContains(t, apiErr.Message, tt.origin)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCross, d.CrossOrigin())
			if !tt.wantCross {
				assert.Empty(t, d.Headers)
			}
		})
	}
}

func TestPolicy_Headers(t *testing.T) {
	t.Parallel()

	cfg := testConfig("https://app.example.com")
	cfg.AllowCredentials = true

	d, err := NewPolicy(cfg).Decide("https://app.example.com")
	require.NoError(t, err)

	assert.Equal(t, "https://app.example.com", d.Headers.Get(HeaderAllowOrigin))
	assert.Equal(t, "Origin", d.Headers.Get(HeaderVary))
	assert.Equal(t, "86400", d.Headers.Get(HeaderMaxAge))
	assert.Equal(t, "true", d.Headers.Get(HeaderAllowCredentials))
	assert.Contains(t, d.Headers.Get(HeaderAllowMethods), "PATCH")
	assert.Contains(t, d.Headers.Get(HeaderAllowHeaders), "Authorization")
	assert.Contains(t, d.Headers.Get(HeaderExposeHeaders), "RateLimit-Remaining")
}

func TestPolicy_WildcardEchoesOrigin(t *testing.T) {
	t.Parallel()

	d, err := NewPolicy(testConfig("*")).Decide("https://a.test")
	require.NoError(t, err)
	assert.Equal(t, "https://a.test", d.Headers.Get(HeaderAllowOrigin))
	assert.Empty(t, d.Headers.Get(HeaderAllowCredentials))
}

func TestDecision_ApplyKeepsExistingVary(t *testing.T) {
	t.Parallel()

	d, err := NewPolicy(testConfig("https://a.test")).Decide("https://a.test")
	require.NoError(t, err)

	h := http.Header{}
	h.Set(HeaderVary, "Accept-Encoding")
	d.Apply(h)

	assert.Equal(t, []string{"Accept-Encoding", "Origin"}, h.Values(HeaderVary))
	assert.Equal(t, "https://a.test", h.Get(HeaderAllowOrigin))
}

func TestPolicy_Origins(t *testing.T) {
	t.Parallel()

	p := NewPolicy(testConfig(" https://b.test", "https://a.test", "*", ""))
	assert.Equal(t, []string{"https://a.test", "https://b.test", "*"}, p.Origins())
}

func TestIsPreflight(t *testing.T) {
	t.Parallel()

	assert.True(t, IsPreflight(httptest.NewRequest(http.MethodOptions, "/", nil)))
	assert.False(t, IsPreflight(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestReloadable(t *testing.T) {
	t.Parallel()

	r := NewReloadable(NewPolicy(testConfig("https://old.test")))

	_, err := r.Decide("https://new.test")
	require.Error(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Decide("https://old.test")
		}()
	}
	r.Store(NewPolicy(testConfig("https://new.test")))
	wg.Wait()

	_, err = r.Decide("https://new.test")
	assert.NoError(t, err)
	_, err = r.Decide("https://old.test")
	assert.Error(t, err)
}
