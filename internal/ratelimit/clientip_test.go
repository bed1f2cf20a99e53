package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIPExtractor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		trusted []string
		remote  string
		xff     string
		xri     string
		want    string
	}{
		{name: "no trusted proxies ignores headers", remote: "203.0.113.5:1234", xff: "1.1.1.1", want: "203.0.113.5"},
		{name: "untrusted peer ignores headers", trusted: []string{"10.0.0.0/8"}, remote: "203.0.113.5:1", xff: "1.1.1.1", want: "203.0.113.5"},
		{name: "trusted peer uses xff", trusted: []string{"10.0.0.0/8"}, remote: "10.1.2.3:1", xff: "198.51.100.7", want: "198.51.100.7"},
		{name: "right-most untrusted hop", trusted: []string{"10.0.0.0/8"}, remote: "10.1.2.3:1", xff: "6.6.6.6, 198.51.100.7, 10.9.9.9", want: "198.51.100.7"},
		{name: "all hops trusted falls back", trusted: []string{"10.0.0.0/8"}, remote: "10.1.2.3:1", xff: "10.0.0.9", want: "10.1.2.3"},
		{name: "x-real-ip from trusted peer", trusted: []string{"10.1.2.3"}, remote: "10.1.2.3:1", xri: "198.51.100.8", want: "198.51.100.8"},
		{name: "remote without port", remote: "198.51.100.9", want: "198.51.100.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e, invalid := NewClientIPExtractor(tt.trusted)
			assert.Empty(t, invalid)

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set(HeaderXForwardedFor, tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set(HeaderXRealIP, tt.xri)
			}
			assert.Equal(t, tt.want, e.Extract(r))
		})
	}
}

func TestNewClientIPExtractor_Invalid(t *testing.T) {
	t.Parallel()

	_, invalid := NewClientIPExtractor([]string{"10.0.0.0/8", "not-an-ip", "", "::1"})
	assert.Equal(t, []string{"not-an-ip"}, invalid)
}
