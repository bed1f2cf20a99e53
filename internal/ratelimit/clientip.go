package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Forwarding headers honoured from trusted proxies.
const (
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderXRealIP       = "X-Real-IP"
)

// ClientIPExtractor derives the caller address of a request. Forwarding
// headers are only believed when the direct peer is a trusted proxy;
// with no trusted proxies configured RemoteAddr is always used.
type ClientIPExtractor struct {
	trusted []netip.Prefix
}

// NewClientIPExtractor parses trustedProxies as CIDRs or single
// addresses. Invalid entries are returned in the second result.
func NewClientIPExtractor(trustedProxies []string) (*ClientIPExtractor, []string) {
	e := &ClientIPExtractor{trusted: make([]netip.Prefix, 0, len(trustedProxies))}
	var invalid []string

	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if p, err := netip.ParsePrefix(raw); err == nil {
			e.trusted = append(e.trusted, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(raw); err == nil {
			e.trusted = append(e.trusted, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
			continue
		}
		invalid = append(invalid, raw)
	}
	return e, invalid
}

// Extract returns the client address of r.
func (e *ClientIPExtractor) Extract(r *http.Request) string {
	remote := stripPort(r.RemoteAddr)
	if e == nil || len(e.trusted) == 0 || !e.isTrusted(remote) {
		return remote
	}

	if xff := r.Header.Get(HeaderXForwardedFor); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !e.isTrusted(hop) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get(HeaderXRealIP)); xri != "" {
		return xri
	}
	return remote
}

func (e *ClientIPExtractor) isTrusted(ip string) bool {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range e.trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
