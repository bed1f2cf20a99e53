package ratelimit

import (
	"net/http"
	"strings"

	"github.com/vyrodovalexey/admission/internal/reqctx"
)

// Key namespaces. The general and auth limiters never share one.
const (
	UserKeyPrefix = "user:"
	IPKeyPrefix   = "ip:"
	AuthKeyPrefix = "auth:"
)

// KeyFunc derives the rate limit key of a request.
type KeyFunc func(r *http.Request) string

// GeneralKey keys authenticated callers by identity and everyone else
// by client address.
func GeneralKey(ips *ClientIPExtractor) KeyFunc {
	return func(r *http.Request) string {
		if id := reqctx.IdentityFromContext(r.Context()); id != nil && id.ID != "" {
			return UserKeyPrefix + id.ID
		}
		return IPKeyPrefix + ips.Extract(r)
	}
}

// AuthKey keys by client address regardless of identity.
func AuthKey(ips *ClientIPExtractor) KeyFunc {
	return func(r *http.Request) string {
		return AuthKeyPrefix + ips.Extract(r)
	}
}

// PathMatcher matches request paths against a list of patterns. A
// pattern matches the path itself and everything below it.
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher.
func NewPathMatcher(patterns []string) *PathMatcher {
	m := &PathMatcher{patterns: make([]string, 0, len(patterns))}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p != "/" {
			p = strings.TrimSuffix(p, "/")
		}
		m.patterns = append(m.patterns, p)
	}
	return m
}

// Match reports whether path falls under one of the patterns.
func (m *PathMatcher) Match(path string) bool {
	for _, p := range m.patterns {
		if p == "/" || path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Empty reports whether no pattern is configured.
func (m *PathMatcher) Empty() bool {
	return len(m.patterns) == 0
}
