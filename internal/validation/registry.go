package validation

import (
	"fmt"
	"slices"
	"sync"
)

// Names of the built-in common schemas.
const (
	CommonPagination      = "pagination"
	CommonIDParam         = "idParam"
	CommonCorrelationID   = "correlationId"
	CommonBearerAuth      = "bearerAuth"
	CommonJSONContentType = "jsonContentType"
)

// Registry holds named schemas that routes compose with Merge.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewRegistry creates a registry preloaded with the common schemas.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[string]Schema)}
	r.schemas[CommonPagination] = Pagination()
	r.schemas[CommonIDParam] = IDParam("id")
	r.schemas[CommonCorrelationID] = CorrelationIDHeader()
	r.schemas[CommonBearerAuth] = BearerAuthHeader()
	r.schemas[CommonJSONContentType] = ContentTypeHeader("application/json")
	return r
}

// Register adds a named schema. Names are unique.
func (r *Registry) Register(name string, s Schema) error {
	if name == "" {
		return fmt.Errorf("schema name is required")
	}
	if _, err := Compile(s); err != nil {
		return fmt.Errorf("schema %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schemas[name]; exists {
		return fmt.Errorf("schema %q already registered", name)
	}
	r.schemas[name] = s
	return nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Compose merges the named schemas in order, then own, and compiles the result.
func (r *Registry) Compose(use []string, own Schema) (*Compiled, error) {
	r.mu.RLock()
	parts := make([]Schema, 0, len(use)+1)
	for _, name := range use {
		s, ok := r.schemas[name]
		if !ok {
			r.mu.RUnlock()
			return nil, fmt.Errorf("unknown schema %q", name)
		}
		parts = append(parts, s)
	}
	r.mu.RUnlock()

	return Compile(Merge(append(parts, own)...))
}
