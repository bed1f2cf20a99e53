package origin

import "sync/atomic"

// Reloadable holds a Policy that can be replaced while requests are
// being decided.
type Reloadable struct {
	current atomic.Pointer[Policy]
}

// NewReloadable creates a Reloadable starting with p.
func NewReloadable(p *Policy) *Reloadable {
	r := &Reloadable{}
	r.current.Store(p)
	return r
}

// Store replaces the active policy.
func (r *Reloadable) Store(p *Policy) {
	r.current.Store(p)
}

// Load returns the active policy.
func (r *Reloadable) Load() *Policy {
	return r.current.Load()
}

// Decide evaluates origin against the active policy.
func (r *Reloadable) Decide(origin string) (Decision, error) {
	return r.Load().Decide(origin)
}
