package adapter

import (
	"fmt"
	"sync"

	"github.com/solarinvest/fleetmonitor/internal/domain"
)

// Registry maps brand to its VendorAdapter implementation, grounded on the
// teacher's singleton-registry-by-key idiom (internal/protocols/registry.go)
// but without the global-singleton package var: callers construct one
// Registry per process and inject it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.Brand]VendorAdapter
}

// NewRegistry returns an empty Registry ready for Register calls.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[domain.Brand]VendorAdapter)}
}

// Register binds a brand to its adapter implementation.
func (r *Registry) Register(brand domain.Brand, a VendorAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[brand] = a
}

// Get resolves the adapter for a brand, or false if none is registered.
func (r *Registry) Get(brand domain.Brand) (VendorAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[brand]
	return a, ok
}

// AllBrands returns the brands currently bound in the registry.
func (r *Registry) AllBrands() []domain.Brand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Brand, 0, len(r.adapters))
	for b := range r.adapters {
		out = append(out, b)
	}
	return out
}

// RequireBrand returns an error if brand is not registered. Used at startup
// to fail fast rather than discovering a missing brand mid-poll.
func (r *Registry) RequireBrand(brand domain.Brand) error {
	if _, ok := r.Get(brand); !ok {
		return fmt.Errorf("adapter: no implementation registered for brand %q", brand)
	}
	return nil
}
