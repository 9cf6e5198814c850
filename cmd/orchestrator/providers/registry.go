package providers

import (
	"fmt"
	"sync"

	"github.com/lyzr/appforge/common/models"
)

// Registry maps provider names to adapters
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	selector  *Selector
}

// NewRegistry creates a registry holding ps in registration order
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[p.Name()]; !exists {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// SetSelector installs the rules used to resolve "auto"
func (r *Registry) SetSelector(s *Selector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selector = s
}

// Get returns the named provider or models.ErrUnknownProvider
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownProvider, name)
	}
	return p, nil
}

// List describes every provider in registration order
func (r *Registry) List() []models.ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ProviderInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, models.ProviderInfo{Name: name, Configured: r.providers[name].Configured()})
	}
	return out
}

// Resolve returns the provider for name. For "auto" the selector rules are
// evaluated against files in registration order and the first configured
// match wins; without a match the first configured provider is used.
func (r *Registry) Resolve(name string, files []models.FileChange) (Provider, error) {
	if name != Auto {
		return r.Get(name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var configured []Provider
	for _, n := range r.order {
		if p := r.providers[n]; p.Configured() {
			configured = append(configured, p)
		}
	}
	if len(configured) == 0 {
		return nil, fmt.Errorf("%w: no provider has credentials", models.ErrNotConfigured)
	}

	if r.selector != nil {
		for _, p := range configured {
			ok, err := r.selector.Matches(p.Name(), files)
			if err != nil {
				return nil, err
			}
			if ok {
				return p, nil
			}
		}
	}
	return configured[0], nil
}
