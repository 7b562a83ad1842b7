package resilience

import (
	"slices"
	"strings"
	"sync"
)

// Registry holds one CircuitBreaker per capability. Breakers are created at first use with the
// registry's options and live as long as the registry.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	opts     []CircuitBreakerOption
}

// NewRegistry creates a registry whose breakers are built with opts.
func NewRegistry(opts ...CircuitBreakerOption) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		opts:     opts,
	}
}

// Get returns the breaker for name, creating it on first use. Extra options apply only when
// the breaker is created.
func (r *Registry) Get(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	all := make([]CircuitBreakerOption, 0, len(r.opts)+len(opts))
	all = append(all, r.opts...)
	all = append(all, opts...)

	b := NewCircuitBreaker(name, all...)
	r.breakers[name] = b
	return b
}

// Snapshot returns the health of every registered breaker, sorted by name.
func (r *Registry) Snapshot() []BreakerHealth {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	health := make([]BreakerHealth, 0, len(breakers))
	for _, b := range breakers {
		health = append(health, b.Health())
	}
	slices.SortFunc(health, func(a, b BreakerHealth) int {
		return strings.Compare(a.Name, b.Name)
	})
	return health
}
