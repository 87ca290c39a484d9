package breaker

import (
	"sort"
	"sync"
)

// Registry holds named breakers, one per external dependency. It is meant
// to be constructed by the application's composition root and passed to
// request handlers, not held as an ambient global.
type Registry struct {
	defaults Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry. defaults apply to breakers created with
// a zero Config.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		defaults: defaults.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// GetOrCreate returns the breaker registered under name, creating it with
// config on first use. The config of an existing breaker is never changed.
func (r *Registry) GetOrCreate(name string, config Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	if config.isZero() {
		config = r.defaults
	}
	b := New(name, config)
	r.breakers[name] = b
	return b
}

// Get returns the breaker registered under name, or nil.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breakers[name]
}

// Names returns the registered breaker names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllStats returns a snapshot of every registered breaker, keyed by name.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	stats := make(map[string]Stats, len(breakers))
	for _, b := range breakers {
		stats[b.Name()] = b.Stats()
	}
	return stats
}

// ForceState moves the named breaker to the given state. This is an
// operator action; the reason is kept on the breaker and surfaced in its
// stats until the next transition.
func (r *Registry) ForceState(name string, state State, reason string) error {
	b := r.Get(name)
	if b == nil {
		return ErrUnknownBreaker
	}
	b.forceState(state, reason)
	return nil
}

// Reset returns the named breaker to closed with counters cleared.
func (r *Registry) Reset(name string) error {
	b := r.Get(name)
	if b == nil {
		return ErrUnknownBreaker
	}
	b.Reset()
	return nil
}
