package dlq

import (
	"sort"
	"sync"
)

// Registry holds named queues. Like the breaker registry, it is meant to be
// constructed at the composition root and passed by reference.
type Registry struct {
	defaults Config

	mu     sync.Mutex
	queues map[string]*Queue
}

// NewRegistry creates a registry. defaults apply to queues created with a
// zero Config.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		defaults: defaults.withDefaults(),
		queues:   make(map[string]*Queue),
	}
}

// GetOrCreate returns the queue registered under name, creating it with
// config on first use.
func (r *Registry) GetOrCreate(name string, config Config) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[name]; ok {
		return q
	}
	if config.isZero() {
		config = r.defaults
	}
	q := New(name, config)
	r.queues[name] = q
	return q
}

// Get returns the queue registered under name, or nil.
func (r *Registry) Get(name string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queues[name]
}

// Names returns the registered queue names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllStats returns a snapshot of every registered queue, keyed by name.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.Lock()
	queues := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.Unlock()

	stats := make(map[string]Stats, len(queues))
	for _, q := range queues {
		stats[q.Name()] = q.Stats()
	}
	return stats
}

// StopAll stops the background processors of every registered queue.
func (r *Registry) StopAll() {
	r.mu.Lock()
	queues := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.Unlock()

	for _, q := range queues {
		q.Stop()
	}
}
