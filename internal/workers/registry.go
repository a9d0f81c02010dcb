package workers

import (
	"sync"

	"github.com/ShayCichocki/conductor/internal/llm"
)

// Registry maps worker names to workers.
// It is populated at startup and read concurrently by running workflows.
type Registry struct {
	// workers maps worker name to worker.
	workers map[string]Worker
	// order keeps registration order for listings.
	order []string
	// mu protects all fields.
	mu sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry(ws ...Worker) *Registry {
	r := &Registry{workers: make(map[string]Worker)}
	for _, w := range ws {
		r.Register(w)
	}
	return r
}

// DefaultRegistry creates a registry holding the built-in workers.
func DefaultRegistry(caller llm.Caller) *Registry {
	return NewRegistry(Builtins(caller)...)
}

// Register adds a worker, replacing any worker with the same name.
func (r *Registry) Register(w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[w.Name()]; !exists {
		r.order = append(r.order, w.Name())
	}
	r.workers[w.Name()] = w
}

// Get retrieves a worker by name.
func (r *Registry) Get(name string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[name]
	return w, ok
}

// Has reports whether a worker is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns the name and description of every worker in registration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		w := r.workers[name]
		out = append(out, Info{Name: w.Name(), Description: w.Description()})
	}
	return out
}

// Wrap replaces every registered worker with fn(worker).
func (r *Registry) Wrap(fn func(Worker) Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.order {
		r.workers[name] = fn(r.workers[name])
	}
}

// Count returns the number of registered workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}
