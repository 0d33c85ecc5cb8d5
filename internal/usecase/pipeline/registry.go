package pipeline

import (
	"fmt"
	"slices"
	"sync"

	"github.com/kailas-cloud/itemrec/internal/domain"
)

// Registry maps deployment names to their orchestrators.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]*Orchestrator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*Orchestrator)}
}

// Register adds an orchestrator under its deployment name.
func (r *Registry) Register(o *Orchestrator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := o.Deployment()
	if _, ok := r.byKey[name]; ok {
		return fmt.Errorf("deployment %q registered twice: %w", name, domain.ErrConfiguration)
	}
	r.byKey[name] = o
	return nil
}

// Get returns the orchestrator of a deployment.
func (r *Registry) Get(name string) (*Orchestrator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byKey[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, domain.ErrUnknownDeployment)
	}
	return o, nil
}

// Names returns the registered deployment names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byKey))
	for n := range r.byKey {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Ready reports whether a deployment has a live snapshot.
func (r *Registry) Ready(name string) bool {
	o, err := r.Get(name)
	return err == nil && o.Snapshot() != nil
}
