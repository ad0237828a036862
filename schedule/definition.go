package schedule

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// HandlerFunc is the body of a recurring job.
type HandlerFunc func(ctx context.Context) error

// Definition describes one recurring job. A definition with an empty
// Rate is not recurring and is ignored by the scheduler.
type Definition struct {
	// Name identifies the job and keys its ledger entry.
	Name string

	// Rate is a rate name such as "Every.FiveMinutes", parsed with ParseRate.
	Rate string

	// Path locates the job's source, recorded in the ledger for reporting.
	Path string

	Handler HandlerFunc
}

// Provider enumerates recurring job definitions.
type Provider interface {
	Definitions(ctx context.Context) ([]Definition, error)
}

// StaticProvider is a fixed list of definitions.
type StaticProvider []Definition

// Definitions returns the list.
func (p StaticProvider) Definitions(context.Context) ([]Definition, error) {
	return slices.Clone(p), nil
}

// Registry is a Provider that definitions are registered into at
// runtime. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds def, replacing any definition with the same name.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
}

// Unregister removes the named definition.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.defs, name)
}

// Definitions returns the registered definitions sorted by name.
func (r *Registry) Definitions(context.Context) ([]Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
