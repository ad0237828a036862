package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased handler receiving the descriptor's raw
// JSON params.
type HandlerFunc func(ctx context.Context, params []byte) error

// Registry maps handler names to HandlerFuncs. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// RegisterDefinition registers a typed definition. Params that fail to
// decode into T yield a non-retryable error.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	r.Register(def.Name, func(ctx context.Context, params []byte) error {
		var t T
		if len(params) > 0 && string(params) != "null" {
			if err := json.Unmarshal(params, &t); err != nil {
				return NonRetryable(fmt.Errorf("unmarshal params for job %q: %w", def.Name, err))
			}
		}
		return def.Handler(ctx, t)
	})
}

// Register registers a raw handler under name, replacing any previous one.
func (r *Registry) Register(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Get returns the handler registered under name.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered handler names in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
