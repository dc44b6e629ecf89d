// Package executor turns task definitions into handlers and runs them.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"cronagent/internal/shared"
)

// TaskHandler is one invocable unit. Invoke receives the instance arguments
// (already decoded from storage text, placeholder substituted) and returns an
// arbitrary value interpreted against the task's allow-list.
type TaskHandler interface {
	Invoke(ctx context.Context, args json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to TaskHandler.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Invoke implements TaskHandler.
func (f HandlerFunc) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	return f(ctx, args)
}

// Chainer is implemented by handlers that accept post-construction calls.
// Each call returns the handler used by the next one.
type Chainer interface {
	Chain(method string, args json.RawMessage) (TaskHandler, error)
}

// Factory builds a handler from the task's constructor parameters.
type Factory func(params json.RawMessage) (TaskHandler, error)

// Static returns a Factory that ignores parameters.
func Static(h TaskHandler) Factory {
	return func(json.RawMessage) (TaskHandler, error) { return h, nil }
}

// Registry maps handler names to factories. It is populated at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name. Names are unique.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return shared.Validationf("handler name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: handler %q already registered", shared.ErrConflict, name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register that panics; meant for startup wiring.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns registered handler names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) factory(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}
