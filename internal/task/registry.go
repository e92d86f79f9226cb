package task

import (
	"errors"
	"fmt"
	"sync"
)

// Registry errors.
var (
	ErrDuplicateHandler = errors.New("handler already registered for task name")
	ErrUnknownTask      = errors.New("no handler registered for task name")
)

// Registry maps task names to handlers. Registration happens once, as an
// explicit composition step at startup; duplicate names are rejected so a
// handler can never be silently replaced.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	chain    []Middleware
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Use appends middleware to the chain applied to every resolved handler.
// Middleware runs in registration order: the first Use wraps outermost.
func (r *Registry) Use(mw ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chain = append(r.chain, mw...)
}

// Register binds a handler to a task name.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return errors.New("task name cannot be empty")
	}
	if h == nil {
		return errors.New("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, name)
	}
	r.handlers[name] = h
	return nil
}

// Resolve returns the handler for name wrapped in the middleware chain.
func (r *Registry) Resolve(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	for i := len(r.chain) - 1; i >= 0; i-- {
		h = r.chain[i](name, h)
	}
	return h, nil
}

// Names returns the registered task names, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
