// Package event is a small typed hook registry. Hooks run synchronously on
// the goroutine that dispatches the event.
package event

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// Registry maps event types to the hooks registered for them.
type Registry struct {
	mu    sync.RWMutex
	hooks map[reflect.Type][]func(any) error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[reflect.Type][]func(any) error)}
}

func typeOf[E any]() reflect.Type {
	return reflect.TypeFor[E]()
}

// Register adds a hook for events of type E. Hooks run in registration order.
func Register[E any](r *Registry, hook func(*E) error) {
	if r == nil || hook == nil {
		return
	}
	key := typeOf[E]()
	r.mu.Lock()
	r.hooks[key] = append(r.hooks[key], func(ev any) error {
		return hook(ev.(*E))
	})
	r.mu.Unlock()
}

// Dispatch runs every hook registered for E. A failing hook does not stop
// the others; their errors are joined.
func Dispatch[E any](r *Registry, ev *E) error {
	if r == nil {
		return nil
	}
	key := typeOf[E]()
	r.mu.RLock()
	hooks := r.hooks[key]
	r.mu.RUnlock()

	var errs []error
	for _, hook := range hooks {
		if err := hook(ev); err != nil {
			errs = append(errs, fmt.Errorf("%s hook: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Count reports how many hooks are registered for E.
func Count[E any](r *Registry) int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[typeOf[E]()])
}
