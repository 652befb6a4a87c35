// Package notify holds the callback registries components use to report
// back to their callers.
package notify

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry is an ordered set of callbacks. The zero value is ready to use.
type Registry[T any] struct {
	mu     sync.Mutex
	nextID uint64
	ids    []uint64
	fns    map[uint64]T
}

// Add registers fn and returns a function that removes it. The returned
// function may be called more than once.
func (r *Registry[T]) Add(fn T) (remove func()) {
	r.mu.Lock()
	if r.fns == nil {
		r.fns = make(map[uint64]T)
	}
	r.nextID++
	id := r.nextID
	r.ids = append(r.ids, id)
	r.fns[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.fns, id)
			for i, v := range r.ids {
				if v == id {
					r.ids = append(r.ids[:i], r.ids[i+1:]...)
					break
				}
			}
		})
	}
}

// Snapshot returns the callbacks in registration order.
func (r *Registry[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.fns[id])
	}
	return out
}

// Len reports how many callbacks are registered.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// Call runs fn, logging and swallowing any panic.
func Call(log zerolog.Logger, kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("callback", kind).Msg("callback panicked")
		}
	}()
	fn()
}
