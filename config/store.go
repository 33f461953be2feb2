// Package config provides a generic, hot-reloadable configuration system
// for callkit servers. It loads TOML or YAML files, swaps values atomically,
// and reloads them on fsnotify events.
package config

import (
	"sync"
	"sync/atomic"
)

// Store holds the current configuration value with atomic read/swap semantics.
// Listeners run synchronously on the goroutine that calls Swap.
type Store[T any] struct {
	value atomic.Pointer[T]

	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(old, new_ *T)
}

// NewStore creates a config store with the given initial value.
func NewStore[T any](initial *T) *Store[T] {
	s := &Store[T]{listeners: make(map[int]func(old, new_ *T))}
	s.value.Store(initial)
	return s
}

// Get returns the current config value (zero-lock read). Callers must not
// modify it.
func (s *Store[T]) Get() *T {
	return s.value.Load()
}

// Swap atomically replaces the config and notifies all listeners.
func (s *Store[T]) Swap(new_ *T) *T {
	old := s.value.Swap(new_)

	s.mu.RLock()
	listeners := make([]func(old, new_ *T), 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(old, new_)
	}
	return old
}

// OnChange registers a listener called whenever the config changes, in
// registration order. The returned function removes it.
func (s *Store[T]) OnChange(fn func(old, new_ *T)) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}
