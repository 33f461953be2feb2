package middleware

import (
	"context"
	"errors"
	"sync"
)

// ErrNextCalled is returned when a step calls its next function more than
// once. The remainder of the chain is not run again.
var ErrNextCalled = errors.New("middleware: next called more than once")

// Next continues the chain with the given context value.
type Next[T any] func(ctx context.Context, c T) error

// Step is one link of a Runner chain. It may inspect or replace c before
// calling next, act after next returns, or skip next to stop the chain.
type Step[T any] func(ctx context.Context, c T, next Next[T]) error

// Runner threads a context value of type T through an ordered list of steps
// using onion semantics: steps run in registration order on the way in and
// in reverse order on the way out.
//
// Each Run keeps its own cursor, so a Runner may be shared by concurrent
// runs. Steps added with Use while a run is in progress take effect on the
// next run.
type Runner[T any] struct {
	mu    sync.RWMutex
	steps []Step[T]
}

// NewRunner returns an empty Runner.
func NewRunner[T any]() *Runner[T] {
	return &Runner[T]{}
}

// Use appends a step to the chain.
func (r *Runner[T]) Use(step Step[T]) *Runner[T] {
	if step == nil {
		panic("middleware: nil step passed to Use")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
	return r
}

// Len returns the number of registered steps.
func (r *Runner[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}

// Run executes the chain starting with initial and returns the last context
// value handed to the cursor. A step error unwinds the chain and is returned
// together with the context value current at that point.
func (r *Runner[T]) Run(ctx context.Context, initial T) (T, error) {
	return r.RunThen(ctx, initial, nil)
}

// RunThen is like Run but calls final once the last step calls next. A chain
// that is short-circuited never reaches final.
func (r *Runner[T]) RunThen(ctx context.Context, initial T, final Next[T]) (T, error) {
	r.mu.RLock()
	steps := append([]Step[T](nil), r.steps...)
	r.mu.RUnlock()

	current := initial
	var advance func(ctx context.Context, i int, c T) error
	advance = func(ctx context.Context, i int, c T) error {
		current = c
		if err := ctx.Err(); err != nil {
			return err
		}
		if i >= len(steps) {
			if final != nil {
				return final(ctx, c)
			}
			return nil
		}
		called := false
		return steps[i](ctx, c, func(ctx context.Context, c T) error {
			if called {
				return ErrNextCalled
			}
			called = true
			return advance(ctx, i+1, c)
		})
	}

	err := advance(ctx, 0, initial)
	return current, err
}
