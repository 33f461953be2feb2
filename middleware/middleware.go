// Package middleware provides composable middleware for callkit servers.
//
// Two shapes are offered. Runner is a generic onion chain over any context
// value and is used by the server for request-level steps. Middleware wraps
// the operation call itself, allowing cross-cutting concerns like logging,
// panic recovery, and metrics to be applied to every operation.
package middleware

import "context"

// Call describes one operation invocation as seen by handler middleware.
type Call struct {
	// Path is the slash-delimited path the operation was resolved from.
	Path string
	// Args are the positional arguments after serializer parsing.
	Args []any
	// Webhook reports whether the path uses raw webhook semantics.
	Webhook bool
}

// Handler invokes an operation and returns its result.
type Handler func(ctx context.Context, call *Call) (any, error)

// Middleware wraps a Handler to add cross-cutting behavior.
type Middleware func(Handler) Handler

// Chain composes multiple middleware into a single middleware.
// Middleware is applied in the order given: the first middleware in the slice
// is the outermost wrapper (executes first).
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
