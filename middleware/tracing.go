package middleware

import "context"

// Tracing returns middleware that records the call path in the context.
// Downstream code reads it back with TracePath.
func Tracing() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (any, error) {
			ctx = context.WithValue(ctx, tracePathKey{}, call.Path)
			return next(ctx, call)
		}
	}
}

type tracePathKey struct{}

// TracePath returns the operation path from the context, if set by Tracing middleware.
func TracePath(ctx context.Context) string {
	if v, ok := ctx.Value(tracePathKey{}).(string); ok {
		return v
	}
	return ""
}
