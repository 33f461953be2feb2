package callkit

import (
	"context"

	mw "github.com/LukasParke/callkit/middleware"
)

// Wrap applies handler middleware to a single operation, independent of the
// server-wide chain. The first middleware is outermost.
func Wrap(op Operation, mws ...mw.Middleware) Operation {
	if len(mws) == 0 {
		return op
	}
	chain := mw.Chain(mws...)
	return func(c *Context, args Args) (any, error) {
		h := chain(func(ctx context.Context, call *mw.Call) (any, error) {
			cc := c
			if ctx != context.Context(c) {
				cc = c.WithContext(ctx)
			}
			return op(cc, Args(call.Args))
		})
		return h(c, &mw.Call{Path: c.Path, Args: args, Webhook: c.Webhook()})
	}
}
