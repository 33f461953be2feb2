package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// PanicError reports a panic recovered from an operation.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// HTTPStatus reports the status used for recovered panics.
func (e *PanicError) HTTPStatus() int { return http.StatusInternalServerError }

// Recovery returns middleware that recovers from panics in operations,
// logs the stack trace, and turns the panic into a *PanicError.
func Recovery(logger ...*slog.Logger) Middleware {
	var log *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		log = logger[0]
	} else {
		log = slog.Default()
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					stack := debug.Stack()
					log.Error("panic recovered in operation",
						"path", call.Path,
						"panic", fmt.Sprint(r),
						"stack", string(stack),
					)
					result = nil
					err = &PanicError{Value: r, Stack: stack}
				}
			}()
			return next(ctx, call)
		}
	}
}
