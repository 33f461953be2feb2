package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs each call's path, duration, and errors.
func Logging(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (any, error) {
			start := time.Now()
			result, err := next(ctx, call)
			duration := time.Since(start)

			attrs := []slog.Attr{
				slog.String("path", call.Path),
				slog.Int("args", len(call.Args)),
				slog.Duration("duration", duration),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelWarn, "call failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelDebug, "call handled", attrs...)
			}

			return result, err
		}
	}
}
