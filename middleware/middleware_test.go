package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainOrder(t *testing.T) {
	var trace []string
	mark := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, call *Call) (any, error) {
				trace = append(trace, name)
				return next(ctx, call)
			}
		}
	}
	h := Chain(mark("outer"), mark("inner"))(func(ctx context.Context, call *Call) (any, error) {
		trace = append(trace, "handler")
		return "ok", nil
	})

	out, err := h(context.Background(), &Call{Path: "a/b"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, []string{"outer", "inner", "handler"}, trace)
}

func TestRecoveryTurnsPanicIntoError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := Recovery(logger)(func(ctx context.Context, call *Call) (any, error) {
		panic("kaboom")
	})

	out, err := h(context.Background(), &Call{Path: "x"})
	assert.Nil(t, out)

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.Equal(t, http.StatusInternalServerError, pe.HTTPStatus())
	assert.Contains(t, buf.String(), "panic recovered in operation")
}

func TestTelemetryCounts(t *testing.T) {
	m := NewMetrics()
	calls := 0
	h := Telemetry(m)(func(ctx context.Context, call *Call) (any, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("fail")
		}
		return nil, nil
	})

	for i := 0; i < 3; i++ {
		_, _ = h(context.Background(), &Call{Path: "users/get"})
	}

	snap := m.Snapshot()
	require.Contains(t, snap, "users/get")
	assert.Equal(t, int64(3), snap["users/get"].Count)
	assert.Equal(t, int64(1), snap["users/get"].Errors)
}

func TestTracingStoresPath(t *testing.T) {
	var seen string
	h := Tracing()(func(ctx context.Context, call *Call) (any, error) {
		seen = TracePath(ctx)
		return nil, nil
	})
	_, _ = h(context.Background(), &Call{Path: "orders/create"})
	assert.Equal(t, "orders/create", seen)
	assert.Empty(t, TracePath(context.Background()))
}

func TestLoggingRecordsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ok := Logging(logger)(func(ctx context.Context, call *Call) (any, error) { return 1, nil })
	bad := Logging(logger)(func(ctx context.Context, call *Call) (any, error) { return nil, errors.New("nope") })

	_, _ = ok(context.Background(), &Call{Path: "a"})
	_, _ = bad(context.Background(), &Call{Path: "b"})

	out := buf.String()
	assert.Contains(t, out, `"msg":"call handled"`)
	assert.Contains(t, out, `"msg":"call failed"`)
	assert.Contains(t, out, `"error":"nope"`)
}
