package callkit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LukasParke/callkit"
	"github.com/LukasParke/callkit/callkittest"
	"github.com/LukasParke/callkit/logging"
	mw "github.com/LukasParke/callkit/middleware"
	"github.com/LukasParke/callkit/serializer"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServer(root callkit.Node, opts ...callkit.Option) *callkit.Server {
	opts = append([]callkit.Option{callkit.WithLogger(quietLogger())}, opts...)
	return callkit.NewServer("test", "0.1.0", root, opts...)
}

func post(t *testing.T, h http.Handler, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDispatchSpreadsArrayArguments(t *testing.T) {
	var got callkit.Args
	s := newServer(callkit.Group{
		"math": callkit.Group{
			"sum": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
				got = args
				var a, b float64
				if err := args.Decode(0, &a); err != nil {
					return nil, err
				}
				if err := args.Decode(1, &b); err != nil {
					return nil, err
				}
				return a + b, nil
			}),
		},
	})

	rec := post(t, s, "/math/sum", "application/json", `[2, 3]`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `5`, rec.Body.String())
	assert.Len(t, got, 2)

	rec = post(t, s, "/math/sum", "application/json", `{"a": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, got, 1)
}

func TestDispatchHandlerErrorStatusFromData(t *testing.T) {
	s := newServer(callkit.Group{
		"admin": callkit.Group{
			"purge": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
				return nil, &callkit.Error{Message: "nope", Data: map[string]any{"httpCode": 403}}
			}),
		},
	})

	rec := post(t, s, "/admin/purge", "application/json", `[]`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"message":"nope","httpCode":403}`, rec.Body.String())
	callkittest.Golden(t, "forbidden", rec.Body.Bytes())
}

func TestDispatchWebhookPassesBodyThrough(t *testing.T) {
	var received []any
	s := newServer(callkit.Group{
		"sendWebhook": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
			received = args
			return "accepted", nil
		}),
		"hooks": callkit.Group{
			"json-webhook": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
				return args.At(0), nil
			}),
			"bytes-webhook": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
				return []byte{0x01, 0x02}, nil
			}),
		},
	})

	rec := post(t, s, "/sendWebhook", "application/json", `{"event":"paid","items":[1,2]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "accepted", rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Len(t, received, 1)
	assert.Equal(t, map[string]any{"event": "paid", "items": []any{float64(1), float64(2)}}, received[0])

	rec = post(t, s, "/hooks/json-webhook", "application/json", `[1,2]`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[1,2]`, rec.Body.String())

	rec = post(t, s, "/hooks/bytes-webhook", "", ``)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte{0x01, 0x02}, rec.Body.Bytes())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
}

func TestDispatchFormBodyBecomesObject(t *testing.T) {
	var received any
	s := newServer(callkit.Group{
		"formWebhook": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
			received = args.At(0)
			return nil, nil
		}),
	})

	form := url.Values{"name": {"desk"}, "tag": {"a", "b"}}
	rec := post(t, s, "/formWebhook", "application/x-www-form-urlencoded", form.Encode())
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, map[string]any{"name": "desk", "tag": []any{"a", "b"}}, received)
}

func TestDispatchNilResultIsNoContent(t *testing.T) {
	s := newServer(callkit.Group{
		"noop": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
			var p *struct{}
			return p, nil
		}),
		"empty": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
			return []string{}, nil
		}),
	})

	rec := post(t, s, "/noop", "application/json", `[]`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = post(t, s, "/empty", "application/json", ``)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestDispatchMalformedPayload(t *testing.T) {
	called := false
	s := newServer(callkit.Group{
		"op": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
			called = true
			return "ok", nil
		}),
	})

	for _, body := range []string{`[1,`, `{"__type__":"Timestamp","seconds":"x"}`, `[] []`} {
		rec := post(t, s, "/op", "application/json", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.False(t, called)

	out := s.Call(context.Background(), "op", []byte(`{`))
	callkittest.AssertOutcome(t, out, callkit.OutcomeBadRequest, http.StatusBadRequest)
	require.NotNil(t, out.Err)
	assert.Error(t, errors.Unwrap(out.Err))
}

func TestDispatchFallsThrough(t *testing.T) {
	s := newServer(callkit.Group{
		"a": callkit.Group{
			"b":       callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) { return "hi", nil }),
			"_secret": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) { return "leak", nil }),
		},
	})

	for _, path := range []string{"/a/c", "/a/_secret", "/a/b/c", "/a"} {
		rec := post(t, s, path, "application/json", `[]`)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.NotContains(t, rec.Body.String(), "leak")
	}

	req := httptest.NewRequest(http.MethodGet, "/a/b", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"Cannot GET /a/b"}`, rec.Body.String())

	custom := newServer(callkit.Group{}, callkit.WithFallback(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	rec = post(t, custom, "/missing", "", "")
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestDispatchRecoversPanics(t *testing.T) {
	s := newServer(callkit.Group{
		"explode": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
			panic("boom")
		}),
	})

	rec := post(t, s, "/explode", "application/json", `[]`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message":"panic: boom"}`, rec.Body.String())
}

func TestDispatchRichValues(t *testing.T) {
	type booking struct {
		Name  string               `json:"name"`
		At    serializer.Timestamp `json:"at"`
		Where serializer.GeoPoint  `json:"where"`
	}
	var got booking
	s := newServer(callkit.Group{
		"bookings": callkit.Group{
			"echo": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
				if err := args.Decode(0, &got); err != nil {
					return nil, err
				}
				return got, nil
			}),
		},
	})

	in := booking{
		Name:  "desk",
		At:    serializer.Timestamp{Seconds: 1700000000},
		Where: serializer.GeoPoint{Latitude: 52.5, Longitude: 13.4},
	}
	payload, err := serializer.Default().Marshal([]any{in})
	require.NoError(t, err)

	rec := post(t, s, "/bookings/echo", "application/json", string(payload))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, in, got)
	callkittest.Golden(t, "booking", rec.Body.Bytes())
}

func TestStepsRunAroundOperation(t *testing.T) {
	var order []string
	s := newServer(callkit.Group{
		"secure": callkit.Group{
			"op": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
				order = append(order, "op")
				return c.Value(roleKey{}), nil
			}),
		},
	})
	s.Use(func(ctx context.Context, c *callkit.Context, next mw.Next[*callkit.Context]) error {
		order = append(order, "auth in")
		if c.Request.Header.Get("Authorization") == "" {
			return callkit.NewError(http.StatusUnauthorized, "missing credentials", nil)
		}
		cc := c.WithContext(context.WithValue(ctx, roleKey{}, "admin"))
		err := next(cc, cc)
		order = append(order, "auth out")
		return err
	})

	rec := post(t, s, "/secure/op", "application/json", `[]`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"missing credentials"}`, rec.Body.String())
	assert.Equal(t, []string{"auth in"}, order)

	order = nil
	req := httptest.NewRequest(http.MethodPost, "/secure/op", strings.NewReader(`[]`))
	req.Header.Set("Authorization", "Bearer x")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"admin"`, rec.Body.String())
	assert.Equal(t, []string{"auth in", "op", "auth out"}, order)
}

type roleKey struct{}

func TestStepCanAnswerDirectly(t *testing.T) {
	called := false
	s := newServer(callkit.Group{
		"op": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
			called = true
			return "ok", nil
		}),
	}, callkit.WithSteps(func(ctx context.Context, c *callkit.Context, next mw.Next[*callkit.Context]) error {
		c.Response.Header().Set("Retry-After", "60")
		c.Response.WriteHeader(http.StatusServiceUnavailable)
		return nil
	}))

	rec := post(t, s, "/op", "application/json", `[]`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.False(t, called)
}

func TestHandlerMiddleware(t *testing.T) {
	metrics := mw.NewMetrics()
	s := newServer(callkit.Group{
		"users": callkit.Group{
			"get": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
				return mw.TracePath(c), nil
			}),
			"fail": callkit.Wrap(
				callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
					return nil, errors.New("db down")
				}),
				func(next mw.Handler) mw.Handler {
					return func(ctx context.Context, call *mw.Call) (any, error) {
						out, err := next(ctx, call)
						if err != nil {
							return nil, callkit.NewError(http.StatusServiceUnavailable, "try later", map[string]any{"cause": err.Error()})
						}
						return out, nil
					}
				},
			),
		},
	}, callkit.WithMiddleware(mw.Telemetry(metrics), mw.Tracing()))

	rec := post(t, s, "/users/get", "application/json", `[]`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"/users/get"`, rec.Body.String())

	rec = post(t, s, "/users/fail", "application/json", `[]`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"message":"try later","cause":"db down"}`, rec.Body.String())

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap["/users/get"].Count)
	assert.Equal(t, int64(1), snap["/users/fail"].Errors)
}

func TestCORS(t *testing.T) {
	op := callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) { return "ok", nil })

	s := newServer(callkit.Group{"op": op})
	req := httptest.NewRequest(http.MethodOptions, "/op", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "content-type", rec.Header().Get("Access-Control-Allow-Headers"))

	restricted := newServer(callkit.Group{"op": op}, callkit.WithCORS("https://app.example.com"))
	req = httptest.NewRequest(http.MethodPost, "/op", strings.NewReader(`[]`))
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	restricted.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodPost, "/op", strings.NewReader(`[]`))
	req.Header.Set("Origin", "https://app.example.com")
	rec = httptest.NewRecorder()
	restricted.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTrustProxy(t *testing.T) {
	var remote string
	s := newServer(callkit.Group{
		"whoami": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
			remote = c.Request.RemoteAddr
			return nil, nil
		}),
	}, callkit.WithTrustProxy(true))

	req := httptest.NewRequest(http.MethodPost, "/whoami", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	s.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "203.0.113.7:0", remote)
}

func TestContextCarriesCallState(t *testing.T) {
	var buf bytes.Buffer
	s := callkit.NewServer("test", "0.1.0", callkit.Group{
		"ctx": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
			found, ok := callkit.FromContext(c)
			if !ok || found.Path != c.Path {
				return nil, errors.New("context not found")
			}
			c.Logger().Info("inside")
			return map[string]any{"path": c.Path, "payload": string(c.Payload), "server": c.Server().Name()}, nil
		}),
	}, callkit.WithLogger(logging.New(&buf, logging.WithoutTime())), callkit.WithProject("demo"))

	req := httptest.NewRequest(http.MethodPost, "/ctx", strings.NewReader(`["x"]`))
	req.Header.Set(logging.TraceHeader, "abc123/1;o=1")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.JSONEq(t, `{"path":"/ctx","payload":"[\"x\"]","server":"test"}`, rec.Body.String())
	assert.Contains(t, buf.String(), `"logging.googleapis.com/trace":"projects/demo/traces/abc123"`)
}

func TestErrorsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	s := callkit.NewServer("test", "0.1.0", callkit.Group{
		"fail": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
			return nil, callkit.NewError(http.StatusConflict, "taken", map[string]any{"id": "u1"})
		}),
	}, callkit.WithLogger(logging.New(&buf, logging.WithoutTime())))

	post(t, s, "/fail", "application/json", `[]`)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "ERROR", rec["severity"])
	assert.Equal(t, "taken", rec["message"])
	assert.Equal(t, float64(http.StatusConflict), rec["status"])
}

type settings struct {
	Greeting string `toml:"greeting"`
}

func TestConfigAccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.toml")
	require.NoError(t, os.WriteFile(path, []byte(`greeting = "hej"`), 0o644))
	started := &startedWriter{started: make(chan struct{})}

	s := newServer(callkit.Group{
		"greet": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
			return callkit.Config[settings](c).Greeting, nil
		}),
	}, callkit.WithConfig(path, settings{Greeting: "hello"}), callkit.WithLogger(slog.New(slog.NewTextHandler(started, nil))))

	changed := make(chan string, 8)
	callkit.OnConfigChange(s, func(c *callkit.Context, old, new_ *settings) {
		select {
		case changed <- new_.Greeting:
		default:
		}
	})

	rec := post(t, s, "/greet", "application/json", `[]`)
	assert.JSONEq(t, `"hej"`, rec.Body.String())
	assert.Nil(t, callkit.ServerConfig[struct{ Other int }](s))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- callkit.ServeContext(ctx, s, callkit.WithHTTP("127.0.0.1:0")) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// The watcher is running once the server announces itself.
	select {
	case <-started.started:
	case <-time.After(3 * time.Second):
		t.Fatal("server did not start")
	}
	require.NoError(t, os.WriteFile(path, []byte(`greeting = "hallo"`), 0o644))
	require.Eventually(t, func() bool {
		return callkit.ServerConfig[settings](s).Greeting == "hallo"
	}, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return len(changed) > 0 }, time.Second, 10*time.Millisecond)

	rec = post(t, s, "/greet", "application/json", `[]`)
	assert.JSONEq(t, `"hallo"`, rec.Body.String())
}

// startedWriter closes started when the server logs that it is starting.
type startedWriter struct {
	once    sync.Once
	started chan struct{}
}

func (w *startedWriter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("callkit server starting")) {
		w.once.Do(func() { close(w.started) })
	}
	return len(p), nil
}
