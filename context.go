package callkit

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/LukasParke/callkit/logging"
)

// Context wraps context.Context with the state of one call. A fresh Context
// is created per request and discarded afterwards.
type Context struct {
	context.Context

	// Path is the slash-delimited path the call was resolved from.
	Path string
	// Payload is the raw request body, after form conversion.
	Payload []byte
	// Request and Response are nil for calls that did not arrive over HTTP.
	Request  *http.Request
	Response http.ResponseWriter

	server *Server
	logger *slog.Logger
}

type contextKey struct{}

func newContext(parent context.Context, s *Server, path string, payload []byte) *Context {
	c := &Context{Path: path, Payload: payload, server: s, logger: s.logger}
	c.Context = context.WithValue(parent, contextKey{}, c)
	return c
}

func newHTTPContext(s *Server, path string, payload []byte, w http.ResponseWriter, r *http.Request) *Context {
	c := newContext(r.Context(), s, path, payload)
	c.Request = r
	c.Response = w
	if h := r.Header.Get(logging.TraceHeader); h != "" {
		c.logger = logging.WithTrace(s.logger, h, s.project)
	}
	return c
}

// FromContext returns the call Context carried by ctx.
func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(contextKey{}).(*Context)
	return c, ok
}

// WithContext returns a shallow copy of c whose embedded context is ctx.
// ctx is usually derived from c.
func (c *Context) WithContext(ctx context.Context) *Context {
	cc := *c
	cc.Context = context.WithValue(ctx, contextKey{}, &cc)
	return &cc
}

// Server returns the Server handling the call.
func (c *Context) Server() *Server {
	return c.server
}

// Logger returns the request logger. Requests carrying a Cloud trace header
// get a logger that tags every record with the trace.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// Webhook reports whether the call uses raw webhook semantics.
func (c *Context) Webhook() bool {
	return IsWebhookPath(c.Path)
}
