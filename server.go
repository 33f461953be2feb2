package callkit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/LukasParke/callkit/jsonrpc"
	mw "github.com/LukasParke/callkit/middleware"
	"github.com/LukasParke/callkit/serializer"
)

// DefaultMaxBodySize caps request bodies unless WithMaxBodySize says otherwise.
const DefaultMaxBodySize = 10 << 20

// Server is the central type of callkit. It resolves call paths against a
// handler registry, runs request-level steps and handler middleware, and
// maps every call to an Outcome.
type Server struct {
	name    string
	version string
	logger  *slog.Logger
	codec   *serializer.Codec

	// registry is a private copy of the root passed to NewServer.
	registry Node

	// request-level steps, run before the operation is invoked
	steps *mw.Runner[*Context]
	// handler-level middleware, wrapped around the operation itself
	middlewares []mw.Middleware

	fallback    http.Handler
	corsOrigins []string
	trustProxy  bool
	maxBody     int64
	project     string

	configHolder configHolder
}

// NewServer creates a server exposing the operations reachable from root.
// Groups are copied, so later changes to root do not affect routing.
func NewServer(name, version string, root Node, opts ...Option) *Server {
	s := &Server{
		name:        name,
		version:     version,
		logger:      slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
		codec:       serializer.Default(),
		registry:    cloneNode(root),
		steps:       mw.NewRunner[*Context](),
		fallback:    http.HandlerFunc(notFound),
		corsOrigins: []string{"*"},
		maxBody:     DefaultMaxBodySize,
		project:     os.Getenv("GOOGLE_CLOUD_PROJECT"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Use appends a request-level step. Steps see the call Context before the
// operation runs and may replace it, short-circuit, or act afterwards.
func (s *Server) Use(step mw.Step[*Context]) *Server {
	s.steps.Use(step)
	return s
}

// Name returns the server name.
func (s *Server) Name() string { return s.name }

// Version returns the server version.
func (s *Server) Version() string { return s.version }

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger { return s.logger }

// Codec returns the serializer used for payloads and results.
func (s *Server) Codec() *serializer.Codec { return s.codec }

// Resolve resolves path against the server registry.
func (s *Server) Resolve(path string) (Operation, error) {
	return Resolve(s.registry, path)
}

// Call dispatches a call that did not arrive over HTTP, such as one read
// from a stream transport. Request-level steps run as for HTTP calls.
func (s *Server) Call(ctx context.Context, path string, payload []byte) Outcome {
	c := newContext(ctx, s, path, payload)
	op, err := s.Resolve(path)
	if err != nil {
		return s.failure(c, OutcomeError, &Error{Status: http.StatusNotFound, Message: err.Error(), Cause: err})
	}
	return s.dispatch(c, op)
}

func (s *Server) dispatch(c *Context, op Operation) Outcome {
	var out Outcome
	reached := false
	_, err := s.steps.RunThen(c, c, func(ctx context.Context, cc *Context) error {
		if ctx != context.Context(cc) {
			cc = cc.WithContext(ctx)
		}
		reached = true
		out = s.Invoke(cc, op, cc.Payload)
		return nil
	})
	if err != nil {
		return s.failure(c, OutcomeError, err)
	}
	if !reached {
		return Outcome{Kind: OutcomeNoContent, Status: http.StatusNoContent}
	}
	return out
}

// ServeHTTP implements http.Handler. Only POST requests whose path resolves
// to an operation are dispatched; everything else goes to the fallback.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.trustProxy {
		trustForwarded(r)
	}
	if s.applyCORS(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		s.fallback.ServeHTTP(w, r)
		return
	}

	op, err := s.Resolve(r.URL.Path)
	if err != nil {
		s.logger.Debug("path not dispatched", "path", r.URL.Path, "error", err)
		s.fallback.ServeHTTP(w, r)
		return
	}

	rw := &responseWriter{ResponseWriter: w}
	payload, err := s.readPayload(rw, r)
	c := newHTTPContext(s, r.URL.Path, payload, rw, r)
	if err != nil {
		s.failure(c, OutcomeBadRequest, &Error{
			Status:  http.StatusBadRequest,
			Message: "invalid request body",
			Cause:   err,
		}).Write(rw)
		return
	}

	out := s.dispatch(c, op)
	if rw.wroteHeader {
		return
	}
	out.Write(rw)
}

// responseWriter tracks whether a step or operation already answered the
// request directly.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		return nil, err
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/x-www-form-urlencoded" {
		return body, nil
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing form body: %w", err)
	}
	return formJSON(values)
}

// formJSON converts form values into a JSON object. Keys with a single value
// map to a string, repeated keys to an array.
func formJSON(values url.Values) ([]byte, error) {
	obj := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			obj[k] = vs[0]
			continue
		}
		obj[k] = vs
	}
	return json.Marshal(obj)
}

// applyCORS sets the CORS headers and answers preflight requests. It
// reports whether the response is complete.
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	if len(s.corsOrigins) == 0 {
		return false
	}
	origin := r.Header.Get("Origin")
	allowed := ""
	for _, o := range s.corsOrigins {
		if o == "*" {
			allowed = "*"
			break
		}
		if origin != "" && strings.EqualFold(o, origin) {
			allowed = origin
			break
		}
	}
	if allowed == "" {
		return false
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", allowed)
	if allowed != "*" {
		h.Add("Vary", "Origin")
	}
	if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
		return false
	}
	h.Set("Access-Control-Allow-Methods", "GET,HEAD,PUT,PATCH,POST,DELETE")
	if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
		h.Set("Access-Control-Allow-Headers", reqHeaders)
		h.Add("Vary", "Access-Control-Request-Headers")
	}
	w.WriteHeader(http.StatusNoContent)
	return true
}

// TrustForwarded returns a handler that takes the client address and scheme
// from X-Forwarded-For and X-Forwarded-Proto before calling next.
func TrustForwarded(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trustForwarded(r)
		next.ServeHTTP(w, r)
	})
}

// trustForwarded rewrites RemoteAddr from the left-most X-Forwarded-For
// entry, as done behind a trusted load balancer.
func trustForwarded(r *http.Request) {
	fwd := r.Header.Get("X-Forwarded-For")
	if fwd == "" {
		return
	}
	client := strings.TrimSpace(strings.Split(fwd, ",")[0])
	if net.ParseIP(client) == nil {
		return
	}
	r.RemoteAddr = net.JoinHostPort(client, "0")
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" && r.URL != nil {
		r.URL.Scheme = proto
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message": fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path),
	})
}

// CallRPC runs a call read from a JSON-RPC stream. Notifications go through
// the same steps and middleware as any other call.
func (s *Server) CallRPC(ctx context.Context, call *jsonrpc.Call) (any, error) {
	out := s.Call(ctx, call.Path, call.Payload)
	switch out.Kind {
	case OutcomeOK:
		if out.ContentType == contentTypeJSON {
			return json.RawMessage(out.Body), nil
		}
		return string(out.Body), nil
	case OutcomeNoContent:
		return nil, nil
	default:
		return nil, rpcError(out.Err)
	}
}

func rpcError(e *Error) *jsonrpc.Error {
	var data any
	if len(e.Data) > 0 {
		data = e.Data
	}
	return &jsonrpc.Error{Code: e.Status, Message: e.Message, Data: data}
}
