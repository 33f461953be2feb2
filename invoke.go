package callkit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"

	mw "github.com/LukasParke/callkit/middleware"
)

// OutcomeKind classifies the result of one dispatched call.
type OutcomeKind int

const (
	// OutcomeOK is a 200 response with a body.
	OutcomeOK OutcomeKind = iota
	// OutcomeNoContent is a 204 response for a nil result.
	OutcomeNoContent
	// OutcomeBadRequest reports a payload that could not be parsed.
	OutcomeBadRequest
	// OutcomeError reports a failed call.
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeNoContent:
		return "no-content"
	case OutcomeBadRequest:
		return "bad-request"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is the transport-independent result of a call.
type Outcome struct {
	Kind        OutcomeKind
	Status      int
	Body        []byte
	ContentType string
	// Err is set for OutcomeBadRequest and OutcomeError.
	Err *Error
	// Result is the operation's return value, before encoding.
	Result any
}

const (
	contentTypeJSON   = "application/json; charset=utf-8"
	contentTypeText   = "text/plain; charset=utf-8"
	contentTypeBinary = "application/octet-stream"
)

// Write sends the outcome as an HTTP response.
func (o Outcome) Write(w http.ResponseWriter) {
	if o.ContentType != "" {
		w.Header().Set("Content-Type", o.ContentType)
	}
	w.WriteHeader(o.Status)
	if len(o.Body) > 0 {
		_, _ = w.Write(o.Body)
	}
}

// Invoke runs op for the call described by c. The payload is parsed with the
// server codec and shaped into positional arguments: on webhook paths the
// parsed value is the single argument, elsewhere a top-level array is spread.
// An empty payload means no arguments. Every failure is shaped by ShapeError.
func (s *Server) Invoke(c *Context, op Operation, payload []byte) Outcome {
	webhook := IsWebhookPath(c.Path)

	args, err := s.parseArgs(payload, webhook)
	if err != nil {
		return s.failure(c, OutcomeBadRequest, &Error{
			Status:  http.StatusBadRequest,
			Message: "invalid request payload",
			Cause:   err,
		})
	}

	call := &mw.Call{Path: c.Path, Args: args, Webhook: webhook}
	result, err := s.wrap(op, c)(c, call)
	if err != nil {
		return s.failure(c, OutcomeError, err)
	}
	if isNil(result) {
		return Outcome{Kind: OutcomeNoContent, Status: http.StatusNoContent}
	}

	body, contentType, err := s.encodeResult(result, webhook)
	if err != nil {
		return s.failure(c, OutcomeError, err)
	}
	return Outcome{
		Kind:        OutcomeOK,
		Status:      http.StatusOK,
		Body:        body,
		ContentType: contentType,
		Result:      result,
	}
}

func (s *Server) parseArgs(payload []byte, webhook bool) ([]any, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	v, err := s.codec.Parse(payload)
	if err != nil {
		return nil, err
	}
	if list, ok := v.([]any); ok && !webhook {
		return list, nil
	}
	return []any{v}, nil
}

// wrap builds the handler middleware chain around op. Recovery is always the
// outermost layer so panics in middleware are caught too.
func (s *Server) wrap(op Operation, c *Context) mw.Handler {
	inner := func(ctx context.Context, call *mw.Call) (any, error) {
		cc := c
		if ctx != context.Context(c) {
			cc = c.WithContext(ctx)
		}
		return op(cc, Args(call.Args))
	}
	mws := make([]mw.Middleware, 0, len(s.middlewares)+1)
	mws = append(mws, mw.Recovery(s.logger))
	mws = append(mws, s.middlewares...)
	return mw.Chain(mws...)(inner)
}

func (s *Server) encodeResult(result any, webhook bool) ([]byte, string, error) {
	if webhook {
		switch v := result.(type) {
		case string:
			return []byte(v), contentTypeText, nil
		case []byte:
			return v, contentTypeBinary, nil
		case json.RawMessage:
			return v, contentTypeJSON, nil
		}
	}
	body, err := s.codec.Marshal(result)
	if err != nil {
		return nil, "", err
	}
	return body, contentTypeJSON, nil
}

func (s *Server) failure(c *Context, kind OutcomeKind, err error) Outcome {
	e := ShapeError(err)
	c.Logger().LogAttrs(c, slog.LevelError, e.Message,
		slog.String("path", c.Path),
		slog.Int("status", e.Status),
		slog.Any("data", e.Data),
		slog.Any("error", err),
	)
	body, merr := json.Marshal(e)
	if merr != nil {
		body, _ = json.Marshal(map[string]string{"message": e.Message})
	}
	return Outcome{
		Kind:        kind,
		Status:      e.Status,
		Body:        body,
		ContentType: contentTypeJSON,
		Err:         e,
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
