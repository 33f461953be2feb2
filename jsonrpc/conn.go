// Package jsonrpc carries callkit calls over Content-Length framed JSON-RPC
// 2.0 streams. The method is the call path and the params are the serialized
// payload. Notifications run as calls whose result is discarded, and batches
// are answered with a batch of responses.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Call once the connection is closed.
var ErrClosed = errors.New("jsonrpc: connection closed")

// Call is an incoming call.
type Call struct {
	Path    string
	Payload RawMessage
	// Notify is set for notifications; the peer does not wait for a result.
	Notify bool
}

// Handler runs an incoming call.
type Handler func(ctx context.Context, call *Call) (result any, err error)

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger for failed notifications and dropped messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// Conn is a bidirectional JSON-RPC 2.0 connection. Either side may call the
// other; a Conn without a handler answers every call with method not found.
type Conn struct {
	codec   *Codec
	handler Handler
	logger  *slog.Logger

	pending   sync.Map // ID.String() -> chan *Message
	nextID    atomic.Int64
	closeOnce sync.Once
	done      chan struct{}
}

// NewConn creates a connection over codec that runs incoming calls with
// handler, which may be nil.
func NewConn(codec *Codec, handler Handler, opts ...Option) *Conn {
	c := &Conn{
		codec:   codec,
		handler: handler,
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run reads messages until the connection is closed, ctx is done or the
// stream fails. Calls are served concurrently.
func (c *Conn) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		data, err := c.codec.Read()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
				return fmt.Errorf("reading message: %w", err)
			}
		}
		c.dispatch(ctx, data)
	}
}

func (c *Conn) dispatch(ctx context.Context, data []byte) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		go c.serveBatch(ctx, data)
		return
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		c.send(errorResponse(CodeParseError, "parse error"))
		return
	}
	switch {
	case m.Method != "":
		go func() {
			if resp := c.serve(ctx, &m); resp != nil {
				c.send(resp)
			}
		}()
	case m.ID != nil:
		c.deliver(&m)
	case m.Error != nil:
		c.logger.Debug("jsonrpc: peer reported an error", "code", m.Error.Code, "message", m.Error.Message)
	default:
		c.send(errorResponse(CodeInvalidRequest, "invalid request"))
	}
}

// serve runs one call and returns its response, or nil for notifications.
func (c *Conn) serve(ctx context.Context, m *Message) *Message {
	call := &Call{Path: m.Method, Payload: m.Params, Notify: m.IsNotification()}

	var (
		result any
		err    error
	)
	if c.handler == nil {
		err = &Error{Code: CodeMethodNotFound, Message: "method not found: " + m.Method}
	} else {
		result, err = c.handler(ctx, call)
	}

	if call.Notify {
		if err != nil {
			c.logger.Warn("jsonrpc: notification failed", "path", call.Path, "error", err)
		}
		return nil
	}
	return NewResponse(*m.ID, result, err)
}

func (c *Conn) serveBatch(ctx context.Context, data []byte) {
	var items []RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		c.send(errorResponse(CodeParseError, "parse error"))
		return
	}
	if len(items) == 0 {
		c.send(errorResponse(CodeInvalidRequest, "empty batch"))
		return
	}

	responses := make([]*Message, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		var m Message
		if err := json.Unmarshal(item, &m); err != nil || m.Method == "" {
			responses[i] = errorResponse(CodeInvalidRequest, "invalid request")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			responses[i] = c.serve(ctx, &m)
		}()
	}
	wg.Wait()

	out := make([]*Message, 0, len(responses))
	for _, r := range responses {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) > 0 {
		c.send(out)
	}
}

func (c *Conn) deliver(resp *Message) {
	if ch, ok := c.pending.LoadAndDelete(resp.ID.String()); ok {
		ch.(chan *Message) <- resp
		return
	}
	c.logger.Debug("jsonrpc: response for unknown id", "id", resp.ID.String())
}

func (c *Conn) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("jsonrpc: encoding message", "error", err)
		return
	}
	if err := c.codec.Write(data); err != nil {
		c.logger.Debug("jsonrpc: writing message", "error", err)
	}
}

// Call sends a call for path and waits for its result. An error response is
// returned as *Error.
func (c *Conn) Call(ctx context.Context, path string, payload RawMessage) (RawMessage, error) {
	id := IntID(c.nextID.Add(1))
	data, err := json.Marshal(&Message{JSONRPC: Version, ID: &id, Method: path, Params: payload})
	if err != nil {
		return nil, err
	}

	ch := make(chan *Message, 1)
	c.pending.Store(id.String(), ch)
	defer c.pending.Delete(id.String())

	if err := c.codec.Write(data); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// Notify sends a call for path without waiting. The peer runs it and
// discards the result.
func (c *Conn) Notify(path string, payload RawMessage) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	data, err := json.Marshal(&Message{JSONRPC: Version, Method: path, Params: payload})
	if err != nil {
		return err
	}
	return c.codec.Write(data)
}

// Close terminates the connection.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
