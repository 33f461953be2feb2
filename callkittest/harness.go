// Package callkittest provides testing utilities for callkit servers. It
// starts servers on httptest listeners or in-memory streams and offers
// assertion helpers for outcomes and error envelopes.
package callkittest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LukasParke/callkit"
	"github.com/LukasParke/callkit/jsonrpc"
	"github.com/LukasParke/callkit/serializer"
	"github.com/LukasParke/callkit/transport"
)

// DefaultTimeout bounds every call made through the harness clients.
const DefaultTimeout = 5 * time.Second

// NewServer serves s on an httptest server that is closed when the test
// completes.
func NewServer(t testing.TB, s *callkit.Server) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv
}

// NewClient serves s over HTTP and returns a client pointed at it.
func NewClient(t testing.TB, s *callkit.Server, opts ...callkit.ClientOption) *callkit.Client {
	t.Helper()
	srv := NewServer(t, s)
	opts = append([]callkit.ClientOption{callkit.WithHTTPClient(srv.Client())}, opts...)
	return callkit.NewClient(srv.URL, opts...)
}

// StreamClient calls a server over an in-memory JSON-RPC stream.
type StreamClient struct {
	t     testing.TB
	conn  *jsonrpc.Conn
	codec *serializer.Codec
}

// NewStreamClient connects a client to s over an in-memory transport. The
// server runs in a background goroutine and is stopped when the test
// completes.
func NewStreamClient(t testing.TB, s *callkit.Server) *StreamClient {
	t.Helper()
	clientTransport, serverTransport := transport.MemoryPipe()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.ServeConn(ctx, serverTransport); err != nil {
			t.Logf("server error: %v", err)
		}
	}()

	codec := jsonrpc.NewCodec(clientTransport, clientTransport)
	conn := jsonrpc.NewConn(codec, nil, jsonrpc.WithLogger(s.Logger()))
	go conn.Run(ctx)

	t.Cleanup(func() {
		cancel()
		conn.Close()
		clientTransport.Close()
		<-done
	})
	return &StreamClient{t: t, conn: conn, codec: s.Codec()}
}

// Call invokes path with args and decodes the result into result, which may
// be nil. Failed calls return *callkit.Error with the status as code.
func (c *StreamClient) Call(path string, result any, args ...any) error {
	c.t.Helper()
	payload, err := c.payload(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	raw, err := c.conn.Call(ctx, path, payload)
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		e := callkit.ShapeError(rpcErr)
		if e.Data != nil {
			if v, rerr := c.codec.Revive(e.Data); rerr == nil {
				e.Data, _ = v.(map[string]any)
			}
		}
		return e
	}
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	v, err := c.codec.Parse(raw)
	if err != nil {
		return err
	}
	return serializer.Decode(v, result)
}

// Notify invokes path with args as a notification and returns without
// waiting for it to run.
func (c *StreamClient) Notify(path string, args ...any) error {
	c.t.Helper()
	payload, err := c.payload(args)
	if err != nil {
		return err
	}
	return c.conn.Notify(path, payload)
}

func (c *StreamClient) payload(args []any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	return c.codec.Marshal(args)
}
