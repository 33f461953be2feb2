// Package transport provides pluggable byte-stream transports for callkit's
// JSON-RPC binding. Supported transports include stdio, TCP, Unix domain
// sockets, named pipes, WebSocket, and in-memory pipes for tests.
package transport

import (
	"io"
	"net"
)

// Transport provides a bidirectional byte stream for JSON-RPC communication.
// Each implementation wraps a specific communication mechanism (stdio, TCP, etc.)
// and exposes it as a simple reader/writer pair.
type Transport interface {
	io.ReadWriteCloser
}

// Listener accepts transports from many clients. Each accepted Transport
// carries one client's calls.
type Listener interface {
	Accept() (Transport, error)
	Close() error
	Addr() net.Addr
}

// netListener adapts a net.Listener, wrapping each connection with wrap.
type netListener struct {
	net.Listener
	wrap func(net.Conn) Transport
}

func (l *netListener) Accept() (Transport, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return l.wrap(conn), nil
}
