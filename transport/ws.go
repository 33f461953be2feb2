package transport

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"
)

// ListenWebSocket starts an HTTP server with WebSocket upgrade on the given
// address. Every upgraded connection becomes a transport; one WebSocket
// message carries one framed JSON-RPC message.
func ListenWebSocket(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &wsListener{
		ln:     ln,
		conns:  make(chan *wsTransport),
		closed: make(chan struct{}),
	}
	l.srv = &http.Server{Handler: websocket.Handler(l.handle)}
	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.fail(err)
		}
	}()
	return l, nil
}

type wsListener struct {
	ln  net.Listener
	srv *http.Server

	conns     chan *wsTransport
	closed    chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// handle runs for the lifetime of one WebSocket connection; the HTTP server
// closes the connection when it returns.
func (l *wsListener) handle(ws *websocket.Conn) {
	t := &wsTransport{conn: ws, done: make(chan struct{})}
	select {
	case l.conns <- t:
	case <-l.closed:
		return
	}
	select {
	case <-t.done:
	case <-l.closed:
	}
}

func (l *wsListener) Accept() (Transport, error) {
	select {
	case t := <-l.conns:
		return t, nil
	case <-l.closed:
		l.errMu.Lock()
		defer l.errMu.Unlock()
		if l.err != nil {
			return nil, l.err
		}
		return nil, net.ErrClosed
	}
}

func (l *wsListener) fail(err error) {
	l.errMu.Lock()
	l.err = err
	l.errMu.Unlock()
	l.closeOnce.Do(func() { close(l.closed) })
}

func (l *wsListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return l.srv.Close()
}

func (l *wsListener) Addr() net.Addr { return l.ln.Addr() }

// DialWebSocket connects to a WebSocket listener at url (ws://host/path).
func DialWebSocket(url, origin string) (Transport, error) {
	ws, err := websocket.Dial(url, "", origin)
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: ws, done: make(chan struct{})}, nil
}

type wsTransport struct {
	conn *websocket.Conn
	// pending holds the unread rest of the last message.
	pending []byte

	done      chan struct{}
	closeOnce sync.Once
}

func (w *wsTransport) Read(p []byte) (int, error) {
	if len(w.pending) == 0 {
		var msg []byte
		if err := websocket.Message.Receive(w.conn, &msg); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			return 0, err
		}
		w.pending = msg
	}
	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

func (w *wsTransport) Write(p []byte) (int, error) {
	if err := websocket.Message.Send(w.conn, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsTransport) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}
