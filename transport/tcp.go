package transport

import "net"

type tcpTransport struct {
	conn net.Conn
}

// TCP creates a transport from a TCP connection.
func TCP(conn net.Conn) Transport {
	return &tcpTransport{conn: conn}
}

func (t *tcpTransport) Read(p []byte) (int, error)  { return t.conn.Read(p) }
func (t *tcpTransport) Write(p []byte) (int, error) { return t.conn.Write(p) }
func (t *tcpTransport) Close() error                { return t.conn.Close() }

// ListenTCP starts a TCP listener. Every accepted connection becomes a
// transport.
func ListenTCP(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &netListener{Listener: ln, wrap: TCP}, nil
}

// DialTCP connects to a TCP listener.
func DialTCP(addr string) (Transport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return TCP(conn), nil
}
