package transport

import (
	"net"
	"os"
)

// ListenSocket starts a Unix domain socket listener at path, replacing any
// stale socket file. Closing the listener removes the file.
func ListenSocket(path string) (Listener, error) {
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &socketListener{
		netListener: netListener{Listener: ln, wrap: func(c net.Conn) Transport {
			return &socketTransport{conn: c}
		}},
		path: path,
	}, nil
}

type socketListener struct {
	netListener
	path string
}

func (l *socketListener) Close() error {
	err := l.Listener.Close()
	os.Remove(l.path)
	return err
}

type socketTransport struct {
	conn net.Conn
}

func (s *socketTransport) Read(p []byte) (int, error)  { return s.conn.Read(p) }
func (s *socketTransport) Write(p []byte) (int, error) { return s.conn.Write(p) }
func (s *socketTransport) Close() error                { return s.conn.Close() }
