package transport

import "net"

// ListenPipe starts a named pipe listener. On Unix systems a named pipe is a
// Unix domain socket.
func ListenPipe(name string) (Listener, error) {
	return ListenSocket(name)
}

// DialPipe connects to an existing named pipe / Unix domain socket.
func DialPipe(name string) (Transport, error) {
	conn, err := net.Dial("unix", name)
	if err != nil {
		return nil, err
	}
	return &socketTransport{conn: conn}, nil
}
