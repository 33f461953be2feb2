package transport

import (
	"io"
	"os"
)

type stdioTransport struct {
	in  io.ReadCloser
	out io.WriteCloser
}

// Stdio returns a Transport backed by os.Stdin and os.Stdout.
func Stdio() Transport {
	return Streams(os.Stdin, os.Stdout)
}

// Streams returns a Transport reading from in and writing to out, such as
// the pipes of a child process.
func Streams(in io.ReadCloser, out io.WriteCloser) Transport {
	return &stdioTransport{in: in, out: out}
}

func (s *stdioTransport) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *stdioTransport) Write(p []byte) (int, error) { return s.out.Write(p) }
func (s *stdioTransport) Close() error {
	s.in.Close()
	return s.out.Close()
}
