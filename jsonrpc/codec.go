package jsonrpc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"sync"
)

// DefaultMaxMessageSize bounds a message body unless WithMaxMessageSize
// says otherwise.
const DefaultMaxMessageSize = 10 << 20

// ErrMessageTooLarge is returned by Read for a Content-Length above the limit.
var ErrMessageTooLarge = errors.New("jsonrpc: message too large")

// Codec reads and writes Content-Length framed messages. Headers other than
// Content-Length are ignored.
type Codec struct {
	reader  *textproto.Reader
	writer  io.Writer
	wmu     sync.Mutex
	maxSize int64
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithMaxMessageSize limits message bodies to n bytes. n <= 0 removes the
// limit.
func WithMaxMessageSize(n int64) CodecOption {
	return func(c *Codec) { c.maxSize = n }
}

// NewCodec creates a codec reading from r and writing to w.
func NewCodec(r io.Reader, w io.Writer, opts ...CodecOption) *Codec {
	c := &Codec{writer: w, maxSize: DefaultMaxMessageSize}
	if r != nil {
		c.reader = textproto.NewReader(bufio.NewReaderSize(r, 64*1024))
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Read reads one message body.
func (c *Codec) Read() ([]byte, error) {
	header, err := c.reader.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	raw := header.Get("Content-Length")
	if raw == "" {
		return nil, errors.New("missing Content-Length header")
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid Content-Length %q", raw)
	}
	if c.maxSize > 0 && n > c.maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(c.reader.R, body); err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

// Write writes one framed message. It is safe for concurrent use.
func (c *Codec) Write(data []byte) error {
	frame := make([]byte, 0, len(data)+32)
	frame = append(frame, "Content-Length: "...)
	frame = strconv.AppendInt(frame, int64(len(data)), 10)
	frame = append(frame, "\r\n\r\n"...)
	frame = append(frame, data...)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.writer.Write(frame)
	return err
}
