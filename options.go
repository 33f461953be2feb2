package callkit

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/LukasParke/callkit/middleware"
	"github.com/LukasParke/callkit/serializer"
	"github.com/LukasParke/callkit/transport"
)

// Option configures a Server during construction.
type Option func(*Server)

// WithLogger sets a custom slog logger on the server.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMiddleware adds handler middleware around every operation.
// Middleware is applied in order: the first middleware is outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Server) {
		s.middlewares = append(s.middlewares, mws...)
	}
}

// WithSteps adds request-level steps, as Server.Use does.
func WithSteps(steps ...middleware.Step[*Context]) Option {
	return func(s *Server) {
		for _, step := range steps {
			s.steps.Use(step)
		}
	}
}

// WithCodec replaces the serializer used for payloads and results.
func WithCodec(c *serializer.Codec) Option {
	return func(s *Server) {
		s.codec = c
	}
}

// WithFallback sets the handler for requests that are not dispatched:
// non-POST methods and paths that do not resolve to an operation.
func WithFallback(h http.Handler) Option {
	return func(s *Server) {
		s.fallback = h
	}
}

// WithCORS sets the allowed origins. "*" allows any origin; no origins
// disables CORS headers.
func WithCORS(origins ...string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithTrustProxy makes the server take the client address and scheme from
// X-Forwarded-* headers.
func WithTrustProxy(trust bool) Option {
	return func(s *Server) {
		s.trustProxy = trust
	}
}

// WithMaxBodySize caps the size of request bodies.
func WithMaxBodySize(n int64) Option {
	return func(s *Server) {
		s.maxBody = n
	}
}

// WithProject sets the Cloud project used for trace fields in request logs.
// It defaults to $GOOGLE_CLOUD_PROJECT.
func WithProject(project string) Option {
	return func(s *Server) {
		s.project = project
	}
}

// ServeOption configures how the server is served.
type ServeOption func(*serveConfig)

type serveConfig struct {
	httpAddr  string
	transport transport.Transport
	listener  func() (transport.Listener, error)
}

// WithHTTP serves the server over HTTP on addr.
func WithHTTP(addr string) ServeOption {
	return func(cfg *serveConfig) {
		cfg.httpAddr = addr
	}
}

// WithStdio configures the server to take JSON-RPC calls over stdin/stdout.
func WithStdio() ServeOption {
	return func(cfg *serveConfig) {
		cfg.transport = transport.Stdio()
	}
}

// WithTransport configures the server to use a specific stream transport.
func WithTransport(t transport.Transport) ServeOption {
	return func(cfg *serveConfig) {
		cfg.transport = t
	}
}

// WithTCP accepts JSON-RPC connections on a TCP address (e.g., ":9257").
func WithTCP(addr string) ServeOption {
	return func(cfg *serveConfig) {
		cfg.listener = func() (transport.Listener, error) {
			return transport.ListenTCP(addr)
		}
	}
}

// WithSocket accepts JSON-RPC connections on a Unix domain socket.
func WithSocket(path string) ServeOption {
	return func(cfg *serveConfig) {
		cfg.listener = func() (transport.Listener, error) {
			return transport.ListenSocket(path)
		}
	}
}

// WithPipe accepts JSON-RPC connections on a named pipe.
func WithPipe(name string) ServeOption {
	return func(cfg *serveConfig) {
		cfg.listener = func() (transport.Listener, error) {
			return transport.ListenPipe(name)
		}
	}
}

// WithWebSocket accepts JSON-RPC connections over WebSocket.
func WithWebSocket(addr string) ServeOption {
	return func(cfg *serveConfig) {
		cfg.listener = func() (transport.Listener, error) {
			return transport.ListenWebSocket(addr)
		}
	}
}

// FromArgs parses os.Args to determine how to serve. Supported flags:
//
//	--http :PORT          (default, $PORT or :8080)
//	--stdio
//	--tcp :PORT
//	--socket PATH
//	--pipe NAME
//	--ws :PORT
func FromArgs() ServeOption {
	return fromArgs(os.Args[1:])
}

func fromArgs(args []string) ServeOption {
	return func(cfg *serveConfig) {
		for i := 0; i < len(args); i++ {
			arg := args[i]
			name, value, hasValue := strings.Cut(arg, "=")
			if !hasValue && i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
				value = args[i+1]
			}
			switch name {
			case "--stdio":
				WithStdio()(cfg)
				return
			case "--http", "--tcp", "--socket", "--pipe", "--ws":
				if value == "" {
					fmt.Fprintf(os.Stderr, "callkit: %s requires a value\n", name)
					os.Exit(1)
				}
				switch name {
				case "--http":
					WithHTTP(value)(cfg)
				case "--tcp":
					WithTCP(value)(cfg)
				case "--socket":
					WithSocket(value)(cfg)
				case "--pipe":
					WithPipe(value)(cfg)
				case "--ws":
					WithWebSocket(value)(cfg)
				}
				return
			}
		}
		cfg.httpAddr = defaultHTTPAddr()
	}
}

func defaultHTTPAddr() string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8080"
}
