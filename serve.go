package callkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/LukasParke/callkit/jsonrpc"
	"github.com/LukasParke/callkit/transport"
)

// Serve starts the server using the given options. Without options the
// server listens for HTTP on $PORT, or :8080.
func Serve(s *Server, opts ...ServeOption) error {
	return ServeContext(context.Background(), s, opts...)
}

// ServeContext is like Serve but stops when ctx is done.
func ServeContext(ctx context.Context, s *Server, opts ...ServeOption) error {
	cfg := &serveConfig{}
	for _, o := range opts {
		o(cfg)
	}

	if s.configHolder != nil {
		if err := s.configHolder.start(s.logger); err != nil {
			s.logger.Warn("config watcher failed to start", "error", err)
		}
		defer s.configHolder.close()
	}

	switch {
	case cfg.transport != nil:
		s.logger.Info("callkit server starting", "name", s.name, "version", s.version, "mode", "stream")
		return s.ServeConn(ctx, cfg.transport)
	case cfg.listener != nil:
		ln, err := cfg.listener()
		if err != nil {
			return fmt.Errorf("creating listener: %w", err)
		}
		s.logger.Info("callkit server starting", "name", s.name, "version", s.version, "addr", ln.Addr().String())
		return s.serveListener(ctx, ln)
	default:
		addr := cfg.httpAddr
		if addr == "" {
			addr = defaultHTTPAddr()
		}
		s.logger.Info("callkit server starting", "name", s.name, "version", s.version, "addr", addr)
		return s.serveHTTP(ctx, addr)
	}
}

func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ServeConn answers JSON-RPC calls on a single stream until it closes.
func (s *Server) ServeConn(ctx context.Context, t transport.Transport) error {
	codec := jsonrpc.NewCodec(t, t, jsonrpc.WithMaxMessageSize(s.maxBody))
	conn := jsonrpc.NewConn(codec, s.CallRPC, jsonrpc.WithLogger(s.logger))
	defer t.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
		t.Close()
	})
	defer stop()

	err := conn.Run(ctx)
	if err == nil || ctx.Err() != nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("server error: %w", err)
}

func (s *Server) serveListener(ctx context.Context, ln transport.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		t, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.ServeConn(ctx, t); err != nil {
				s.logger.Debug("connection closed", "error", err)
			}
		}()
	}
}
