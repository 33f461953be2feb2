// Package appengine serves a callkit server the way App Engine expects:
// behind a trusted proxy, with warmup and lifecycle requests under /_ah/.
package appengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/LukasParke/callkit"
)

// InitFunc runs for GET /_ah/{command} requests, such as warmup, start and
// stop. It is the place to build expensive clients before traffic arrives.
type InitFunc func(ctx context.Context, command string) error

// Handler routes /_ah/ requests to init and everything else to s. init may
// be nil. Forwarded client addresses are trusted.
func Handler(s *callkit.Server, init InitFunc) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /_ah/{command}", func(w http.ResponseWriter, r *http.Request) {
		command := r.PathValue("command")
		if init != nil {
			if err := init(r.Context(), command); err != nil {
				s.Logger().Error("instance init failed", "command", command, "error", err)
				e := callkit.ShapeError(err)
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(e.Status)
				body, _ := e.MarshalJSON()
				_, _ = w.Write(body)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("/", s)
	return callkit.TrustForwarded(mux)
}

// ListenAndServe serves Handler(s, init) on $PORT, or :8080, until ctx is
// done.
func ListenAndServe(ctx context.Context, s *callkit.Server, init InitFunc) error {
	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(s, init),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.Logger().Info("app engine instance starting", "name", s.Name(), "version", s.Version(), "addr", addr)
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
