package callkit

import (
	"context"
	"log/slog"
	"os"

	callkitconfig "github.com/LukasParke/callkit/config"
)

// configHolder is stored on the server as an interface to allow generic config types.
type configHolder interface {
	start(logger *slog.Logger) error
	close()
}

// typedConfigHolder is the generic implementation of configHolder.
type typedConfigHolder[T any] struct {
	store   *callkitconfig.Store[T]
	bridge  *callkitconfig.FileBridge[T]
	watcher *callkitconfig.Watcher

	path string
}

// WithConfig enables a typed configuration loaded from path (TOML or YAML,
// picked by extension). The file is read when the server is created and
// watched for changes while Serve runs. defaults is used when the file does
// not exist.
func WithConfig[T any](path string, defaults T) Option {
	return func(s *Server) {
		initial := defaults
		store := callkitconfig.NewStore(&initial)
		holder := &typedConfigHolder[T]{
			store:  store,
			bridge: callkitconfig.NewFileBridge(store, path, &defaults),
			path:   path,
		}
		if _, err := os.Stat(path); err == nil {
			if err := holder.bridge.HandleChange(); err != nil {
				s.logger.Warn("failed to load initial config", "path", path, "error", err)
			}
		}
		s.configHolder = holder
	}
}

// Config retrieves the current typed config for the call.
// T must match the type used in WithConfig.
func Config[T any](c *Context) *T {
	return ServerConfig[T](c.server)
}

// ServerConfig retrieves the current typed config of s.
func ServerConfig[T any](s *Server) *T {
	if s == nil || s.configHolder == nil {
		return nil
	}
	if h, ok := s.configHolder.(*typedConfigHolder[T]); ok {
		return h.store.Get()
	}
	return nil
}

// OnConfigChange registers a callback for config changes. Must be called
// with the same type T used in WithConfig.
func OnConfigChange[T any](s *Server, fn func(c *Context, old, new_ *T)) {
	if s.configHolder == nil {
		return
	}
	if h, ok := s.configHolder.(*typedConfigHolder[T]); ok {
		h.store.OnChange(func(old, new_ *T) {
			c := newContext(context.Background(), s, "", nil)
			fn(c, old, new_)
		})
	}
}

func (h *typedConfigHolder[T]) start(logger *slog.Logger) error {
	watcher, err := callkitconfig.NewWatcher(h.path, func() {
		if err := h.bridge.HandleChange(); err != nil {
			logger.Warn("failed to reload config", "path", h.path, "error", err)
		}
	}, callkitconfig.WithWatcherLogger(logger))
	if err != nil {
		// File watching is best-effort; log and continue if it fails
		logger.Warn("failed to start config watcher", "path", h.path, "error", err)
		return nil
	}
	h.watcher = watcher
	return nil
}

func (h *typedConfigHolder[T]) close() {
	if h.watcher != nil {
		h.watcher.Close()
	}
}
