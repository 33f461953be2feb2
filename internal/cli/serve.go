package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LukasParke/callkit"
	"github.com/LukasParke/callkit/appengine"
	"github.com/LukasParke/callkit/config"
	"github.com/LukasParke/callkit/docstore"
	"github.com/LukasParke/callkit/internal/gateway"
	"github.com/LukasParke/callkit/logging"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr      string
	Stdio     bool
	TCP       string
	Socket    string
	WebSocket string
	AppEngine bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long: `Run the gateway over HTTP (the default), a JSON-RPC stream, or as an App
Engine instance. Settings come from --config and the environment; changes to
the log level in the settings file apply without a restart.

Example:
  callkit serve --config callkit.toml
  callkit serve --tcp :9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "http", "", "HTTP listen address, overrides the settings file")
	cmd.Flags().BoolVar(&opts.Stdio, "stdio", false, "serve JSON-RPC on stdin/stdout")
	cmd.Flags().StringVar(&opts.TCP, "tcp", "", "serve JSON-RPC on a TCP address")
	cmd.Flags().StringVar(&opts.Socket, "socket", "", "serve JSON-RPC on a Unix socket")
	cmd.Flags().StringVar(&opts.WebSocket, "ws", "", "serve JSON-RPC over WebSocket on an address")
	cmd.Flags().BoolVar(&opts.AppEngine, "appengine", false, "serve as an App Engine instance on $PORT")
	cmd.MarkFlagsMutuallyExclusive("http", "stdio", "tcp", "socket", "ws", "appengine")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *ServeOptions) error {
	settings, err := config.LoadSettings(opts.Config, os.Getenv)
	if err != nil {
		return err
	}
	if opts.LogLevel != "" {
		settings.LogLevel = opts.LogLevel
	}

	level := new(slog.LevelVar)
	if err := setLevel(level, settings.LogLevel); err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), level, gateway.Name)

	store, err := docstore.Open(settings.Database, docstore.WithLogger(logger))
	if err != nil {
		return err
	}
	defer store.Close()

	g := gateway.New(store, settings, Version)
	var extra []callkit.Option
	if opts.Config != "" {
		extra = append(extra, callkit.WithConfig(opts.Config, *settings))
	}
	s := g.NewServer(settings, logger, extra...)
	defer g.Watch(s)()

	callkit.OnConfigChange(s, func(c *callkit.Context, old, new_ *config.Settings) {
		if opts.LogLevel != "" || old.LogLevel == new_.LogLevel {
			return
		}
		if err := setLevel(level, new_.LogLevel); err != nil {
			c.Logger().Warn("ignoring log level change", "error", err)
			return
		}
		c.Logger().Info("log level changed", "from", old.LogLevel, "to", new_.LogLevel)
	})

	if opts.AppEngine {
		return appengine.ListenAndServe(ctx, s, func(ctx context.Context, command string) error {
			logger.Info("instance lifecycle request", "command", command)
			return nil
		})
	}
	return callkit.ServeContext(ctx, s, serveOption(opts, settings))
}

func serveOption(opts *ServeOptions, settings *config.Settings) callkit.ServeOption {
	switch {
	case opts.Stdio:
		return callkit.WithStdio()
	case opts.TCP != "":
		return callkit.WithTCP(opts.TCP)
	case opts.Socket != "":
		return callkit.WithSocket(opts.Socket)
	case opts.WebSocket != "":
		return callkit.WithWebSocket(opts.WebSocket)
	case opts.Addr != "":
		return callkit.WithHTTP(opts.Addr)
	}
	return callkit.WithHTTP(settings.Addr)
}

func setLevel(v *slog.LevelVar, name string) error {
	if name == "" {
		v.Set(slog.LevelInfo)
		return nil
	}
	l, err := logging.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	v.Set(l)
	return nil
}
