// Package cli implements the callkit command line: serve the gateway, call
// operations on a running server, publish push messages and print the
// version.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/LukasParke/callkit/logging"
)

// Version is stamped at build time.
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config   string
	LogLevel string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "callkit",
		Short: "Path-addressed RPC gateway",
		Long: `callkit serves operations addressed by slash-delimited paths over HTTP or
JSON-RPC streams, and calls them from the command line.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.LogLevel == "" {
				return nil
			}
			if _, err := logging.ParseLevel(opts.LogLevel); err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "settings file (TOML or YAML)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "minimum log severity, overrides the settings file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewCallCommand(opts))
	cmd.AddCommand(NewPublishCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// newLogger returns a Cloud Logging JSON logger at level, which may be
// empty for INFO.
func newLogger(w io.Writer, level *slog.LevelVar, name string) *slog.Logger {
	return logging.New(w, logging.WithLevel(level), logging.WithPrefix("["+name+"] "))
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "callkit %s\n", Version)
		},
	}
}
