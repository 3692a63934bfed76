// Package cli implements the socialgraph command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jacentio/socialgraph/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCommand creates the root command for the socialgraph CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "socialgraph",
		Short: "Social graph service with symmetric friend edges",
		Long: `Social graph service storing people and the friend edges between them.

Configuration is read from --config (YAML) and SOCIALGRAPH_* environment
variables, in that order.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if opts.LogLevel != "" {
				cfg.Log.Level = opts.LogLevel
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			opts.cfg = cfg
			opts.logger = cfg.Log.Logger(cmd.ErrOrStderr())
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (DEBUG|INFO|WARN|ERROR)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewCreateTablesCommand(opts))

	return cmd
}
