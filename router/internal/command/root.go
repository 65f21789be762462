// Package command implements the telhawk-router command line.
package command

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-router/common/config"
	"github.com/telhawk-systems/telhawk-router/common/logging"
)

// Version is stamped at build time.
var Version = "0.1.0"

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "telhawk-router",
		Short: "Decode raw log envelopes and route them into streams",
		Long: `telhawk-router consumes raw envelopes from the ingest bus, decodes them
with the codec named on each envelope, and routes the resulting messages to
every stream whose rules they match.

Stream definitions are read from PostgreSQL or a YAML file and recompiled
whenever the catalog announces a change.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: $TELHAWK_CONFIG_DIR/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newStreamsCommand(opts),
		newRouteCommand(opts),
		newSeedCommand(opts),
	)
	return cmd
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (o *rootOptions) load() (*config.Config, error) {
	if o.configPath != "" {
		return config.LoadFile(o.configPath)
	}
	return config.Load()
}

// logger writes to w so command output on stdout stays parseable.
func (o *rootOptions) logger(cfg *config.Config, w io.Writer) *logging.Logger {
	level := cfg.Logging.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	return logging.NewWithWriter(w, logging.ParseLevel(level), cfg.Logging.Format).With(logging.Service("router"))
}
