package command

import (
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-router/router/internal/catalog"
)

func newMigrateCommand(root *rootOptions) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the stream catalog schema",
		Long: `Apply or roll back the stream catalog schema in PostgreSQL. Migrations are
embedded in the binary; --source points at a directory of migration files
instead (for example file:///migrations).`,
	}
	cmd.PersistentFlags().StringVar(&source, "source", "", "migration source URL (default: embedded migrations)")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger := root.logger(cfg, cmd.ErrOrStderr())
			if err := catalog.Migrate(cfg.Database.Postgres.ConnString(), source); err != nil {
				return err
			}
			logger.Info("migrations applied", "database", cfg.Database.Postgres.Database)
			return nil
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger := root.logger(cfg, cmd.ErrOrStderr())
			if err := catalog.MigrateDown(cfg.Database.Postgres.ConnString(), source); err != nil {
				return err
			}
			logger.Info("migrations rolled back", "database", cfg.Database.Postgres.Database)
			return nil
		},
	}

	cmd.AddCommand(up, down)
	return cmd
}
