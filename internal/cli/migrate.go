package cli

import (
	"github.com/spf13/cobra"

	"github.com/aristath/swingbot/internal/di"
)

func (a *app) newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the swingbot tables (idempotent)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := di.OpenDatabase(a.cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(); err != nil {
				return err
			}
			if err := db.VerifySchema(cmd.Context()); err != nil {
				return err
			}
			a.printf("Schema applied to %s\n", db.Path())
			return nil
		},
	}
}
