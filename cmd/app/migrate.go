package main

import (
	"github.com/spf13/cobra"

	pg "github.com/operio-dev/1nproject/internal/infra/db/postgres"
)

func migrateCmd() *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			if status {
				return pg.MigrationStatus(cmd.Context(), a.pool)
			}
			if err := pg.Migrate(cmd.Context(), a.pool); err != nil {
				return err
			}
			a.log.Info().Msg("migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print migration status instead of applying")
	return cmd
}
