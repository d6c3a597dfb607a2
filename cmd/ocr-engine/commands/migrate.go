package commands

import (
	"github.com/spf13/cobra"

	"github.com/cin-dennis/ocr-engine/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := storage.Migrate(ctx, a.db); err != nil {
			return err
		}

		a.logger.Info().Msg("Migrations applied")
		return nil
	},
}
