package main

import (
	"ecoswap/internal/db"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, zapLogger, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = zapLogger.Sync() }()

		dbConn, err := db.Connect(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer dbConn.Close()

		if err := db.Migrate(cmd.Context(), dbConn); err != nil {
			return err
		}
		zapLogger.Info("Migrations applied")
		return nil
	},
}
