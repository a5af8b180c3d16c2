package main

import (
	"context"
	"fmt"
	"os"

	"ecoswap/internal/config"
	"ecoswap/internal/db"
	"ecoswap/internal/logger"
	"ecoswap/pkg"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:           "ecoswap",
	Short:         "EcoSWAP carbon-credit ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the process logger shared by
// every subcommand.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, zapLogger, nil
}

// openStores returns the configured backend and a function releasing it.
// The Postgres backend is migrated before use.
func openStores(ctx context.Context, cfg *config.Config, log pkg.Logger) (db.Stores, func(), error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("Using in-memory storage, state is lost on exit")
		return db.NewMemoryStores(), func() {}, nil
	}

	dbConn, err := db.Connect(ctx, cfg)
	if err != nil {
		return db.Stores{}, nil, err
	}
	if err := db.Migrate(ctx, dbConn); err != nil {
		_ = dbConn.Close()
		return db.Stores{}, nil, err
	}
	log.Info("Connected to database", zap.String("host", cfg.DatabaseHost), zap.String("name", cfg.DatabaseName))
	return db.NewPostgresStores(dbConn), func() { _ = dbConn.Close() }, nil
}
