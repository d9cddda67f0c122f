package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rl1809/stock-count/internal/adapter/storage"
	"github.com/rl1809/stock-count/internal/config"
	"github.com/rl1809/stock-count/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer log.Sync()

		verbose, _ := cmd.Flags().GetBool("verbose")
		if err := storage.Migrate(cfg.DBDriver, cfg.DBDSN, verbose, log); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		return nil
	},
}
