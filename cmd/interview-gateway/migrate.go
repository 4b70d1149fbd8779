package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jetbot/interview-gateway/internal/config"
	"github.com/jetbot/interview-gateway/internal/observability"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
		logger := observability.GetLogger()

		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for migrate")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		pg, err := connectPostgres(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer pg.Close()

		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		logger.Info().Msg("Schema applied")
		return nil
	},
}
