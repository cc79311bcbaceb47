package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ocr-job-pipeline/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		st, err := store.New(cmd.Context(), cfg.Store.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer st.Close()

		if err := st.RunMigrations(cmd.Context(), log.Named("migrate")); err != nil {
			return err
		}
		log.Info("database migrated")
		return nil
	},
}
