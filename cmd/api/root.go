package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ocr-job-pipeline/internal/config"
	"ocr-job-pipeline/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "ocr-api",
	Short:         "OCR job pipeline API",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL")
}

// setup loads configuration from the environment and builds the logger.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, logging.New(cfg.LogLevel), nil
}
