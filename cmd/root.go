package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/psds-microservice/support-service/internal/config"
	"github.com/psds-microservice/support-service/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "support-service",
	Short: "Support chat sessions and ticket lifecycle: REST, WebSocket and gRPC API (PSDS)",
	RunE:  runAPI,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
}

// loadConfig читает .env и окружение и проверяет конфигурацию.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	log := logging.New(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	slog.SetDefault(log)
	return cfg, log, nil
}
