package cmd

import (
	"fmt"

	"github.com/psds-microservice/support-service/internal/config"
	"github.com/psds-microservice/support-service/internal/database"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  runMigrate(database.MigrateUp),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last migration",
	RunE:  runMigrate(database.MigrateDown),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print migration status",
	RunE:  runMigrate(database.MigrateStatus),
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

func runMigrate(fn func(databaseURL string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		// sqlite-схема создаётся AutoMigrate при старте, goose работает только с postgres
		if cfg.DB.Driver != config.DriverPostgres {
			return fmt.Errorf("migrate: DB_DRIVER=%s is migrated automatically on start", cfg.DB.Driver)
		}
		if err := fn(cfg.DatabaseURL()); err != nil {
			return fmt.Errorf("migrate %s: %w", cmd.Name(), err)
		}
		log.Info("migrate: ok", "command", cmd.Name())
		return nil
	}
}
