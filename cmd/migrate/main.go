package main

import (
	"fmt"
	"os"

	"github.com/Rrens/laundry-chat/internal/config"
	"github.com/Rrens/laundry-chat/internal/logger"
	"github.com/Rrens/laundry-chat/internal/repository/postgres"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var sourceURL string

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back the chat database schema",
	Long: `migrate runs the SQL files under migrations/ against the Postgres database
described by the server configuration (CONFIG_PATH, POSTGRES_* variables).

SQLite stores create their schema on open and need no migration.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := logger.Setup(config.LoggingConfig{Level: "info", Format: "console"}, false)
		return err
	},
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadPostgresConfig()
		if err != nil {
			return err
		}
		return postgres.RunMigrations(cfg.DSN(), sourceURL)
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		if steps <= 0 {
			return fmt.Errorf("--steps must be positive")
		}
		cfg, err := loadPostgresConfig()
		if err != nil {
			return err
		}
		return postgres.RollbackMigrations(cfg.DSN(), sourceURL, steps)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sourceURL, "source", "file://migrations", "Migration source URL")
	downCmd.Flags().Int("steps", 1, "Number of migrations to roll back")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
}

func loadPostgresConfig() (config.DatabaseConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.DatabaseConfig{}, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		return config.DatabaseConfig{}, fmt.Errorf("migrations only apply to the %s driver, configured %q", config.DriverPostgres, cfg.Database.Driver)
	}
	return cfg.Database, nil
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
