package main

import (
	"fmt"
	"os"

	"github.com/huangang/codereview-ai/backend/internal/config"
	"github.com/huangang/codereview-ai/backend/internal/models"
	"github.com/huangang/codereview-ai/backend/pkg/logger"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "codereview",
	Short: "CodeReview AI backend",
	Long: `codereview accepts source files over HTTP, analyses them with a
language model in the background and serves the findings.`,
	SilenceUsage: true,
	// Running the binary without a subcommand starts the API server.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (and an in-process worker unless disabled)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a standalone analysis worker (requires Redis)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := models.InitDB(&cfg.Database, cfg.Server.Mode == "debug"); err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		if err := models.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info().Str("driver", cfg.Database.Driver).Msg("database migrated")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "config file (default config.yaml)")
	rootCmd.AddCommand(serveCmd, workerCmd, migrateCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
