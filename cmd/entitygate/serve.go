package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/entitygate/bootstrap"
)

var watch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the entitygate HTTP server.

The server will:
  - Load configuration from entitygate.yaml (or --config)
  - Or load configuration from ENTITYGATE_* environment variables
  - Build the entity pipeline from configuration.path
  - Serve the entity routes under server.prefix
  - Rebuild the pipeline on SIGHUP, and on file changes with --watch

Environment variables (for Docker deployments):
  ENTITYGATE_CONFIGURATION_PATH  - Entity configuration file or directory (required)
  ENTITYGATE_SERVER_PORT         - Server port (default: 8080)
  ENTITYGATE_DATABASE_DSN        - Default sqlite database (default: entitygate.db)
  ENTITYGATE_LOG_LEVEL           - Log level: debug, info, warn, error

Examples:
  entitygate serve
  entitygate serve --config /etc/entitygate/config.yaml --watch`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&watch, "watch", false, "rebuild the pipeline when the entity configuration changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("watch") {
		cfg.Configuration.Watch = watch
	}

	app, err := bootstrap.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
