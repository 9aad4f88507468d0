package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/entitygate/config"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "entitygate",
	Short: "Configuration-driven CRUD API for dynamic entities",
	Long: `entitygate serves create, read, update, patch, delete and list
endpoints for entities declared in YAML. Storage, authorization,
validation and lifecycle tasks are plugins selected by configuration.

Quick start:
  entitygate validate  # Check the entity configuration
  entitygate routes    # Print the served routes
  entitygate serve     # Start the HTTP server`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "entitygate.yaml", "config file path")
}

// loadConfig reads --config, falling back to ENTITYGATE_* variables.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
