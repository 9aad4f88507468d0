package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/entitygate/bootstrap"
	"github.com/artpar/entitygate/config"
	"github.com/artpar/entitygate/core/analytics"
	"github.com/artpar/entitygate/core/events"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the application configuration and the entity
configuration tree it points to.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Every entity references a configured provider
  - Every validation, task, route and authorization type exists
  - Providers can prepare their storage

Examples:
  entitygate validate
  entitygate validate --config /etc/entitygate/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "  %s Config syntax valid\n", crossMark)
		return err
	}
	fmt.Fprintf(out, "  %s Config syntax valid\n", checkMark)

	p, closeAll, err := buildPipeline(cfg)
	if err != nil {
		fmt.Fprintf(out, "  %s Entity configuration valid\n", crossMark)
		return err
	}
	defer closeAll()
	fmt.Fprintf(out, "  %s Entity configuration valid\n", checkMark)

	fmt.Fprintf(out, "  %s Entities: %d\n", checkMark, len(p.Registry.Entities()))
	fmt.Fprintf(out, "  %s Providers: %v\n", checkMark, p.Providers.Names())
	fmt.Fprintf(out, "  %s Routes: %d\n", checkMark, len(p.RouteDescriptions()))

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

// buildPipeline builds the pipeline described by cfg without serving it.
// closeAll releases the pipeline and the operation journal, if any.
func buildPipeline(cfg *config.Config) (p *bootstrap.Pipeline, closeAll func(), err error) {
	logger := zerolog.Nop()

	var journal analytics.Store
	var store *analytics.SQLiteStore
	if cfg.Analytics.Enabled {
		if store, err = analytics.Open(cfg.Analytics.DSN, analytics.DefaultSQLiteConfig()); err != nil {
			return nil, nil, err
		}
		journal = store
	}
	closeJournal := func() {
		if store != nil {
			store.Close()
		}
	}

	catalog, err := bootstrap.NewCatalog(logger, events.NewBus(logger), journal)
	if err != nil {
		closeJournal()
		return nil, nil, err
	}
	p, err = bootstrap.LoadPipeline(context.Background(), cfg.Configuration.Path, bootstrap.PipelineOptions{
		Catalog:     catalog,
		DefaultDSN:  cfg.Database.DSN,
		Prefix:      cfg.Server.Prefix,
		MaxPageSize: cfg.Server.MaxPageSize,
		Logger:      logger,
	})
	if err != nil {
		closeJournal()
		return nil, nil, err
	}
	return p, func() {
		p.Close()
		closeJournal()
	}, nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
