// Package bootstrap wires all dependencies and starts the application.
// The application configuration says where the entity configuration tree
// lives; the tree is turned into a Pipeline that the HTTP server serves
// and that is rebuilt and swapped whenever the tree changes.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/artpar/entitygate/adapters/metrics"
	"github.com/artpar/entitygate/config"
	"github.com/artpar/entitygate/core/analytics"
	chttp "github.com/artpar/entitygate/core/channel/http"
	"github.com/artpar/entitygate/core/events"
	"github.com/artpar/entitygate/core/i18n"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/runtime"
)

// App represents the running application.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Metrics    *metrics.Collector
	Journal    *analytics.SQLiteStore
	Translator i18n.Translator
	Bus        *events.Bus
	Catalog    *plugin.Catalog

	// Pipelines holds the current pipeline snapshot.
	Pipelines *config.Holder[Pipeline]
	Server    *chttp.Server

	mu      sync.Mutex // guards serving and retired
	serving *Pipeline
	retired map[*Pipeline]*time.Timer
}

// New builds the application from cfg. The initial pipeline must build;
// later rebuild failures keep the running one.
func New(cfg *config.Config) (*App, error) {
	logger := SetupLogger(cfg.Logging)
	return NewWithLogger(cfg, logger)
}

// NewWithLogger is New with an explicit logger.
func NewWithLogger(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Bus:    events.NewBus(logger.With().Str("component", "events").Logger()),

		retired: make(map[*Pipeline]*time.Timer),
	}
	a.Bus.Subscribe("*", events.LogHandler(logger.With().Str("component", "events").Logger()))

	if cfg.I18n.Dir != "" {
		catalog, err := i18n.LoadDir(cfg.I18n.Dir, cfg.I18n.DefaultLanguage)
		if err != nil {
			return nil, fmt.Errorf("load messages: %w", err)
		}
		a.Translator = catalog
		logger.Info().Strs("languages", catalog.Languages()).Msg("message catalogs loaded")
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	}

	var journal analytics.Store
	if cfg.Analytics.Enabled {
		jcfg := analytics.DefaultSQLiteConfig()
		jcfg.Retention = cfg.Analytics.Retention
		jcfg.Logger = logger.With().Str("component", "analytics").Logger()
		store, err := analytics.Open(cfg.Analytics.DSN, jcfg)
		if err != nil {
			return nil, err
		}
		a.Journal = store
		journal = store
		logger.Info().Str("dsn", cfg.Analytics.DSN).Msg("operation journal enabled")
	}

	catalog, err := NewCatalog(logger, a.Bus, journal)
	if err != nil {
		a.closeJournal()
		return nil, err
	}
	a.Catalog = catalog

	opts := a.pipelineOptions()
	reloading := false
	build := func() (*Pipeline, error) {
		p, err := LoadPipeline(context.Background(), cfg.Configuration.Path, opts)
		if reloading && a.Metrics != nil {
			a.Metrics.ObserveReload(err)
		}
		return p, err
	}

	holder, err := config.NewHolder(cfg.Configuration.Path, build, logger)
	if err != nil {
		a.closeJournal()
		return nil, err
	}
	reloading = true
	a.Pipelines = holder
	a.serving = holder.Get()

	a.Server = chttp.NewServer(cfg.Server.Addr(), a.serving.Channel, logger)
	a.Server.SetTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)

	holder.OnChange(a.swap)

	return a, nil
}

func (a *App) pipelineOptions() PipelineOptions {
	opts := PipelineOptions{
		Catalog:      a.Catalog,
		DefaultDSN:   a.Config.Database.DSN,
		Prefix:       a.Config.Server.Prefix,
		MaxPageSize:  a.Config.Server.MaxPageSize,
		MaxBodyBytes: a.Config.Server.MaxBodyBytes,
		Translator:   a.Translator,
		Logger:       a.Logger,
	}
	var recorders runtime.Recorders
	if a.Metrics != nil {
		recorders = append(recorders, a.Metrics)
		opts.Metrics = a.Metrics.Handler()
		opts.MetricsPath = a.Config.Metrics.Path
	}
	if a.Journal != nil {
		recorders = append(recorders, a.Journal)
	}
	switch len(recorders) {
	case 0:
	case 1:
		opts.Recorder = recorders[0]
	default:
		opts.Recorder = recorders
	}
	return opts
}

func (a *App) closeJournal() {
	if a.Journal == nil {
		return
	}
	if err := a.Journal.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("operation journal close error")
	}
}

// swap serves p. The previous snapshot is closed once requests started
// on it have had the write timeout to finish.
func (a *App) swap(p *Pipeline) {
	a.mu.Lock()
	defer a.mu.Unlock()

	old := a.serving
	a.serving = p
	a.Server.Swap(p.Channel)
	a.retired[old] = time.AfterFunc(a.Config.Server.WriteTimeout, func() { a.retire(old) })

	a.Logger.Info().Int("entities", len(p.Registry.Entities())).Msg("pipeline swapped")
}

func (a *App) retire(p *Pipeline) {
	a.mu.Lock()
	_, ok := a.retired[p]
	delete(a.retired, p)
	a.mu.Unlock()

	if !ok {
		return
	}
	if err := p.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("close retired pipeline")
	}
}

// Handler returns the handler of the current pipeline.
func (a *App) Handler() http.Handler {
	return a.Server.Handler()
}

// Run starts serving and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx := context.Background()

	if a.Config.Configuration.Watch {
		if err := a.Pipelines.WatchFile(); err != nil {
			return fmt.Errorf("watch configuration: %w", err)
		}
	}
	a.Pipelines.WatchSignals()

	a.Logger.Info().
		Str("addr", a.Config.Server.Addr()).
		Str("configuration", a.Config.Configuration.Path).
		Msg("starting http server")
	if err := a.Server.Start(ctx); err != nil {
		a.Pipelines.Stop()
		return fmt.Errorf("server error: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.Pipelines != nil {
		a.Pipelines.Stop()
	}

	if a.Server != nil {
		if err := a.Server.Stop(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	a.mu.Lock()
	closing := []*Pipeline{a.serving}
	for p, timer := range a.retired {
		if timer.Stop() {
			closing = append(closing, p)
			delete(a.retired, p)
		}
	}
	a.mu.Unlock()

	for _, p := range closing {
		if err := p.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("provider close error")
		}
	}
	a.closeJournal()

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// SetupLogger builds the process logger from the logging section.
func SetupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
