package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/artpar/entitygate/core/authz"
	chttp "github.com/artpar/entitygate/core/channel/http"
	"github.com/artpar/entitygate/core/i18n"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/provider"
	"github.com/artpar/entitygate/core/registry"
	"github.com/artpar/entitygate/core/runtime"
	"github.com/artpar/entitygate/core/schema"
	"github.com/artpar/entitygate/core/storage"
	"github.com/artpar/entitygate/core/task"
	"github.com/artpar/entitygate/core/validation"
)

// PipelineOptions are the inputs of a pipeline build that do not come
// from the entity configuration tree.
type PipelineOptions struct {
	Catalog *plugin.Catalog

	// DefaultDSN is given to sqlite providers that do not set a dsn.
	DefaultDSN string

	Prefix       string
	MaxPageSize  int
	MaxBodyBytes int64

	// Translator, Recorder and Metrics are optional.
	Translator  i18n.Translator
	Recorder    runtime.Recorder
	Metrics     http.Handler
	MetricsPath string

	Logger zerolog.Logger
}

// Pipeline is one immutable snapshot of everything built from an entity
// configuration tree. A configuration change builds a new Pipeline; a
// running one is never modified.
type Pipeline struct {
	Registry  *registry.Registry
	Providers *provider.Registry
	Service   *runtime.Service
	Channel   *chttp.Channel
	Routes    []plugin.RoutePlugin
}

// LoadPipeline parses the file or directory at path and builds a pipeline from it.
func LoadPipeline(ctx context.Context, path string, opts PipelineOptions) (*Pipeline, error) {
	root, err := schema.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return BuildPipeline(ctx, root, opts)
}

// BuildPipeline checks root and builds a pipeline from it. root is
// modified: sqlite providers receive the default dsn and the
// authorization plugin may contribute to it.
//
// Every reference is checked before anything is served: entity providers,
// validation and task types, route plugin names.
func BuildPipeline(ctx context.Context, root *schema.RootConfiguration, opts PipelineOptions) (*Pipeline, error) {
	if opts.Catalog == nil {
		return nil, errors.New("no plugin catalog")
	}
	logger := opts.Logger
	if opts.Prefix == "" {
		opts.Prefix = chttp.DefaultPrefix
	}

	if opts.DefaultDSN != "" {
		for i := range root.Providers {
			p := &root.Providers[i]
			if p.Type != storage.Type {
				continue
			}
			if _, ok := p.Options.Value("dsn"); !ok {
				p.AddOption("dsn", schema.StringValue(opts.DefaultDSN))
			}
		}
	}

	authorization, err := authz.Resolve(opts.Catalog, root.Authorization, plugin.Deps{Logger: logger})
	if err != nil {
		return nil, err
	}
	if contributor, ok := authorization.(plugin.ConfigurationContributor); ok {
		if err := contributor.Contribute(root); err != nil {
			return nil, fmt.Errorf("authorization contribution: %w", err)
		}
	}

	reg, err := registry.New(root, registry.WithPrefix(opts.Prefix))
	if err != nil {
		return nil, fmt.Errorf("index configuration: %w", err)
	}
	entities := reg.Entities()

	validator := validation.NewRunner(opts.Catalog, logger)
	tasks := task.NewRunner(opts.Catalog, logger)
	if err := errors.Join(validator.Check(entities), tasks.Check(entities)); err != nil {
		return nil, err
	}

	deps := plugin.Deps{Logger: logger, Describer: reg}

	routes := make([]plugin.RoutePlugin, 0, len(reg.Routes()))
	for _, rc := range reg.Routes() {
		factory, ok := opts.Catalog.Route(rc.Name)
		if !ok {
			return nil, fmt.Errorf("route %q: unknown route plugin", rc.Name)
		}
		rp, err := factory(rc, deps)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", rc.Name, err)
		}
		routes = append(routes, rp)
	}

	providers, err := provider.New(opts.Catalog, reg.Providers(), deps)
	if err != nil {
		return nil, err
	}
	if err := providers.CheckEntities(entities); err != nil {
		_ = providers.Close()
		return nil, err
	}
	if err := providers.Prepare(ctx, entities); err != nil {
		_ = providers.Close()
		return nil, err
	}

	service := runtime.New(runtime.Config{
		Entities:  reg,
		Providers: providers,
		Gate:      authz.NewGate(authorization, logger),
		Validator: validator,
		Tasks:     tasks,
		Recorder:  opts.Recorder,
		Logger:    logger,
	})

	channel := chttp.New(chttp.Config{
		Service:      service,
		Routes:       routes,
		Translator:   opts.Translator,
		Metrics:      opts.Metrics,
		MetricsPath:  opts.MetricsPath,
		Prefix:       opts.Prefix,
		MaxPageSize:  opts.MaxPageSize,
		MaxBodyBytes: opts.MaxBodyBytes,
		Logger:       logger,
	})

	logger.Info().
		Int("entities", len(entities)).
		Strs("providers", providers.Names()).
		Int("routes", len(routes)).
		Msg("pipeline built")

	return &Pipeline{
		Registry:  reg,
		Providers: providers,
		Service:   service,
		Channel:   channel,
		Routes:    routes,
	}, nil
}

// RouteDescriptions lists the entity routes followed by the routes of
// every route plugin.
func (p *Pipeline) RouteDescriptions() []schema.RouteDescription {
	out := p.Registry.EntityRoutes()
	entities := p.Registry.Entities()
	for _, rp := range p.Routes {
		out = append(out, rp.Routes(entities)...)
	}
	return out
}

// Close releases the provider instances of the snapshot.
func (p *Pipeline) Close() error {
	if p == nil || p.Providers == nil {
		return nil
	}
	return p.Providers.Close()
}
