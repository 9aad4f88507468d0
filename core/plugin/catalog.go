package plugin

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/artpar/entitygate/core/schema"
)

// Deps are the collaborators handed to plugin factories.
type Deps struct {
	Logger    zerolog.Logger
	Describer Describer
}

// ProviderFactory builds a provider instance from its configuration.
type ProviderFactory func(cfg schema.ProviderConfiguration, deps Deps) (ProviderPlugin, error)

// AuthorizationFactory builds the authorization plugin from its configuration.
type AuthorizationFactory func(cfg schema.AuthorizationConfiguration, deps Deps) (AuthorizationPlugin, error)

// RouteFactory builds a route plugin from its configuration.
type RouteFactory func(cfg schema.RouteConfiguration, deps Deps) (RoutePlugin, error)

// Catalog maps type names to plugin implementations. Lookups are plain
// map reads; a plugin is selected once when configuration is loaded.
//
// A Catalog is filled during startup and read-only afterwards.
type Catalog struct {
	providers      map[string]ProviderFactory
	authorizations map[string]AuthorizationFactory
	routes         map[string]RouteFactory
	validations    map[string]ValidationPlugin
	tasks          map[string]TaskPlugin
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		providers:      make(map[string]ProviderFactory),
		authorizations: make(map[string]AuthorizationFactory),
		routes:         make(map[string]RouteFactory),
		validations:    make(map[string]ValidationPlugin),
		tasks:          make(map[string]TaskPlugin),
	}
}

// RegisterProvider adds a provider type.
func (c *Catalog) RegisterProvider(typ string, f ProviderFactory) error {
	return register(c.providers, "provider", typ, f)
}

// RegisterAuthorization adds an authorization type.
func (c *Catalog) RegisterAuthorization(typ string, f AuthorizationFactory) error {
	return register(c.authorizations, "authorization", typ, f)
}

// RegisterRoute adds a route plugin. Routes are keyed by name.
func (c *Catalog) RegisterRoute(name string, f RouteFactory) error {
	return register(c.routes, "route", name, f)
}

// RegisterValidation adds a validation type.
func (c *Catalog) RegisterValidation(typ string, p ValidationPlugin) error {
	return register(c.validations, "validation", typ, p)
}

// RegisterTask adds a task type.
func (c *Catalog) RegisterTask(typ string, p TaskPlugin) error {
	return register(c.tasks, "task", typ, p)
}

// Provider returns the provider factory for typ.
func (c *Catalog) Provider(typ string) (ProviderFactory, bool) {
	f, ok := c.providers[typ]
	return f, ok
}

// Authorization returns the authorization factory for typ.
func (c *Catalog) Authorization(typ string) (AuthorizationFactory, bool) {
	f, ok := c.authorizations[typ]
	return f, ok
}

// Route returns the route factory for name.
func (c *Catalog) Route(name string) (RouteFactory, bool) {
	f, ok := c.routes[name]
	return f, ok
}

// Validation returns the validation plugin for typ.
func (c *Catalog) Validation(typ string) (ValidationPlugin, bool) {
	p, ok := c.validations[typ]
	return p, ok
}

// Task returns the task plugin for typ.
func (c *Catalog) Task(typ string) (TaskPlugin, bool) {
	p, ok := c.tasks[typ]
	return p, ok
}

// Types lists the registered type names per kind, sorted.
func (c *Catalog) Types() map[string][]string {
	return map[string][]string{
		"provider":      keys(c.providers),
		"authorization": keys(c.authorizations),
		"route":         keys(c.routes),
		"validation":    keys(c.validations),
		"task":          keys(c.tasks),
	}
}

func register[T any](m map[string]T, kind, typ string, v T) error {
	if typ == "" {
		return fmt.Errorf("%s type is required", kind)
	}
	if _, exists := m[typ]; exists {
		return fmt.Errorf("%s type %q already registered", kind, typ)
	}
	m[typ] = v
	return nil
}

func keys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
