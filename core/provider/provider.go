// Package provider resolves named provider instances. Instances are built
// once from configuration; several instances of the same type are told
// apart by name.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/schema"
)

// Registry maps provider names to instances.
type Registry struct {
	providers map[string]plugin.ProviderPlugin
	order     []string
}

// New builds one instance per configuration using the catalog factories.
// Instances built before a failure are closed.
func New(catalog *plugin.Catalog, configs []schema.ProviderConfiguration, deps plugin.Deps) (*Registry, error) {
	r := &Registry{providers: make(map[string]plugin.ProviderPlugin, len(configs))}

	for _, cfg := range configs {
		factory, ok := catalog.Provider(cfg.Type)
		if !ok {
			_ = r.Close()
			return nil, fmt.Errorf("provider %q: unknown type %q", cfg.Name, cfg.Type)
		}
		p, err := factory(cfg, deps)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("provider %q: %w", cfg.Name, err)
		}
		r.providers[cfg.Name] = p
		r.order = append(r.order, cfg.Name)
	}
	return r, nil
}

// ByName returns the provider instance with the given name.
func (r *Registry) ByName(name string) (plugin.ProviderPlugin, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the instance names in declaration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// CheckEntities reports every entity bound to a provider that does not exist.
func (r *Registry) CheckEntities(entities []*schema.EntityConfiguration) error {
	var errs []error
	for _, e := range entities {
		if _, ok := r.providers[e.Provider]; !ok {
			errs = append(errs, &MissingError{Entity: e.Name, Provider: e.Provider})
		}
	}
	return errors.Join(errs...)
}

// Prepare hands each provider that implements plugin.Preparer the
// entities bound to it.
func (r *Registry) Prepare(ctx context.Context, entities []*schema.EntityConfiguration) error {
	byProvider := make(map[string][]*schema.EntityConfiguration)
	for _, e := range entities {
		byProvider[e.Provider] = append(byProvider[e.Provider], e)
	}

	for _, name := range r.order {
		preparer, ok := r.providers[name].(plugin.Preparer)
		if !ok || len(byProvider[name]) == 0 {
			continue
		}
		if err := preparer.Prepare(ctx, byProvider[name]); err != nil {
			return fmt.Errorf("prepare provider %q: %w", name, err)
		}
	}
	return nil
}

// Close closes every provider that implements io.Closer.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.order {
		if c, ok := r.providers[name].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close provider %q: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// MissingError reports an entity bound to an unknown provider.
type MissingError struct {
	Entity   string
	Provider string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("entity %q references unknown provider %q", e.Entity, e.Provider)
}
