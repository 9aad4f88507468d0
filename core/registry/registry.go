// Package registry indexes a configuration tree for lookup by name.
// A Registry is built once from a RootConfiguration and never changes;
// a new configuration produces a new Registry.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/artpar/entitygate/core/schema"
)

// DefaultPrefix is the path prefix of entity routes.
const DefaultPrefix = "/api"

// Registry resolves configuration by name. Safe for concurrent readers.
type Registry struct {
	prefix string

	entities      []*schema.EntityConfiguration
	byName        map[string]*schema.EntityConfiguration
	byRoute       map[string]*schema.EntityConfiguration
	providers     map[string]schema.ProviderConfiguration
	providerList  []schema.ProviderConfiguration
	tasks         map[string]schema.TaskConfiguration
	validations   map[string]schema.ValidationConfiguration
	routes        []schema.RouteConfiguration
	authorization *schema.AuthorizationConfiguration

	descriptions map[string]schema.EntityDescription
	entityRoutes []schema.RouteDescription
}

// Option customizes a Registry.
type Option func(*Registry)

// WithPrefix sets the path prefix used in entity route descriptions.
func WithPrefix(prefix string) Option {
	return func(r *Registry) {
		r.prefix = strings.TrimSuffix(prefix, "/")
	}
}

// New indexes root. Entity task and validation entries that only carry a
// name are replaced by the root-level definition of that name. The tree
// passed in is not retained.
func New(root *schema.RootConfiguration, opts ...Option) (*Registry, error) {
	r := &Registry{
		prefix:       DefaultPrefix,
		byName:       make(map[string]*schema.EntityConfiguration),
		byRoute:      make(map[string]*schema.EntityConfiguration),
		providers:    make(map[string]schema.ProviderConfiguration),
		tasks:        make(map[string]schema.TaskConfiguration),
		validations:  make(map[string]schema.ValidationConfiguration),
		descriptions: make(map[string]schema.EntityDescription),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, p := range root.Providers {
		r.providers[p.Name] = p
	}
	r.providerList = append(r.providerList, root.Providers...)
	for _, t := range root.Tasks {
		r.tasks[t.Name] = t
	}
	for _, v := range root.Validations {
		r.validations[v.Name] = v
	}
	r.routes = append(r.routes, root.Routes...)
	if root.Authorization != nil {
		a := *root.Authorization
		r.authorization = &a
	}

	var errs []error
	for _, e := range root.Entities {
		resolved, err := r.resolve(e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, exists := r.byName[resolved.Name]; exists {
			errs = append(errs, fmt.Errorf("entity %q declared more than once", resolved.Name))
			continue
		}
		if other, exists := r.byRoute[resolved.Route()]; exists {
			errs = append(errs, fmt.Errorf("route %q claimed by entities %q and %q", resolved.Route(), other.Name, resolved.Name))
			continue
		}
		r.entities = append(r.entities, resolved)
		r.byName[resolved.Name] = resolved
		r.byRoute[resolved.Route()] = resolved
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	for _, e := range r.entities {
		r.descriptions[e.Name] = e.Describe()
		r.entityRoutes = append(r.entityRoutes, r.describeRoutes(e)...)
	}
	return r, nil
}

// resolve copies e, replacing references with their definitions.
func (r *Registry) resolve(e schema.EntityConfiguration) (*schema.EntityConfiguration, error) {
	var errs []error

	out := e
	out.Tasks = make([]schema.TaskConfiguration, 0, len(e.Tasks))
	for _, t := range e.Tasks {
		if t.IsReference() {
			def, ok := r.tasks[t.Name]
			if !ok {
				errs = append(errs, &ReferenceError{Entity: e.Name, Kind: "task", Name: t.Name})
				continue
			}
			t = def
		}
		out.Tasks = append(out.Tasks, t)
	}

	out.Attributes = make([]schema.AttributeConfiguration, 0, len(e.Attributes))
	for _, a := range e.Attributes {
		validations := make([]schema.ValidationConfiguration, 0, len(a.Validations))
		for _, v := range a.Validations {
			if v.IsReference() {
				def, ok := r.validations[v.Name]
				if !ok {
					errs = append(errs, &ReferenceError{Entity: e.Name, Attribute: a.Name, Kind: "validation", Name: v.Name})
					continue
				}
				v = def
			}
			validations = append(validations, v)
		}
		a.Validations = validations
		out.Attributes = append(out.Attributes, a)
	}
	out.DisabledRoutes = append([]string(nil), e.DisabledRoutes...)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &out, nil
}

// Entity returns the entity configuration with the given name.
func (r *Registry) Entity(name string) (*schema.EntityConfiguration, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// EntityByRoute returns the entity served under route.
func (r *Registry) EntityByRoute(route string) (*schema.EntityConfiguration, bool) {
	e, ok := r.byRoute[route]
	return e, ok
}

// Entities returns every entity in declaration order.
func (r *Registry) Entities() []*schema.EntityConfiguration {
	return append([]*schema.EntityConfiguration(nil), r.entities...)
}

// Provider returns the provider configuration with the given name.
func (r *Registry) Provider(name string) (schema.ProviderConfiguration, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Providers returns every provider configuration in declaration order.
func (r *Registry) Providers() []schema.ProviderConfiguration {
	return append([]schema.ProviderConfiguration(nil), r.providerList...)
}

// Task returns the root-level task with the given name.
func (r *Registry) Task(name string) (schema.TaskConfiguration, bool) {
	t, ok := r.tasks[name]
	return t, ok
}

// Validation returns the root-level validation with the given name.
func (r *Registry) Validation(name string) (schema.ValidationConfiguration, bool) {
	v, ok := r.validations[name]
	return v, ok
}

// Routes returns the route plugin configurations in declaration order.
func (r *Registry) Routes() []schema.RouteConfiguration {
	return append([]schema.RouteConfiguration(nil), r.routes...)
}

// Authorization returns the authorization configuration, if any.
func (r *Registry) Authorization() (schema.AuthorizationConfiguration, bool) {
	if r.authorization == nil {
		return schema.AuthorizationConfiguration{}, false
	}
	return *r.authorization, true
}

// EntityDescriptions returns the description of every entity in declaration order.
func (r *Registry) EntityDescriptions() []schema.EntityDescription {
	return lo.Map(r.entities, func(e *schema.EntityConfiguration, _ int) schema.EntityDescription {
		return r.descriptions[e.Name]
	})
}

// EntityDescription returns the description of one entity.
func (r *Registry) EntityDescription(name string) (schema.EntityDescription, bool) {
	d, ok := r.descriptions[name]
	return d, ok
}

// EntityRoutes returns the CRUD routes served for every entity, omitting
// disabled verbs.
func (r *Registry) EntityRoutes() []schema.RouteDescription {
	return append([]schema.RouteDescription(nil), r.entityRoutes...)
}

// Prefix returns the entity route prefix.
func (r *Registry) Prefix() string {
	return r.prefix
}

var verbMethods = map[string]struct {
	method string
	item   bool
}{
	schema.VerbFindAll:  {"GET", false},
	schema.VerbCreate:   {"POST", false},
	schema.VerbFindByID: {"GET", true},
	schema.VerbUpdate:   {"PUT", true},
	schema.VerbPatch:    {"PATCH", true},
	schema.VerbDelete:   {"DELETE", true},
}

func (r *Registry) describeRoutes(e *schema.EntityConfiguration) []schema.RouteDescription {
	base := r.prefix + "/" + e.Route()

	var out []schema.RouteDescription
	for _, verb := range schema.Verbs {
		if e.IsDisabled(verb) {
			continue
		}
		vm := verbMethods[verb]
		d := schema.RouteDescription{Method: vm.method, Path: base, Entity: e.Name, Verb: verb}
		if vm.item {
			d.Path = base + "/{id}"
			d.Variables = []string{"id"}
		}
		out = append(out, d)
	}
	return out
}

// ReferenceError reports a name-only task or validation entry with no
// root-level definition.
type ReferenceError struct {
	Entity    string
	Attribute string
	Kind      string
	Name      string
}

func (e *ReferenceError) Error() string {
	if e.Attribute != "" {
		return fmt.Sprintf("entity %q attribute %q: unknown %s %q", e.Entity, e.Attribute, e.Kind, e.Name)
	}
	return fmt.Sprintf("entity %q: unknown %s %q", e.Entity, e.Kind, e.Name)
}
