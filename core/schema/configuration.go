package schema

import (
	"fmt"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// RootConfiguration is the whole configuration tree.
type RootConfiguration struct {
	// Entities are the dynamic entity definitions.
	Entities []EntityConfiguration `yaml:"entities,omitempty"`

	// Providers are the configured storage backend instances.
	Providers []ProviderConfiguration `yaml:"providers,omitempty"`

	// Routes are the configured transport route plugins.
	Routes []RouteConfiguration `yaml:"routes,omitempty"`

	// Tasks are reusable tasks that entities reference by name.
	Tasks []TaskConfiguration `yaml:"tasks,omitempty"`

	// Validations are reusable validations that attributes reference by name.
	Validations []ValidationConfiguration `yaml:"validations,omitempty"`

	// Authorization selects the single active authorization plugin.
	// When nil, everything is denied.
	Authorization *AuthorizationConfiguration `yaml:"authorization,omitempty"`
}

// EntityConfiguration describes one dynamic entity.
type EntityConfiguration struct {
	// Name is the unique entity name.
	Name string `yaml:"name"`

	// Provider is the name of the ProviderConfiguration that stores it.
	Provider string `yaml:"provider"`

	// RouteName is the explicit route. Use Route() to read the effective one.
	RouteName string `yaml:"route,omitempty"`

	// Attributes are the entity's fields, in declaration order.
	Attributes []AttributeConfiguration `yaml:"attributes,omitempty"`

	// Tasks run around operations, in declaration order.
	Tasks []TaskConfiguration `yaml:"tasks,omitempty"`

	// Access holds provider-specific settings (e.g. table name, LDAP base DN).
	Access Options `yaml:"access,omitempty"`

	// DisabledRoutes lists verbs that are not served for this entity.
	DisabledRoutes []string `yaml:"disabled_routes,omitempty"`
}

// Route returns the explicit route, or the entity name when unset.
func (e EntityConfiguration) Route() string {
	if e.RouteName != "" {
		return e.RouteName
	}
	return e.Name
}

// Attribute returns the attribute configuration with the given name.
func (e EntityConfiguration) Attribute(name string) (AttributeConfiguration, bool) {
	return lo.Find(e.Attributes, func(a AttributeConfiguration) bool {
		return a.Name == name
	})
}

// IsDisabled reports whether verb is listed in DisabledRoutes.
func (e EntityConfiguration) IsDisabled(verb string) bool {
	return lo.Contains(e.DisabledRoutes, verb)
}

// AttributeConfiguration describes one attribute of an entity.
type AttributeConfiguration struct {
	// Name is unique within the entity.
	Name string `yaml:"name"`

	// Type is a declared type tag (string, integer, boolean, ...).
	Type string `yaml:"type,omitempty"`

	// Required attributes must carry a non-null value on create and update.
	Required bool `yaml:"required,omitempty"`

	// NullIfEmpty treats an empty string as an absent value.
	NullIfEmpty bool `yaml:"null_if_empty,omitempty"`

	// Validations run against this attribute during the phases they declare.
	Validations []ValidationConfiguration `yaml:"validations,omitempty"`

	// Input is a front-end input type hint.
	Input string `yaml:"input,omitempty"`

	// InputSettings are free-form front-end settings.
	InputSettings Options `yaml:"input_settings,omitempty"`

	// Access holds provider-specific settings (e.g. backend column name).
	Access Options `yaml:"access,omitempty"`
}

// ProviderConfiguration is a named instance of a provider plugin type.
type ProviderConfiguration struct {
	Name    string
	Type    string
	Options Options
}

// AddOption stores key unless it is reserved (name, type).
func (c *ProviderConfiguration) AddOption(key string, value Value) {
	c.Options = addOption(c.Options, key, value, "name", "type")
}

// UnmarshalYAML decodes name and type, keeping every other key as an option.
func (c *ProviderConfiguration) UnmarshalYAML(node *yaml.Node) error {
	raw, err := decodeRaw(node)
	if err != nil {
		return err
	}
	c.Name, _ = raw["name"].AsString()
	c.Type, _ = raw["type"].AsString()
	for k, v := range raw {
		c.AddOption(k, v)
	}
	return nil
}

// MarshalYAML flattens options next to the reserved keys.
func (c ProviderConfiguration) MarshalYAML() (any, error) {
	return flatten(c.Options, map[string]any{"name": c.Name, "type": c.Type}), nil
}

// TaskConfiguration is a named instance of a task plugin type.
type TaskConfiguration struct {
	Name    string
	Type    string
	Phases  []string
	Options Options
}

// AddOption stores key unless it is reserved (name, type, phases).
func (c *TaskConfiguration) AddOption(key string, value Value) {
	c.Options = addOption(c.Options, key, value, "name", "type", "phases")
}

// AppliesTo reports whether the task runs during phase.
func (c TaskConfiguration) AppliesTo(phase string) bool {
	return lo.Contains(c.Phases, phase)
}

// IsReference reports whether c only names a root-level task.
func (c TaskConfiguration) IsReference() bool {
	return c.Name != "" && c.Type == "" && len(c.Phases) == 0 && len(c.Options) == 0
}

// UnmarshalYAML decodes name, type and phases, keeping every other key as an option.
func (c *TaskConfiguration) UnmarshalYAML(node *yaml.Node) error {
	raw, err := decodeRaw(node)
	if err != nil {
		return err
	}
	c.Name, _ = raw["name"].AsString()
	c.Type, _ = raw["type"].AsString()
	if c.Phases, err = phases(raw); err != nil {
		return fmt.Errorf("task %q: %w", c.Name, err)
	}
	for k, v := range raw {
		c.AddOption(k, v)
	}
	return nil
}

// MarshalYAML flattens options next to the reserved keys.
func (c TaskConfiguration) MarshalYAML() (any, error) {
	return flatten(c.Options, map[string]any{"name": c.Name, "type": c.Type, "phases": c.Phases}), nil
}

// ValidationConfiguration is a named instance of a validation plugin type.
type ValidationConfiguration struct {
	Name    string
	Type    string
	Phases  []string
	Options Options
}

// AddOption stores key unless it is reserved (name, type, phases).
func (c *ValidationConfiguration) AddOption(key string, value Value) {
	c.Options = addOption(c.Options, key, value, "name", "type", "phases")
}

// AppliesTo reports whether the validation runs during phase.
func (c ValidationConfiguration) AppliesTo(phase string) bool {
	return lo.Contains(c.Phases, phase)
}

// IsReference reports whether c only names a root-level validation.
func (c ValidationConfiguration) IsReference() bool {
	return c.Name != "" && c.Type == "" && len(c.Phases) == 0 && len(c.Options) == 0
}

// UnmarshalYAML decodes name, type and phases, keeping every other key as an option.
func (c *ValidationConfiguration) UnmarshalYAML(node *yaml.Node) error {
	raw, err := decodeRaw(node)
	if err != nil {
		return err
	}
	c.Name, _ = raw["name"].AsString()
	c.Type, _ = raw["type"].AsString()
	if c.Phases, err = phases(raw); err != nil {
		return fmt.Errorf("validation %q: %w", c.Name, err)
	}
	for k, v := range raw {
		c.AddOption(k, v)
	}
	return nil
}

// MarshalYAML flattens options next to the reserved keys.
func (c ValidationConfiguration) MarshalYAML() (any, error) {
	return flatten(c.Options, map[string]any{"name": c.Name, "type": c.Type, "phases": c.Phases}), nil
}

// AuthorizationConfiguration selects the authorization plugin by type.
type AuthorizationConfiguration struct {
	Type    string
	Options Options
}

// AddOption stores key unless it is reserved (type).
func (c *AuthorizationConfiguration) AddOption(key string, value Value) {
	c.Options = addOption(c.Options, key, value, "type")
}

// UnmarshalYAML decodes type, keeping every other key as an option.
func (c *AuthorizationConfiguration) UnmarshalYAML(node *yaml.Node) error {
	raw, err := decodeRaw(node)
	if err != nil {
		return err
	}
	c.Type, _ = raw["type"].AsString()
	for k, v := range raw {
		c.AddOption(k, v)
	}
	return nil
}

// MarshalYAML flattens options next to the reserved keys.
func (c AuthorizationConfiguration) MarshalYAML() (any, error) {
	return flatten(c.Options, map[string]any{"type": c.Type}), nil
}

// RouteConfiguration is a route plugin instance, keyed by name.
type RouteConfiguration struct {
	Name    string
	Options Options
}

// AddOption stores key unless it is reserved (name).
func (c *RouteConfiguration) AddOption(key string, value Value) {
	c.Options = addOption(c.Options, key, value, "name")
}

// UnmarshalYAML decodes name, keeping every other key as an option.
func (c *RouteConfiguration) UnmarshalYAML(node *yaml.Node) error {
	raw, err := decodeRaw(node)
	if err != nil {
		return err
	}
	c.Name, _ = raw["name"].AsString()
	for k, v := range raw {
		c.AddOption(k, v)
	}
	return nil
}

// MarshalYAML flattens options next to the reserved keys.
func (c RouteConfiguration) MarshalYAML() (any, error) {
	return flatten(c.Options, map[string]any{"name": c.Name}), nil
}

func addOption(opts Options, key string, value Value, reserved ...string) Options {
	if lo.Contains(reserved, key) {
		return opts
	}
	if opts == nil {
		opts = make(Options)
	}
	opts[key] = value
	return opts
}

func decodeRaw(node *yaml.Node) (map[string]Value, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	var raw map[string]Value
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func phases(raw map[string]Value) ([]string, error) {
	v, ok := raw["phases"]
	if !ok || v.IsNull() {
		return nil, nil
	}
	items, ok := v.AsList()
	if !ok {
		return nil, fmt.Errorf("phases must be a list, got %s", v.Kind())
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.AsString()
		if !ok {
			return nil, fmt.Errorf("phase must be a string, got %s", item.Kind())
		}
		out = append(out, s)
	}
	return out, nil
}

func flatten(opts Options, reserved map[string]any) map[string]any {
	out := opts.Interface()
	for k, v := range reserved {
		out[k] = v
	}
	return out
}
