// Package validation checks entity payloads against the validations
// declared on each attribute. Every violation of every attribute is
// collected before a single error is returned.
package validation

import (
	"fmt"
	"maps"
	"net/http"
	"sort"

	"github.com/rs/zerolog"

	"github.com/artpar/entitygate/core/apierror"
	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/i18n"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/schema"
)

// Runner applies validation plugins to payloads.
type Runner struct {
	catalog *plugin.Catalog
	logger  zerolog.Logger
}

// NewRunner creates a runner resolving plugins from catalog.
func NewRunner(catalog *plugin.Catalog, logger zerolog.Logger) *Runner {
	return &Runner{catalog: catalog, logger: logger}
}

// Violations maps attribute names to their failure messages.
type Violations map[string][]i18n.Message

func (v Violations) add(attribute string, msg i18n.Message) {
	v[attribute] = append(v[attribute], msg)
}

// Validate checks body for phase (create, update or patch) and returns
// the normalized payload, with empty strings of null_if_empty attributes
// turned into nil.
//
// Required and null_if_empty are evaluated first. On patch only the
// attributes present in body are checked. Attributes the entity does not
// declare are violations; the id attribute is always accepted.
func (r *Runner) Validate(cfg *schema.EntityConfiguration, body map[string]any, phase string) (map[string]any, error) {
	normalized := make(map[string]any, len(body))
	maps.Copy(normalized, body)

	violations := make(Violations)

	for _, key := range sortedKeys(normalized) {
		if key == entity.IDAttribute {
			continue
		}
		if _, ok := cfg.Attribute(key); !ok {
			violations.add(key, i18n.Of(apierror.KeyUnknownAttribute, map[string]any{"attribute": key}))
		}
	}

	for _, attr := range cfg.Attributes {
		value, present := normalized[attr.Name]
		if phase == schema.VerbPatch && !present {
			continue
		}

		if attr.NullIfEmpty && value == "" {
			value = nil
			normalized[attr.Name] = nil
		}

		if attr.Required && value == nil {
			violations.add(attr.Name, i18n.Of(apierror.KeyRequired, map[string]any{"attribute": attr.Name}))
			continue
		}

		if value != nil && !matchesType(attr.Type, value) {
			violations.add(attr.Name, i18n.Of(apierror.KeyInvalidType, map[string]any{"attribute": attr.Name, "type": attr.Type}))
			continue
		}

		for _, vc := range attr.Validations {
			if !vc.AppliesTo(phase) {
				continue
			}
			msg, err := r.run(cfg, attr, vc, value)
			if err != nil {
				return nil, err
			}
			if msg != nil {
				violations.add(attr.Name, withAttribute(*msg, attr.Name))
			}
		}
	}

	if len(violations) > 0 {
		r.logger.Debug().
			Str("entity", cfg.Name).
			Str("phase", phase).
			Int("attributes", len(violations)).
			Msg("validation failed")
		return nil, Failed(cfg.Name, violations)
	}
	return normalized, nil
}

func (r *Runner) run(cfg *schema.EntityConfiguration, attr schema.AttributeConfiguration, vc schema.ValidationConfiguration, value any) (*i18n.Message, error) {
	p, ok := r.catalog.Validation(vc.Type)
	if !ok {
		return nil, apierror.New(http.StatusInternalServerError,
			i18n.Of(apierror.KeyValidationMissing, map[string]any{"type": vc.Type, "entity": cfg.Name, "attribute": attr.Name}))
	}

	msg, err := p.Validate(vc, value)
	if err != nil {
		return nil, apierror.New(http.StatusInternalServerError,
			i18n.Of(apierror.KeyValidationInvalid, map[string]any{"type": vc.Type, "entity": cfg.Name, "attribute": attr.Name}),
			apierror.WithCause(fmt.Errorf("validation %q on %s.%s: %w", vc.Type, cfg.Name, attr.Name, err)))
	}
	return msg, nil
}

// Check verifies that every validation referenced by entities has a plugin
// and, where the plugin supports it, valid options.
func (r *Runner) Check(entities []*schema.EntityConfiguration) error {
	for _, e := range entities {
		for _, attr := range e.Attributes {
			for _, vc := range attr.Validations {
				p, ok := r.catalog.Validation(vc.Type)
				if !ok {
					return fmt.Errorf("entity %q attribute %q: unknown validation type %q", e.Name, attr.Name, vc.Type)
				}
				if c, ok := p.(plugin.Checker); ok {
					if err := c.Check(vc.Options); err != nil {
						return fmt.Errorf("entity %q attribute %q: validation %q: %w", e.Name, attr.Name, vc.Type, err)
					}
				}
			}
		}
	}
	return nil
}

// Failed builds the aggregated validation error.
func Failed(entityName string, violations Violations) *apierror.Error {
	details := make(map[string]any, len(violations))
	for k, v := range violations {
		details[k] = v
	}
	return apierror.New(http.StatusUnprocessableEntity,
		i18n.Of(apierror.KeyValidationFailed, map[string]any{"entity": entityName}),
		apierror.WithDetails(details),
		apierror.Quiet())
}

func withAttribute(msg i18n.Message, attribute string) i18n.Message {
	ctx := msg.Context()
	if _, ok := ctx["attribute"]; !ok {
		ctx["attribute"] = attribute
	}
	return i18n.Of(msg.Key(), ctx)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
