// Package authz enforces access control in front of every entity
// operation. Exactly one authorization plugin is active; without
// configuration the gate denies everything.
package authz

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/artpar/entitygate/core/apierror"
	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/schema"
)

// Plugin type names.
const (
	TypeAllowAll = "allow-all"
	TypeDenyAll  = "deny-all"
	TypeJWT      = "jwt"
)

// Register adds the built-in authorization types to c.
func Register(c *plugin.Catalog) error {
	if err := c.RegisterAuthorization(TypeAllowAll, func(schema.AuthorizationConfiguration, plugin.Deps) (plugin.AuthorizationPlugin, error) {
		return AllowAll{}, nil
	}); err != nil {
		return err
	}
	if err := c.RegisterAuthorization(TypeDenyAll, func(schema.AuthorizationConfiguration, plugin.Deps) (plugin.AuthorizationPlugin, error) {
		return DenyAll{}, nil
	}); err != nil {
		return err
	}
	return c.RegisterAuthorization(TypeJWT, NewJWT)
}

// Resolve builds the configured authorization plugin. When cfg is nil the
// result is DenyAll.
func Resolve(c *plugin.Catalog, cfg *schema.AuthorizationConfiguration, deps plugin.Deps) (plugin.AuthorizationPlugin, error) {
	if cfg == nil {
		deps.Logger.Warn().Msg("no authorization configured, denying all requests")
		return DenyAll{}, nil
	}
	factory, ok := c.Authorization(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("authorization: unknown type %q", cfg.Type)
	}
	p, err := factory(*cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("authorization %q: %w", cfg.Type, err)
	}
	return p, nil
}

// Gate calls the active plugin and turns every denial into the
// unknown-route error for the requested path.
type Gate struct {
	plugin plugin.AuthorizationPlugin
	logger zerolog.Logger
}

// NewGate wraps p. A nil p denies everything.
func NewGate(p plugin.AuthorizationPlugin, logger zerolog.Logger) *Gate {
	if p == nil {
		logger.Warn().Msg("no authorization plugin, denying all requests")
		p = DenyAll{}
	}
	return &Gate{plugin: p, logger: logger}
}

// Plugin returns the active plugin.
func (g *Gate) Plugin() plugin.AuthorizationPlugin {
	return g.plugin
}

// ValidateToken checks the request credentials.
func (g *Gate) ValidateToken(r *http.Request, ec *plugin.ExecutionContext) error {
	return g.deny(r, "token", g.plugin.ValidateToken(r, ec))
}

// AuthorizeEntity checks an action on a whole entity type.
func (g *Gate) AuthorizeEntity(r *http.Request, cfg *schema.EntityConfiguration, action string, ec *plugin.ExecutionContext) error {
	return g.deny(r, action, g.plugin.AuthorizeEntity(r, cfg, action, ec))
}

// AuthorizeRecord checks an action on one record.
func (g *Gate) AuthorizeRecord(r *http.Request, cfg *schema.EntityConfiguration, id, action string, ec *plugin.ExecutionContext) error {
	return g.deny(r, action, g.plugin.AuthorizeRecord(r, cfg, id, action, ec))
}

// AuthorizeFilters checks a list query before it runs.
func (g *Gate) AuthorizeFilters(r *http.Request, cfg *schema.EntityConfiguration, filters entity.Filters, action string, ec *plugin.ExecutionContext) error {
	return g.deny(r, action, g.plugin.AuthorizeFilters(r, cfg, filters, action, ec))
}

func (g *Gate) deny(r *http.Request, check string, err error) error {
	if err == nil {
		return nil
	}

	g.logger.Debug().
		Err(err).
		Str("path", r.URL.Path).
		Str("check", check).
		Msg("authorization denied")

	if apiErr, ok := apierror.As(err); ok && apiErr.Message().Key() == apierror.KeyUnknownRoute {
		return apiErr
	}
	return apierror.UnknownRoute(r.URL.Path, apierror.WithCause(err))
}
