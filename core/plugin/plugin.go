// Package plugin defines the contracts the pipeline consumes: providers,
// authorization, validations, tasks and routes, plus the request-scoped
// ExecutionContext threaded through every call and the Catalog that maps
// configured type names to implementations.
package plugin

import (
	"context"
	"errors"
	"net/http"

	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/i18n"
	"github.com/artpar/entitygate/core/schema"
)

// ErrNotFound is returned by providers when the addressed record does not exist.
var ErrNotFound = errors.New("record not found")

// ProviderPlugin performs storage operations for the entities bound to it.
//
// Update replaces the record with attrs; attributes set to nil are cleared.
// Patch changes only the attributes present in attrs. Both return
// ErrNotFound when the record is absent. Delete reports whether a record
// was removed and FindByID whether one was found; absence is not an error.
type ProviderPlugin interface {
	Create(ctx context.Context, ec *ExecutionContext, cfg *schema.EntityConfiguration, attrs map[string]any) (entity.DynamicEntity, error)
	Update(ctx context.Context, ec *ExecutionContext, cfg *schema.EntityConfiguration, id string, attrs map[string]any) (entity.DynamicEntity, error)
	Patch(ctx context.Context, ec *ExecutionContext, cfg *schema.EntityConfiguration, id string, attrs map[string]any) (entity.DynamicEntity, error)
	Delete(ctx context.Context, ec *ExecutionContext, cfg *schema.EntityConfiguration, id string) (bool, error)
	FindByID(ctx context.Context, ec *ExecutionContext, cfg *schema.EntityConfiguration, id string) (entity.DynamicEntity, bool, error)
	FindAll(ctx context.Context, ec *ExecutionContext, cfg *schema.EntityConfiguration, filters entity.Filters, page entity.Pageable) (entity.Page, error)
}

// Preparer is implemented by providers that set up backing storage
// (tables, indexes) for their entities before serving.
type Preparer interface {
	Prepare(ctx context.Context, entities []*schema.EntityConfiguration) error
}

// AuthorizationPlugin guards every operation. Any returned error denies
// the request; the gate turns it into the unknown-route error.
type AuthorizationPlugin interface {
	// ValidateToken checks the request credentials once per request and
	// may store the principal in ec.
	ValidateToken(r *http.Request, ec *ExecutionContext) error

	// AuthorizeEntity checks an action on the entity type as a whole.
	AuthorizeEntity(r *http.Request, cfg *schema.EntityConfiguration, action string, ec *ExecutionContext) error

	// AuthorizeRecord checks an action on one record.
	AuthorizeRecord(r *http.Request, cfg *schema.EntityConfiguration, id, action string, ec *ExecutionContext) error

	// AuthorizeFilters checks a list query before it runs.
	AuthorizeFilters(r *http.Request, cfg *schema.EntityConfiguration, filters entity.Filters, action string, ec *ExecutionContext) error
}

// ConfigurationContributor is implemented by authorization plugins that
// add to the configuration tree before it is indexed.
type ConfigurationContributor interface {
	Contribute(root *schema.RootConfiguration) error
}

// ValidationPlugin checks one attribute value. It returns a message for a
// violation, nil on success, and an error when cfg itself is unusable.
type ValidationPlugin interface {
	Validate(cfg schema.ValidationConfiguration, value any) (*i18n.Message, error)
}

// TaskPlugin runs a side effect at a lifecycle phase. Tasks run before an
// operation may change e; a returned error aborts the pipeline.
type TaskPlugin interface {
	Execute(ctx context.Context, cfg schema.TaskConfiguration, phase string, e *entity.DynamicEntity, ec *ExecutionContext) error
}

// Checker is implemented by validation and task plugins that can verify
// their options once at load time.
type Checker interface {
	Check(opts schema.Options) error
}

// RoutePlugin serves requests outside the entity CRUD surface. The
// transport asks Match before dispatching to the entity routes.
type RoutePlugin interface {
	http.Handler

	Match(method, path string) bool
	Routes(entities []*schema.EntityConfiguration) []schema.RouteDescription
}

// Describer exposes the derived descriptions to route plugins.
type Describer interface {
	EntityDescriptions() []schema.EntityDescription
	EntityDescription(name string) (schema.EntityDescription, bool)
	EntityRoutes() []schema.RouteDescription
}
