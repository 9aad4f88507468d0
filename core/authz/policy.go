package authz

import (
	"net/http"

	"github.com/artpar/entitygate/core/apierror"
	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/schema"
)

// AllowAll accepts every request.
type AllowAll struct{}

func (AllowAll) ValidateToken(*http.Request, *plugin.ExecutionContext) error { return nil }

func (AllowAll) AuthorizeEntity(*http.Request, *schema.EntityConfiguration, string, *plugin.ExecutionContext) error {
	return nil
}

func (AllowAll) AuthorizeRecord(*http.Request, *schema.EntityConfiguration, string, string, *plugin.ExecutionContext) error {
	return nil
}

func (AllowAll) AuthorizeFilters(*http.Request, *schema.EntityConfiguration, entity.Filters, string, *plugin.ExecutionContext) error {
	return nil
}

// DenyAll rejects every request as if the route did not exist.
type DenyAll struct{}

func (DenyAll) ValidateToken(r *http.Request, _ *plugin.ExecutionContext) error {
	return apierror.UnknownRoute(r.URL.Path)
}

func (DenyAll) AuthorizeEntity(r *http.Request, _ *schema.EntityConfiguration, _ string, _ *plugin.ExecutionContext) error {
	return apierror.UnknownRoute(r.URL.Path)
}

func (DenyAll) AuthorizeRecord(r *http.Request, _ *schema.EntityConfiguration, _, _ string, _ *plugin.ExecutionContext) error {
	return apierror.UnknownRoute(r.URL.Path)
}

func (DenyAll) AuthorizeFilters(r *http.Request, _ *schema.EntityConfiguration, _ entity.Filters, _ string, _ *plugin.ExecutionContext) error {
	return apierror.UnknownRoute(r.URL.Path)
}
