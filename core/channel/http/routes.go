package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/entitygate/core/apierror"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/schema"
	"github.com/artpar/entitygate/pkg/jsonapi"
)

// Route plugin names.
const (
	RouteHealth   = "health"
	RouteMetadata = "metadata"
)

// RegisterRoutes adds the built-in route plugins to c.
func RegisterRoutes(c *plugin.Catalog) error {
	if err := c.RegisterRoute(RouteHealth, NewHealth); err != nil {
		return err
	}
	return c.RegisterRoute(RouteMetadata, NewMetadata)
}

// Health answers GET <path> with {"meta": {"status": "ok"}}.
type Health struct {
	path string
}

// NewHealth builds the health route. Option path defaults to /health.
func NewHealth(cfg schema.RouteConfiguration, _ plugin.Deps) (plugin.RoutePlugin, error) {
	return &Health{path: cfg.Options.StringOr("path", "/health")}, nil
}

func (h *Health) Match(method, path string) bool {
	return method == http.MethodGet && path == h.path
}

func (h *Health) Routes([]*schema.EntityConfiguration) []schema.RouteDescription {
	return []schema.RouteDescription{{Method: http.MethodGet, Path: h.path}}
}

func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	jsonapi.WriteMeta(w, http.StatusOK, jsonapi.Meta{"status": "ok"})
}

// Metadata exposes the entity and route descriptions a front end needs
// to render forms and lists:
//
//	GET <path>/entities          every entity
//	GET <path>/entities/{name}   one entity
//	GET <path>/routes            every served route
type Metadata struct {
	path      string
	describer plugin.Describer
	router    chi.Router
}

// NewMetadata builds the metadata route. Option path defaults to /metadata.
func NewMetadata(cfg schema.RouteConfiguration, deps plugin.Deps) (plugin.RoutePlugin, error) {
	m := &Metadata{
		path:      strings.TrimSuffix(cfg.Options.StringOr("path", "/metadata"), "/"),
		describer: deps.Describer,
	}

	r := chi.NewRouter()
	r.Route(m.path, func(r chi.Router) {
		r.Get("/entities", m.listEntities)
		r.Get("/entities/{name}", m.getEntity)
		r.Get("/routes", m.listRoutes)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeUnknown(w, r)
	})
	m.router = r
	return m, nil
}

func (m *Metadata) Match(method, path string) bool {
	return method == http.MethodGet && strings.HasPrefix(path, m.path+"/")
}

func (m *Metadata) Routes([]*schema.EntityConfiguration) []schema.RouteDescription {
	return []schema.RouteDescription{
		{Method: http.MethodGet, Path: m.path + "/entities"},
		{Method: http.MethodGet, Path: m.path + "/entities/{name}", Variables: []string{"name"}},
		{Method: http.MethodGet, Path: m.path + "/routes"},
	}
}

func (m *Metadata) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.ServeHTTP(w, r)
}

// listEntities handles GET <path>/entities
func (m *Metadata) listEntities(w http.ResponseWriter, r *http.Request) {
	entities := m.describer.EntityDescriptions()
	jsonapi.WriteMeta(w, http.StatusOK, jsonapi.Meta{
		"entities": entities,
		"count":    len(entities),
	})
}

// getEntity handles GET <path>/entities/{name}
func (m *Metadata) getEntity(w http.ResponseWriter, r *http.Request) {
	d, ok := m.describer.EntityDescription(chi.URLParam(r, "name"))
	if !ok {
		writeUnknown(w, r)
		return
	}
	jsonapi.WriteMeta(w, http.StatusOK, jsonapi.Meta{"entity": d})
}

// listRoutes handles GET <path>/routes
func (m *Metadata) listRoutes(w http.ResponseWriter, r *http.Request) {
	routes := m.describer.EntityRoutes()
	jsonapi.WriteMeta(w, http.StatusOK, jsonapi.Meta{
		"routes": routes,
		"count":  len(routes),
	})
}

func writeUnknown(w http.ResponseWriter, r *http.Request) {
	err := apierror.UnknownRoute(r.URL.Path)
	msg := err.Message()
	e := jsonapi.NewError(err.Status(), msg.Key(), msg.Key())
	for k, v := range msg.Context() {
		e.Meta(k, v)
	}
	jsonapi.WriteError(w, e.Build())
}
