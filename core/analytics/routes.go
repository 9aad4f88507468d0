package analytics

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/entitygate/core/apierror"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/schema"
	"github.com/artpar/entitygate/pkg/jsonapi"
)

// RouteName is the name of the journal route plugin.
const RouteName = "analytics"

// EventType is the JSON:API resource type of journal events.
const EventType = "operation_events"

const (
	defaultEventPage = 50
	maxEventPage     = 500
)

// RegisterRoute adds the journal route plugin to c, serving store. With
// a nil store the route is known but cannot be configured.
func RegisterRoute(c *plugin.Catalog, store Store) error {
	return c.RegisterRoute(RouteName, func(cfg schema.RouteConfiguration, _ plugin.Deps) (plugin.RoutePlugin, error) {
		if store == nil {
			return nil, errors.New("operation journal is not enabled")
		}
		return NewRoute(cfg.Options.StringOr("path", "/analytics"), store), nil
	})
}

// Route exposes the journal:
//
//	GET <path>/events    events, newest first; filters entity, operation, outcome, start, end
//	GET <path>/summary   aggregates; group_by=entity,operation and period=minute|hour|day
type Route struct {
	path   string
	store  Store
	router chi.Router
}

// NewRoute builds the route on path.
func NewRoute(path string, store Store) *Route {
	rt := &Route{path: strings.TrimSuffix(path, "/"), store: store}

	r := chi.NewRouter()
	r.Route(rt.path, func(r chi.Router) {
		r.Get("/events", rt.listEvents)
		r.Get("/summary", rt.summary)
	})
	rt.router = r
	return rt
}

func (rt *Route) Match(method, path string) bool {
	return method == http.MethodGet && (path == rt.path+"/events" || path == rt.path+"/summary")
}

func (rt *Route) Routes([]*schema.EntityConfiguration) []schema.RouteDescription {
	return []schema.RouteDescription{
		{Method: http.MethodGet, Path: rt.path + "/events"},
		{Method: http.MethodGet, Path: rt.path + "/summary"},
	}
}

func (rt *Route) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.router.ServeHTTP(w, r)
}

// listEvents handles GET <path>/events
func (rt *Route) listEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	start, end, ok := timeRange(w, query.Get("start"), query.Get("end"))
	if !ok {
		return
	}

	page, size := jsonapi.ParsePaginationParams(query, maxEventPage)
	if size == 0 {
		size = defaultEventPage
	}

	events, total, err := rt.store.Query(r.Context(), QueryOptions{
		Start:     start,
		End:       end,
		Entity:    query.Get("entity"),
		Operation: query.Get("operation"),
		Outcome:   query.Get("outcome"),
		Limit:     size,
		Offset:    page * size,
		OrderDesc: true,
	})
	if err != nil {
		jsonapi.WriteError(w, jsonapi.NewError(http.StatusInternalServerError, apierror.KeyInternalServerError, "journal query failed").Build())
		return
	}

	resources := make([]jsonapi.Resource, 0, len(events))
	for _, e := range events {
		resources = append(resources, jsonapi.Resource{
			Type: EventType,
			ID:   e.ID,
			Attributes: map[string]any{
				"timestamp":   e.Timestamp,
				"entity":      e.Entity,
				"operation":   e.Operation,
				"outcome":     e.Outcome,
				"duration_ns": e.DurationNS,
			},
		})
	}
	jsonapi.WriteCollection(w, http.StatusOK, resources, jsonapi.NewPagination(int(total), page, size, r.URL.RequestURI()))
}

// summary handles GET <path>/summary
func (rt *Route) summary(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	start, end, ok := timeRange(w, query.Get("start"), query.Get("end"))
	if !ok {
		return
	}

	period := query.Get("period")
	switch period {
	case "", "minute", "hour", "day":
	default:
		writeInvalid(w, "period")
		return
	}

	var groupBy []string
	if v := query.Get("group_by"); v != "" {
		for _, g := range strings.Split(v, ",") {
			g = strings.TrimSpace(g)
			if g != "entity" && g != "operation" {
				writeInvalid(w, "group_by")
				return
			}
			groupBy = append(groupBy, g)
		}
	}

	summaries, err := rt.store.Aggregate(r.Context(), AggregateOptions{
		Start:     start,
		End:       end,
		GroupBy:   groupBy,
		Period:    period,
		Entity:    query.Get("entity"),
		Operation: query.Get("operation"),
	})
	if err != nil {
		jsonapi.WriteError(w, jsonapi.NewError(http.StatusInternalServerError, apierror.KeyInternalServerError, "journal aggregation failed").Build())
		return
	}
	if summaries == nil {
		summaries = []Summary{}
	}
	jsonapi.WriteMeta(w, http.StatusOK, jsonapi.Meta{
		"summaries": summaries,
		"count":     len(summaries),
	})
}

// timeRange parses RFC 3339 start and end parameters. Empty means unbounded.
func timeRange(w http.ResponseWriter, startParam, endParam string) (start, end time.Time, ok bool) {
	var err error
	if startParam != "" {
		if start, err = time.Parse(time.RFC3339, startParam); err != nil {
			writeInvalid(w, "start")
			return start, end, false
		}
	}
	if endParam != "" {
		if end, err = time.Parse(time.RFC3339, endParam); err != nil {
			writeInvalid(w, "end")
			return start, end, false
		}
	}
	return start, end, true
}

func writeInvalid(w http.ResponseWriter, param string) {
	jsonapi.WriteError(w, jsonapi.NewError(http.StatusBadRequest, apierror.KeyInvalidParameter, apierror.KeyInvalidParameter).
		Parameter(param).
		Meta("parameter", param).
		Build())
}
