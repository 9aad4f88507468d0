// Package http serves the dynamic entity CRUD surface over HTTP.
// Route plugins are asked first; every other request under the prefix is
// dispatched to the entity service. Responses use JSON:API documents.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/artpar/entitygate/core/apierror"
	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/i18n"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/pkg/jsonapi"
)

// DefaultPrefix is the path prefix of entity routes.
const DefaultPrefix = "/api"

// DefaultMaxPageSize caps the size query parameter.
const DefaultMaxPageSize = 1000

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 1 << 20

// EntityService runs the entity operations behind the endpoints.
type EntityService interface {
	HandleCreate(r *http.Request, route string, body map[string]any) (entity.DynamicEntity, error)
	HandleUpdate(r *http.Request, route, id string, body map[string]any) (entity.DynamicEntity, error)
	HandlePatch(r *http.Request, route, id string, body map[string]any) (entity.DynamicEntity, error)
	HandleDelete(r *http.Request, route, id string) (bool, error)
	HandleFindByID(r *http.Request, route, id string) (entity.DynamicEntity, bool, error)
	HandleFindAll(r *http.Request, route string, filters entity.Filters, page entity.Pageable) (entity.Page, error)
}

// Config holds the collaborators of a Channel.
type Config struct {
	Service EntityService

	// Routes are matched in order before the entity endpoints.
	Routes []plugin.RoutePlugin

	// Translator renders error titles. Optional; keys are used as titles without it.
	Translator i18n.Translator

	// Metrics, when set, is served on MetricsPath (default /metrics).
	Metrics     http.Handler
	MetricsPath string

	Prefix       string
	MaxPageSize  int
	MaxBodyBytes int64
	Logger       zerolog.Logger
}

// Channel is the HTTP transport of one pipeline snapshot.
type Channel struct {
	router       chi.Router
	service      EntityService
	routes       []plugin.RoutePlugin
	translator   i18n.Translator
	prefix       string
	maxPageSize  int
	maxBodyBytes int64
	logger       zerolog.Logger
}

// New creates a channel and registers its routes.
func New(cfg Config) *Channel {
	c := &Channel{
		router:       chi.NewRouter(),
		service:      cfg.Service,
		routes:       cfg.Routes,
		translator:   cfg.Translator,
		prefix:       strings.TrimSuffix(cfg.Prefix, "/"),
		maxPageSize:  cfg.MaxPageSize,
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       cfg.Logger,
	}
	if c.prefix == "" {
		c.prefix = DefaultPrefix
	}
	if c.maxPageSize <= 0 {
		c.maxPageSize = DefaultMaxPageSize
	}
	if c.maxBodyBytes <= 0 {
		c.maxBodyBytes = DefaultMaxBodyBytes
	}

	c.router.Use(c.routePlugins)

	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		c.router.Method(http.MethodGet, path, cfg.Metrics)
	}

	c.router.NotFound(c.handleUnknown)
	c.router.MethodNotAllowed(c.handleUnknown)

	c.router.Route(c.prefix, func(r chi.Router) {
		r.Get("/{route}", c.handleFindAll)
		r.Post("/{route}", c.handleCreate)
		r.Get("/{route}/{id}", c.handleFindByID)
		r.Put("/{route}/{id}", c.handleUpdate)
		r.Patch("/{route}/{id}", c.handlePatch)
		r.Delete("/{route}/{id}", c.handleDelete)
	})

	return c
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "http"
}

// Handler returns the HTTP handler.
func (c *Channel) Handler() http.Handler {
	return c.router
}

// ServeHTTP implements http.Handler.
func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.router.ServeHTTP(w, r)
}

// routePlugins serves the request with the first matching route plugin.
func (c *Channel) routePlugins(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, rp := range c.routes {
			if rp.Match(r.Method, r.URL.Path) {
				rp.ServeHTTP(w, r)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (c *Channel) handleUnknown(w http.ResponseWriter, r *http.Request) {
	c.writeError(w, r, apierror.UnknownRoute(r.URL.Path))
}

func (c *Channel) handleFindAll(w http.ResponseWriter, r *http.Request) {
	route := chi.URLParam(r, "route")
	query := r.URL.Query()

	pageNum, size := jsonapi.ParsePaginationParams(query, c.maxPageSize)
	page := entity.Pageable{Page: pageNum, Size: size, Sort: parseSort(query.Get("sort"))}

	result, err := c.service.HandleFindAll(r, route, parseFilters(query), page)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	resources := make([]jsonapi.Resource, 0, len(result.Content))
	for _, e := range result.Content {
		resources = append(resources, c.resource(route, e))
	}
	pagination := jsonapi.NewPagination(result.Total, result.Page, result.Size, r.URL.RequestURI())
	jsonapi.WriteCollection(w, http.StatusOK, resources, pagination)
}

func (c *Channel) handleCreate(w http.ResponseWriter, r *http.Request) {
	route := chi.URLParam(r, "route")

	body, ok := c.decode(w, r)
	if !ok {
		return
	}

	created, err := c.service.HandleCreate(r, route, body)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	res := c.resource(route, created)
	jsonapi.WriteCreated(w, res, res.Links.Self)
}

func (c *Channel) handleFindByID(w http.ResponseWriter, r *http.Request) {
	route, id := chi.URLParam(r, "route"), chi.URLParam(r, "id")

	found, ok, err := c.service.HandleFindByID(r, route, id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if !ok {
		c.writeError(w, r, apierror.EntityNotFound(route, id))
		return
	}

	jsonapi.WriteResource(w, http.StatusOK, c.resource(route, found))
}

func (c *Channel) handleUpdate(w http.ResponseWriter, r *http.Request) {
	route, id := chi.URLParam(r, "route"), chi.URLParam(r, "id")

	body, ok := c.decode(w, r)
	if !ok {
		return
	}

	updated, err := c.service.HandleUpdate(r, route, id, body)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	jsonapi.WriteResource(w, http.StatusOK, c.resource(route, updated))
}

func (c *Channel) handlePatch(w http.ResponseWriter, r *http.Request) {
	route, id := chi.URLParam(r, "route"), chi.URLParam(r, "id")

	body, ok := c.decode(w, r)
	if !ok {
		return
	}

	patched, err := c.service.HandlePatch(r, route, id, body)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	jsonapi.WriteResource(w, http.StatusOK, c.resource(route, patched))
}

func (c *Channel) handleDelete(w http.ResponseWriter, r *http.Request) {
	route, id := chi.URLParam(r, "route"), chi.URLParam(r, "id")

	deleted, err := c.service.HandleDelete(r, route, id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if !deleted {
		c.writeError(w, r, apierror.EntityNotFound(route, id))
		return
	}

	jsonapi.WriteNoContent(w)
}

// decode reads the request body, at most maxBodyBytes of it. An empty
// body is an empty payload.
func (c *Channel) decode(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	body, err := jsonapi.DecodeAttributes(http.MaxBytesReader(w, r.Body, c.maxBodyBytes))
	if errors.Is(err, jsonapi.ErrEmptyBody) {
		return map[string]any{}, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.writeError(w, r, apierror.New(http.StatusRequestEntityTooLarge,
			i18n.Of(apierror.KeyPayloadTooLarge, map[string]any{"limit": tooLarge.Limit}),
			apierror.Quiet()))
		return nil, false
	}
	if err != nil {
		c.writeError(w, r, apierror.New(http.StatusBadRequest,
			i18n.NewMessage(apierror.KeyInvalidPayload),
			apierror.WithCause(err),
			apierror.Quiet()))
		return nil, false
	}
	return body, true
}

func (c *Channel) resource(route string, e entity.DynamicEntity) jsonapi.Resource {
	res := jsonapi.ResourceFromMap(route, e.Attributes)
	res.Links = &jsonapi.ResourceLinks{Self: c.prefix + "/" + route + "/" + url.PathEscape(res.ID)}
	return res
}

// writeError renders err as a JSON:API error document. Validation details
// become one error per violation, pointing at the offending attribute.
func (c *Channel) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := apierror.As(err)
	if !ok {
		apiErr = apierror.Internal(err)
	}

	if apiErr.ShouldLog() {
		c.logger.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", apiErr.Status()).
			Msg("request failed")
	}

	lang := r.Header.Get("Accept-Language")
	status := apiErr.Status()
	msg := apiErr.Message()

	main := jsonapi.NewError(status, msg.Key(), c.translate(lang, msg))
	for k, v := range msg.Context() {
		main.Meta(k, v)
	}
	if param, ok := msg.Param("parameter"); ok && msg.Key() == apierror.KeyInvalidParameter {
		main.Parameter(fmt.Sprint(param))
	}

	details := apiErr.Details()
	var violations []jsonapi.Error
	for _, attr := range sortedKeys(details) {
		msgs, ok := details[attr].([]i18n.Message)
		if !ok {
			main.Meta(attr, details[attr])
			continue
		}
		for _, m := range msgs {
			violations = append(violations, jsonapi.NewError(status, m.Key(), c.translate(lang, m)).
				Pointer(jsonapi.AttributePointer(attr)).
				Build())
		}
	}

	jsonapi.WriteError(w, append([]jsonapi.Error{main.Build()}, violations...)...)
}

func (c *Channel) translate(lang string, msg i18n.Message) string {
	if c.translator == nil {
		return msg.Key()
	}
	return c.translator.Translate(lang, msg)
}

// reserved query parameters; every other parameter is a filter.
var reserved = map[string]bool{
	jsonapi.PageParam: true,
	jsonapi.SizeParam: true,
	"sort":            true,
}

func parseFilters(query url.Values) entity.Filters {
	filters := entity.Filters{}
	for k, values := range query {
		if reserved[k] {
			continue
		}
		filters[k] = append([]string(nil), values...)
	}
	return filters
}

// parseSort reads "a,-b" as ascending a then descending b.
func parseSort(s string) []entity.Order {
	var orders []entity.Order
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || part == "-" {
			continue
		}
		if strings.HasPrefix(part, "-") {
			orders = append(orders, entity.Order{Attribute: part[1:], Desc: true})
			continue
		}
		orders = append(orders, entity.Order{Attribute: part})
	}
	return orders
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Server runs an http.Server whose handler can be replaced while serving.
type Server struct {
	addr         string
	readTimeout  time.Duration
	writeTimeout time.Duration
	current      atomic.Pointer[Channel]
	server       *http.Server
	listener     net.Listener
	logger       zerolog.Logger
}

// NewServer creates a server for addr serving c.
func NewServer(addr string, c *Channel, logger zerolog.Logger) *Server {
	s := &Server{addr: addr, logger: logger}
	s.current.Store(c)
	return s
}

// SetTimeouts sets the read and write timeouts used by Start.
func (s *Server) SetTimeouts(read, write time.Duration) {
	s.readTimeout, s.writeTimeout = read, write
}

// Swap replaces the channel serving new requests. In-flight requests
// finish on the channel they started with.
func (s *Server) Swap(c *Channel) {
	s.current.Store(c)
}

// Handler returns a handler that always delegates to the current channel.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.current.Load().ServeHTTP(w, r)
	})
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start binds the address and serves in the background. Bind errors are
// returned; an empty address disables the server.
func (s *Server) Start(ctx context.Context) error {
	if s.addr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Str("addr", s.Addr()).Msg("http server error")
		}
	}()

	s.logger.Info().Str("addr", s.Addr()).Msg("http server started")
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
