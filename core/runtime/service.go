// Package runtime is the dynamic entity service. For each operation it
// resolves the entity bound to a route, authorizes the caller, validates
// the payload, runs the before tasks, calls the provider and runs the
// after tasks.
//
// A route that does not exist, a verb the entity disables and every
// authorization denial all fail with the same unknown-route error.
package runtime

import (
	"errors"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/entitygate/core/apierror"
	"github.com/artpar/entitygate/core/authz"
	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/i18n"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/schema"
	"github.com/artpar/entitygate/core/task"
	"github.com/artpar/entitygate/core/validation"
)

// Outcomes reported to the Recorder.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// EntityResolver finds entity definitions by route.
type EntityResolver interface {
	EntityByRoute(route string) (*schema.EntityConfiguration, bool)
}

// ProviderResolver finds provider instances by name.
type ProviderResolver interface {
	ByName(name string) (plugin.ProviderPlugin, bool)
}

// Recorder observes completed operations.
type Recorder interface {
	ObserveOperation(entity, operation, outcome string, d time.Duration)
}

// Recorders hands every observation to each recorder in order.
type Recorders []Recorder

func (rs Recorders) ObserveOperation(entity, operation, outcome string, d time.Duration) {
	for _, r := range rs {
		r.ObserveOperation(entity, operation, outcome, d)
	}
}

// Config holds the collaborators of a Service.
type Config struct {
	Entities  EntityResolver
	Providers ProviderResolver
	Gate      *authz.Gate
	Validator *validation.Runner
	Tasks     *task.Runner

	// Recorder is optional.
	Recorder Recorder
	Logger   zerolog.Logger
}

// Service runs entity operations through the pipeline.
// It holds no per-request state and is safe for concurrent use.
type Service struct {
	entities  EntityResolver
	providers ProviderResolver
	gate      *authz.Gate
	validator *validation.Runner
	tasks     *task.Runner
	recorder  Recorder
	logger    zerolog.Logger
}

// New creates a Service. A nil Gate denies everything.
func New(cfg Config) *Service {
	gate := cfg.Gate
	if gate == nil {
		gate = authz.NewGate(nil, cfg.Logger)
	}
	return &Service{
		entities:  cfg.Entities,
		providers: cfg.Providers,
		gate:      gate,
		validator: cfg.Validator,
		tasks:     cfg.Tasks,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger,
	}
}

// HandleCreate creates a record from body.
func (s *Service) HandleCreate(r *http.Request, route string, body map[string]any) (result entity.DynamicEntity, err error) {
	op := s.begin(schema.VerbCreate)
	defer func() { op.end(err) }()

	cfg, ec, err := s.open(r, route, schema.VerbCreate, op)
	if err != nil {
		return entity.DynamicEntity{}, err
	}
	if err := s.gate.AuthorizeEntity(r, cfg, schema.ActionCreate, ec); err != nil {
		return entity.DynamicEntity{}, err
	}

	attrs, err := s.validator.Validate(cfg, body, schema.VerbCreate)
	if err != nil {
		return entity.DynamicEntity{}, err
	}
	p, err := s.provider(cfg)
	if err != nil {
		return entity.DynamicEntity{}, err
	}

	e := entity.New(cfg, attrs)
	if err := s.before(r, cfg, schema.VerbCreate, &e, ec); err != nil {
		return entity.DynamicEntity{}, err
	}

	result, err = p.Create(r.Context(), ec, cfg, e.Attributes)
	if err != nil {
		return entity.DynamicEntity{}, providerFailure(cfg, schema.VerbCreate, "", err)
	}
	result.Configuration = cfg

	if err := s.after(r, cfg, schema.VerbCreate, &result, ec); err != nil {
		return entity.DynamicEntity{}, err
	}
	return result, nil
}

// HandleUpdate replaces the record id with body. Declared attributes that
// body omits are cleared.
func (s *Service) HandleUpdate(r *http.Request, route, id string, body map[string]any) (result entity.DynamicEntity, err error) {
	op := s.begin(schema.VerbUpdate)
	defer func() { op.end(err) }()

	cfg, ec, err := s.open(r, route, schema.VerbUpdate, op)
	if err != nil {
		return entity.DynamicEntity{}, err
	}
	if err := s.gate.AuthorizeRecord(r, cfg, id, schema.ActionUpdate, ec); err != nil {
		return entity.DynamicEntity{}, err
	}

	attrs, err := s.validator.Validate(cfg, body, schema.VerbUpdate)
	if err != nil {
		return entity.DynamicEntity{}, err
	}
	for _, attr := range cfg.Attributes {
		if _, ok := attrs[attr.Name]; !ok {
			attrs[attr.Name] = nil
		}
	}
	return s.modify(r, cfg, ec, schema.VerbUpdate, id, attrs)
}

// HandlePatch changes only the attributes present in body.
func (s *Service) HandlePatch(r *http.Request, route, id string, body map[string]any) (result entity.DynamicEntity, err error) {
	op := s.begin(schema.VerbPatch)
	defer func() { op.end(err) }()

	cfg, ec, err := s.open(r, route, schema.VerbPatch, op)
	if err != nil {
		return entity.DynamicEntity{}, err
	}
	if err := s.gate.AuthorizeRecord(r, cfg, id, schema.ActionPatch, ec); err != nil {
		return entity.DynamicEntity{}, err
	}

	attrs, err := s.validator.Validate(cfg, body, schema.VerbPatch)
	if err != nil {
		return entity.DynamicEntity{}, err
	}
	return s.modify(r, cfg, ec, schema.VerbPatch, id, attrs)
}

func (s *Service) modify(r *http.Request, cfg *schema.EntityConfiguration, ec *plugin.ExecutionContext, verb, id string, attrs map[string]any) (entity.DynamicEntity, error) {
	p, err := s.provider(cfg)
	if err != nil {
		return entity.DynamicEntity{}, err
	}

	// The path id wins over any id in the payload.
	attrs[entity.IDAttribute] = id
	e := entity.New(cfg, attrs)
	if err := s.before(r, cfg, verb, &e, ec); err != nil {
		return entity.DynamicEntity{}, err
	}

	changes := e.Clone().Attributes
	delete(changes, entity.IDAttribute)

	var result entity.DynamicEntity
	if verb == schema.VerbUpdate {
		result, err = p.Update(r.Context(), ec, cfg, id, changes)
	} else {
		result, err = p.Patch(r.Context(), ec, cfg, id, changes)
	}
	if err != nil {
		return entity.DynamicEntity{}, providerFailure(cfg, verb, id, err)
	}
	result.Configuration = cfg

	if err := s.after(r, cfg, verb, &result, ec); err != nil {
		return entity.DynamicEntity{}, err
	}
	return result, nil
}

// HandleDelete removes the record id and reports whether it existed.
func (s *Service) HandleDelete(r *http.Request, route, id string) (deleted bool, err error) {
	op := s.begin(schema.VerbDelete)
	defer func() { op.end(err) }()

	cfg, ec, err := s.open(r, route, schema.VerbDelete, op)
	if err != nil {
		return false, err
	}
	if err := s.gate.AuthorizeRecord(r, cfg, id, schema.ActionDelete, ec); err != nil {
		return false, err
	}
	p, err := s.provider(cfg)
	if err != nil {
		return false, err
	}

	e := entity.New(cfg, map[string]any{entity.IDAttribute: id})
	if err := s.before(r, cfg, schema.VerbDelete, &e, ec); err != nil {
		return false, err
	}

	deleted, err = p.Delete(r.Context(), ec, cfg, id)
	if err != nil {
		return false, providerFailure(cfg, schema.VerbDelete, id, err)
	}

	if err := s.after(r, cfg, schema.VerbDelete, &e, ec); err != nil {
		return false, err
	}
	return deleted, nil
}

// HandleFindByID reads the record id. A missing record is reported by the
// bool result, not as an error. After tasks run only for a found record.
func (s *Service) HandleFindByID(r *http.Request, route, id string) (result entity.DynamicEntity, found bool, err error) {
	op := s.begin(schema.VerbFindByID)
	defer func() { op.end(err) }()

	cfg, ec, err := s.open(r, route, schema.VerbFindByID, op)
	if err != nil {
		return entity.DynamicEntity{}, false, err
	}
	if err := s.gate.AuthorizeRecord(r, cfg, id, schema.ActionRead, ec); err != nil {
		return entity.DynamicEntity{}, false, err
	}
	p, err := s.provider(cfg)
	if err != nil {
		return entity.DynamicEntity{}, false, err
	}

	e := entity.New(cfg, map[string]any{entity.IDAttribute: id})
	if err := s.before(r, cfg, schema.VerbFindByID, &e, ec); err != nil {
		return entity.DynamicEntity{}, false, err
	}

	result, found, err = p.FindByID(r.Context(), ec, cfg, id)
	if errors.Is(err, plugin.ErrNotFound) {
		return entity.DynamicEntity{}, false, nil
	}
	if err != nil {
		return entity.DynamicEntity{}, false, providerFailure(cfg, schema.VerbFindByID, id, err)
	}
	if !found {
		return entity.DynamicEntity{}, false, nil
	}
	result.Configuration = cfg

	if err := s.after(r, cfg, schema.VerbFindByID, &result, ec); err != nil {
		return entity.DynamicEntity{}, false, err
	}
	return result, true, nil
}

// HandleFindAll lists records matching filters. Pagination is forwarded to
// the provider unchanged. After tasks run once per returned record.
func (s *Service) HandleFindAll(r *http.Request, route string, filters entity.Filters, page entity.Pageable) (result entity.Page, err error) {
	op := s.begin(schema.VerbFindAll)
	defer func() { op.end(err) }()

	cfg, ec, err := s.open(r, route, schema.VerbFindAll, op)
	if err != nil {
		return entity.Page{}, err
	}
	if err := s.gate.AuthorizeFilters(r, cfg, filters, schema.ActionList, ec); err != nil {
		return entity.Page{}, err
	}
	if err := checkQuery(cfg, filters, page); err != nil {
		return entity.Page{}, err
	}
	p, err := s.provider(cfg)
	if err != nil {
		return entity.Page{}, err
	}

	e := entity.New(cfg, nil)
	if err := s.before(r, cfg, schema.VerbFindAll, &e, ec); err != nil {
		return entity.Page{}, err
	}

	result, err = p.FindAll(r.Context(), ec, cfg, filters, page)
	if err != nil {
		return entity.Page{}, providerFailure(cfg, schema.VerbFindAll, "", err)
	}
	if result.Content == nil {
		result.Content = []entity.DynamicEntity{}
	}
	for i := range result.Content {
		result.Content[i].Configuration = cfg
		if err := s.after(r, cfg, schema.VerbFindAll, &result.Content[i], ec); err != nil {
			return entity.Page{}, err
		}
	}
	return result, nil
}

// checkQuery rejects filters and sort orders on attributes the entity
// does not declare. The id is always accepted.
func checkQuery(cfg *schema.EntityConfiguration, filters entity.Filters, page entity.Pageable) error {
	declared := func(name string) bool {
		if name == entity.IDAttribute {
			return true
		}
		_, ok := cfg.Attribute(name)
		return ok
	}
	for _, name := range slices.Sorted(maps.Keys(filters)) {
		if !declared(name) {
			return apierror.InvalidParameter(name)
		}
	}
	for _, o := range page.Sort {
		if !declared(o.Attribute) {
			return apierror.InvalidParameter("sort")
		}
	}
	return nil
}

// open resolves the entity for route and validates the caller's token.
func (s *Service) open(r *http.Request, route, verb string, op *operation) (*schema.EntityConfiguration, *plugin.ExecutionContext, error) {
	cfg, ok := s.entities.EntityByRoute(route)
	if !ok || cfg.IsDisabled(verb) {
		s.logger.Debug().
			Str("route", route).
			Str("verb", verb).
			Bool("disabled", ok).
			Msg("route not served")
		return nil, nil, apierror.UnknownRoute(r.URL.Path)
	}
	op.entity = cfg.Name

	ec := plugin.NewExecutionContext()
	if err := s.gate.ValidateToken(r, ec); err != nil {
		return nil, nil, err
	}
	return cfg, ec, nil
}

func (s *Service) provider(cfg *schema.EntityConfiguration) (plugin.ProviderPlugin, error) {
	p, ok := s.providers.ByName(cfg.Provider)
	if !ok {
		return nil, apierror.New(http.StatusInternalServerError,
			i18n.Of(apierror.KeyProviderMissing, map[string]any{"entity": cfg.Name, "provider": cfg.Provider}))
	}
	return p, nil
}

func (s *Service) before(r *http.Request, cfg *schema.EntityConfiguration, verb string, e *entity.DynamicEntity, ec *plugin.ExecutionContext) error {
	return s.tasks.Run(r.Context(), cfg, schema.BeforePhase(verb), e, ec)
}

// after runs the after tasks. The provider call has already completed and
// is not reverted; the failure is logged and returned.
func (s *Service) after(r *http.Request, cfg *schema.EntityConfiguration, verb string, e *entity.DynamicEntity, ec *plugin.ExecutionContext) error {
	err := s.tasks.Run(r.Context(), cfg, schema.AfterPhase(verb), e, ec)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("entity", cfg.Name).
			Str("phase", schema.AfterPhase(verb)).
			Str("id", e.ID()).
			Msg("after task failed, operation already applied")
	}
	return err
}

func providerFailure(cfg *schema.EntityConfiguration, verb, id string, err error) error {
	if apiErr, ok := apierror.As(err); ok {
		return apiErr
	}
	if errors.Is(err, plugin.ErrNotFound) && (verb == schema.VerbUpdate || verb == schema.VerbPatch) {
		return apierror.EntityNotFound(cfg.Name, id)
	}
	return apierror.New(http.StatusInternalServerError,
		i18n.Of(apierror.KeyProviderFailure, map[string]any{"entity": cfg.Name, "operation": verb}),
		apierror.WithCause(err))
}

type operation struct {
	s      *Service
	name   string
	entity string
	start  time.Time
}

func (s *Service) begin(name string) *operation {
	return &operation{s: s, name: name, entity: "unknown", start: time.Now()}
}

func (o *operation) end(err error) {
	outcome := Outcome(err)
	d := time.Since(o.start)

	if o.s.recorder != nil {
		o.s.recorder.ObserveOperation(o.entity, o.name, outcome, d)
	}

	o.s.logger.Debug().
		Err(err).
		Str("entity", o.entity).
		Str("operation", o.name).
		Str("outcome", outcome).
		Dur("duration", d).
		Msg("entity operation")
}

// Outcome classifies err: nil is a success, an API error below 500 is a
// rejection, anything else is an error.
func Outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	if apiErr, ok := apierror.As(err); ok && apiErr.Status() < http.StatusInternalServerError {
		return OutcomeRejected
	}
	return OutcomeError
}
