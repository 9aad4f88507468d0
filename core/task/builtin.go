package task

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/events"
	"github.com/artpar/entitygate/core/expression"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/schema"
)

// Built-in task types.
const (
	TypeLog  = "log"
	TypeEmit = "emit"
	TypeSet  = "set"
	TypeHash = "hash"
	TypeUUID = "uuid"
)

// Register adds the built-in task types to c.
func Register(c *plugin.Catalog, logger zerolog.Logger, bus *events.Bus) error {
	builtins := map[string]plugin.TaskPlugin{
		TypeLog:  Log{logger: logger},
		TypeEmit: Emit{bus: bus},
		TypeSet:  NewSet(expression.New()),
		TypeHash: Hash{},
		TypeUUID: UUID{},
	}
	for typ, p := range builtins {
		if err := c.RegisterTask(typ, p); err != nil {
			return err
		}
	}
	return nil
}

// Log writes a log line with the entity, phase and record id.
// Options: level (debug, info, warn; default info), message.
type Log struct {
	logger zerolog.Logger
}

// Check validates the level.
func (Log) Check(opts schema.Options) error {
	_, err := zerolog.ParseLevel(opts.StringOr("level", "info"))
	return err
}

func (l Log) Execute(_ context.Context, cfg schema.TaskConfiguration, phase string, e *entity.DynamicEntity, ec *plugin.ExecutionContext) error {
	level, err := zerolog.ParseLevel(cfg.Options.StringOr("level", "info"))
	if err != nil {
		return err
	}

	event := l.logger.WithLevel(level).
		Str("entity", e.Name()).
		Str("phase", phase).
		Str("id", e.ID())
	if p, ok := ec.Principal(); ok {
		event = event.Str("subject", p.Subject)
	}
	event.Msg(cfg.Options.StringOr("message", "entity "+phase))
	return nil
}

// Emit publishes the entity on the event bus.
// Options: event (default "<entity>.<phase>"), async.
type Emit struct {
	bus *events.Bus
}

func (t Emit) Execute(ctx context.Context, cfg schema.TaskConfiguration, phase string, e *entity.DynamicEntity, _ *plugin.ExecutionContext) error {
	if t.bus == nil {
		return errors.New("no event bus")
	}

	event := events.Event{
		Name:   cfg.Options.StringOr("event", e.Name()+"."+phase),
		Entity: e.Name(),
		Phase:  phase,
		ID:     e.ID(),
		Data:   maps.Clone(e.Attributes),
	}
	if async, _ := cfg.Options.Bool("async"); async {
		t.bus.PublishAsync(ctx, event)
		return nil
	}
	t.bus.Publish(ctx, event)
	return nil
}

// Set assigns the result of an expression to an attribute.
// Options: attribute, expression. The expression sees the entity
// attributes as `entity`, the phase as `phase` and the caller as
// `principal`.
type Set struct {
	eval *expression.Evaluator
}

// NewSet creates a Set task using eval.
func NewSet(eval *expression.Evaluator) *Set {
	return &Set{eval: eval}
}

// Check compiles the expression.
func (s *Set) Check(opts schema.Options) error {
	if _, ok := opts.String("attribute"); !ok {
		return errors.New("attribute option must be a string")
	}
	src, ok := opts.String("expression")
	if !ok {
		return errors.New("expression option must be a string")
	}
	_, err := s.eval.Compile(src)
	return err
}

func (s *Set) Execute(_ context.Context, cfg schema.TaskConfiguration, phase string, e *entity.DynamicEntity, ec *plugin.ExecutionContext) error {
	attr, ok := cfg.Options.String("attribute")
	if !ok {
		return errors.New("attribute option must be a string")
	}
	src, ok := cfg.Options.String("expression")
	if !ok {
		return errors.New("expression option must be a string")
	}

	env := ec.Env()
	env["entity"] = maps.Clone(e.Attributes)
	env["phase"] = phase

	value, err := s.eval.Eval(src, env)
	if err != nil {
		return err
	}
	e.Set(attr, value)
	return nil
}

// Hash replaces a string attribute with its bcrypt hash. Values that are
// already bcrypt hashes are left alone.
// Options: attribute, cost.
type Hash struct{}

// Check validates the options.
func (Hash) Check(opts schema.Options) error {
	_, _, err := hashOptions(opts)
	return err
}

func hashOptions(opts schema.Options) (string, int, error) {
	attr, ok := opts.String("attribute")
	if !ok {
		return "", 0, errors.New("attribute option must be a string")
	}
	cost := bcrypt.DefaultCost
	if _, present := opts["cost"]; present {
		if cost, ok = opts.Int("cost"); !ok || cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return "", 0, fmt.Errorf("cost must be an integer between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
		}
	}
	return attr, cost, nil
}

func (Hash) Execute(_ context.Context, cfg schema.TaskConfiguration, _ string, e *entity.DynamicEntity, _ *plugin.ExecutionContext) error {
	attr, cost, err := hashOptions(cfg.Options)
	if err != nil {
		return err
	}

	raw, ok := e.Get(attr)
	if !ok || raw == nil {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return fmt.Errorf("attribute %q is %T, want string", attr, raw)
	}
	if isBcrypt(s) {
		return nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(s), cost)
	if err != nil {
		return fmt.Errorf("hash %q: %w", attr, err)
	}
	e.Set(attr, string(hashed))
	return nil
}

func isBcrypt(s string) bool {
	if len(s) != 60 {
		return false
	}
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// UUID fills an empty attribute with a random UUID.
// Options: attribute (default "id").
type UUID struct{}

func (UUID) Execute(_ context.Context, cfg schema.TaskConfiguration, _ string, e *entity.DynamicEntity, _ *plugin.ExecutionContext) error {
	attr := cfg.Options.StringOr("attribute", entity.IDAttribute)
	if v, ok := e.Get(attr); ok && v != nil && v != "" {
		return nil
	}
	e.Set(attr, uuid.NewString())
	return nil
}
