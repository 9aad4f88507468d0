package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/artpar/entitygate/core/expression"
	"github.com/artpar/entitygate/core/i18n"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/schema"
)

// Built-in validation types.
const (
	TypeNotNull    = "not_null"
	TypeRequired   = "required"
	TypePattern    = "pattern"
	TypeEmail      = "email"
	TypeLength     = "length"
	TypeEnum       = "enum"
	TypeExpr       = "expr"
	TypeJSONSchema = "json_schema"
)

// Register adds the built-in validation types to c.
func Register(c *plugin.Catalog) error {
	builtins := map[string]plugin.ValidationPlugin{
		TypeNotNull:    NotNull{},
		TypeRequired:   NotNull{},
		TypePattern:    NewPattern(),
		TypeEmail:      Email{},
		TypeLength:     Length{},
		TypeEnum:       Enum{},
		TypeExpr:       NewExpr(expression.New()),
		TypeJSONSchema: NewJSONSchema(),
	}
	for typ, p := range builtins {
		if err := c.RegisterValidation(typ, p); err != nil {
			return err
		}
	}
	return nil
}

func violation(key string, ctx map[string]any) *i18n.Message {
	msg := i18n.Of(key, ctx)
	return &msg
}

// NotNull rejects nil values.
type NotNull struct{}

func (NotNull) Validate(_ schema.ValidationConfiguration, value any) (*i18n.Message, error) {
	if value == nil {
		return violation("error.validation.not_null", nil), nil
	}
	return nil, nil
}

// Pattern matches string values against the "pattern" option.
type Pattern struct {
	mu    sync.RWMutex
	cache map[string]*regexp.Regexp
}

// NewPattern creates a Pattern validator with an empty regexp cache.
func NewPattern() *Pattern {
	return &Pattern{cache: make(map[string]*regexp.Regexp)}
}

func (p *Pattern) compile(opts schema.Options) (*regexp.Regexp, error) {
	src, ok := opts.String("pattern")
	if !ok {
		return nil, errors.New("pattern option must be a string")
	}

	p.mu.RLock()
	re, ok := p.cache[src]
	p.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	p.mu.Lock()
	p.cache[src] = re
	p.mu.Unlock()
	return re, nil
}

// Check compiles the pattern.
func (p *Pattern) Check(opts schema.Options) error {
	_, err := p.compile(opts)
	return err
}

func (p *Pattern) Validate(cfg schema.ValidationConfiguration, value any) (*i18n.Message, error) {
	re, err := p.compile(cfg.Options)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok || !re.MatchString(s) {
		return violation("error.validation.pattern", map[string]any{"pattern": re.String()}), nil
	}
	return nil, nil
}

// Email accepts single RFC 5322 addresses without a display name.
type Email struct{}

func (Email) Validate(_ schema.ValidationConfiguration, value any) (*i18n.Message, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return violation("error.validation.email", nil), nil
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return violation("error.validation.email", nil), nil
	}
	return nil, nil
}

// Length bounds the rune count of strings or the size of lists with the
// "min" and "max" options.
type Length struct{}

// Check validates the bounds.
func (Length) Check(opts schema.Options) error {
	_, _, err := bounds(opts)
	return err
}

func bounds(opts schema.Options) (minLen, maxLen int, err error) {
	minLen, maxLen = 0, -1
	if _, present := opts["min"]; present {
		var ok bool
		if minLen, ok = opts.Int("min"); !ok || minLen < 0 {
			return 0, 0, errors.New("min must be a non-negative integer")
		}
	}
	if _, present := opts["max"]; present {
		var ok bool
		if maxLen, ok = opts.Int("max"); !ok || maxLen < minLen {
			return 0, 0, errors.New("max must be an integer not below min")
		}
	}
	return minLen, maxLen, nil
}

func (Length) Validate(cfg schema.ValidationConfiguration, value any) (*i18n.Message, error) {
	minLen, maxLen, err := bounds(cfg.Options)
	if err != nil {
		return nil, err
	}

	var n int
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		n = utf8.RuneCountInString(v)
	case []any:
		n = len(v)
	default:
		return violation("error.validation.length", map[string]any{"min": minLen, "max": maxLen}), nil
	}

	if n < minLen || (maxLen >= 0 && n > maxLen) {
		return violation("error.validation.length", map[string]any{"min": minLen, "max": maxLen, "length": n}), nil
	}
	return nil, nil
}

// Enum accepts only the members of the "values" option.
type Enum struct{}

// Check requires a list of values.
func (Enum) Check(opts schema.Options) error {
	if _, ok := opts.List("values"); !ok {
		return errors.New("values must be a list")
	}
	return nil
}

func (Enum) Validate(cfg schema.ValidationConfiguration, value any) (*i18n.Message, error) {
	allowed, ok := cfg.Options.List("values")
	if !ok {
		return nil, errors.New("values must be a list")
	}
	if value == nil {
		return nil, nil
	}

	v, err := schema.FromAny(value)
	if err == nil {
		for _, a := range allowed {
			if a.Equal(v) {
				return nil, nil
			}
		}
	}

	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = a.String()
	}
	return violation("error.validation.enum", map[string]any{"values": strings.Join(names, ", ")}), nil
}

// Expr evaluates the boolean "expression" option with the value bound to
// `value`. The optional "message" option replaces the failure key.
type Expr struct {
	eval *expression.Evaluator
}

// NewExpr creates an Expr validator using eval.
func NewExpr(eval *expression.Evaluator) *Expr {
	return &Expr{eval: eval}
}

// Check compiles the expression.
func (e *Expr) Check(opts schema.Options) error {
	src, ok := opts.String("expression")
	if !ok {
		return errors.New("expression option must be a string")
	}
	_, err := e.eval.Compile(src)
	return err
}

func (e *Expr) Validate(cfg schema.ValidationConfiguration, value any) (*i18n.Message, error) {
	src, ok := cfg.Options.String("expression")
	if !ok {
		return nil, errors.New("expression option must be a string")
	}
	passed, err := e.eval.Bool(src, map[string]any{"value": value})
	if err != nil {
		return nil, err
	}
	if passed {
		return nil, nil
	}
	return violation(cfg.Options.StringOr("message", "error.validation.expr"), nil), nil
}

// JSONSchema validates values against the "schema" option, given either
// as a map or as a JSON document string.
type JSONSchema struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchema creates a JSONSchema validator with an empty cache.
func NewJSONSchema() *JSONSchema {
	return &JSONSchema{cache: make(map[string]*jsonschema.Schema)}
}

func (j *JSONSchema) compile(opts schema.Options) (*jsonschema.Schema, error) {
	raw, ok := opts.Value("schema")
	if !ok {
		return nil, errors.New("schema option is required")
	}

	var doc string
	if s, isString := raw.AsString(); isString {
		doc = s
	} else {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("marshal schema: %w", err)
		}
		doc = string(data)
	}

	j.mu.RLock()
	compiled, ok := j.cache[doc]
	j.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("schema.json", strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	j.mu.Lock()
	j.cache[doc] = compiled
	j.mu.Unlock()
	return compiled, nil
}

// Check compiles the schema.
func (j *JSONSchema) Check(opts schema.Options) error {
	_, err := j.compile(opts)
	return err
}

func (j *JSONSchema) Validate(cfg schema.ValidationConfiguration, value any) (*i18n.Message, error) {
	compiled, err := j.compile(cfg.Options)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}

	// Round trip through JSON so numbers and nested values have the shapes
	// the validator expects.
	data, err := json.Marshal(value)
	if err != nil {
		return violation("error.validation.json_schema", map[string]any{"reason": err.Error()}), nil
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return violation("error.validation.json_schema", map[string]any{"reason": err.Error()}), nil
	}

	if err := compiled.Validate(doc); err != nil {
		reason := err.Error()
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			reason = leafMessage(ve)
		}
		return violation("error.validation.json_schema", map[string]any{"reason": reason}), nil
	}
	return nil, nil
}

func leafMessage(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return ve.Message
	}
	return ve.InstanceLocation + ": " + ve.Message
}
