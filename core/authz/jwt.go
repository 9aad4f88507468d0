package authz

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"

	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/expression"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/schema"
)

// Rule grants actions on an entity, optionally under a condition.
// "*" matches any entity or action.
type Rule struct {
	Entity  string
	Actions []string
	When    string
}

func (r Rule) matches(entityName, action string) bool {
	if r.Entity != "*" && r.Entity != entityName {
		return false
	}
	return lo.Contains(r.Actions, "*") || lo.Contains(r.Actions, action)
}

// JWT validates HS256 bearer tokens and grants access through rules.
// Requests no rule allows are denied.
//
// Options:
//
//	secret:     signing key (required)
//	issuer:     expected iss claim
//	role_claim: claim holding the role (default "role")
//	anonymous:  accept requests without a token
//	read_only:  entity names whose write verbs are disabled
//	rules:      list of {entity, actions, when}
//
// Rule conditions are expressions over principal, entity, action, id and
// filters, e.g. `principal.role == "admin"`.
type JWT struct {
	secret    []byte
	issuer    string
	roleClaim string
	anonymous bool
	readOnly  []string
	rules     []Rule
	eval      *expression.Evaluator
}

// NewJWT builds the plugin from its configuration.
func NewJWT(cfg schema.AuthorizationConfiguration, _ plugin.Deps) (plugin.AuthorizationPlugin, error) {
	secret, ok := cfg.Options.String("secret")
	if !ok || secret == "" {
		return nil, errors.New("secret is required")
	}

	j := &JWT{
		secret:    []byte(secret),
		issuer:    cfg.Options.StringOr("issuer", ""),
		roleClaim: cfg.Options.StringOr("role_claim", "role"),
		eval:      expression.New(),
	}
	if anon, ok := cfg.Options.Bool("anonymous"); ok {
		j.anonymous = anon
	}
	if _, present := cfg.Options["read_only"]; present {
		if j.readOnly, ok = cfg.Options.Strings("read_only"); !ok {
			return nil, errors.New("read_only must be a list of entity names")
		}
	}

	items, _ := cfg.Options.List("rules")
	for i, item := range items {
		rule, err := parseRule(item)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		if rule.When != "" {
			if _, err := j.eval.Compile(rule.When); err != nil {
				return nil, fmt.Errorf("rules[%d]: %w", i, err)
			}
		}
		j.rules = append(j.rules, rule)
	}
	return j, nil
}

func parseRule(v schema.Value) (Rule, error) {
	m, ok := v.AsMap()
	if !ok {
		return Rule{}, fmt.Errorf("rule must be a map, got %s", v.Kind())
	}
	opts := schema.Options(m)

	rule := Rule{
		Entity: opts.StringOr("entity", "*"),
		When:   opts.StringOr("when", ""),
	}
	switch a := opts["actions"]; a.Kind() {
	case schema.KindNull:
		rule.Actions = []string{"*"}
	case schema.KindString:
		s, _ := a.AsString()
		rule.Actions = []string{s}
	default:
		actions, ok := opts.Strings("actions")
		if !ok {
			return Rule{}, errors.New("actions must be a string or a list of strings")
		}
		rule.Actions = actions
	}
	return rule, nil
}

// Contribute disables the write verbs of read-only entities.
func (j *JWT) Contribute(root *schema.RootConfiguration) error {
	for _, name := range j.readOnly {
		idx := lo.IndexOf(lo.Map(root.Entities, func(e schema.EntityConfiguration, _ int) string { return e.Name }), name)
		if idx < 0 {
			return fmt.Errorf("read_only: unknown entity %q", name)
		}
		e := &root.Entities[idx]
		e.DisabledRoutes = lo.Uniq(append(e.DisabledRoutes,
			schema.VerbCreate, schema.VerbUpdate, schema.VerbPatch, schema.VerbDelete))
	}
	return nil
}

// ValidateToken parses the bearer token and records the principal.
func (j *JWT) ValidateToken(r *http.Request, ec *plugin.ExecutionContext) error {
	raw, ok := bearer(r)
	if !ok {
		if j.anonymous {
			return nil
		}
		return errors.New("missing bearer token")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return errors.New("invalid token")
	}

	subject, _ := claims.GetSubject()
	role, _ := claims[j.roleClaim].(string)
	ec.SetPrincipal(plugin.Principal{Subject: subject, Role: role, Claims: claims})
	return nil
}

// AuthorizeEntity checks the rules for a type-level action.
func (j *JWT) AuthorizeEntity(_ *http.Request, cfg *schema.EntityConfiguration, action string, ec *plugin.ExecutionContext) error {
	return j.authorize(cfg.Name, action, ec, nil)
}

// AuthorizeRecord checks the rules with the record id in scope.
func (j *JWT) AuthorizeRecord(_ *http.Request, cfg *schema.EntityConfiguration, id, action string, ec *plugin.ExecutionContext) error {
	return j.authorize(cfg.Name, action, ec, map[string]any{"id": id})
}

// AuthorizeFilters checks the rules with the list filters in scope.
func (j *JWT) AuthorizeFilters(_ *http.Request, cfg *schema.EntityConfiguration, filters entity.Filters, action string, ec *plugin.ExecutionContext) error {
	f := make(map[string]any, len(filters))
	for k, v := range filters {
		f[k] = v
	}
	return j.authorize(cfg.Name, action, ec, map[string]any{"filters": f})
}

func (j *JWT) authorize(entityName, action string, ec *plugin.ExecutionContext, extra map[string]any) error {
	env := ec.Env()
	env["entity"] = entityName
	env["action"] = action
	env["id"] = ""
	env["filters"] = map[string]any{}
	for k, v := range extra {
		env[k] = v
	}

	for _, rule := range j.rules {
		if !rule.matches(entityName, action) {
			continue
		}
		if rule.When == "" {
			return nil
		}
		ok, err := j.eval.Bool(rule.When, env)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("no rule allows %s on %s", action, entityName)
}

func bearer(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
