package authz

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/artpar/entitygate/core/apierror"
	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/schema"
)

var userEntity = &schema.EntityConfiguration{Name: "user", Provider: "main"}

func newCatalog(t *testing.T) *plugin.Catalog {
	t.Helper()
	c := plugin.NewCatalog()
	if err := Register(c); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return c
}

// allChecks runs the four gate entry points and returns their errors.
func allChecks(g *Gate, r *http.Request) []error {
	ec := plugin.NewExecutionContext()
	return []error{
		g.ValidateToken(r, ec),
		g.AuthorizeEntity(r, userEntity, schema.ActionCreate, ec),
		g.AuthorizeRecord(r, userEntity, "1", schema.ActionRead, ec),
		g.AuthorizeFilters(r, userEntity, entity.Filters{"a": {"b"}}, schema.ActionList, ec),
	}
}

func TestGate_DenyAll(t *testing.T) {
	g := NewGate(DenyAll{}, zerolog.Nop())
	r := httptest.NewRequest(http.MethodGet, "/api/user/1", nil)

	for i, err := range allChecks(g, r) {
		apiErr, ok := apierror.As(err)
		if !ok {
			t.Fatalf("check %d: error = %v, want *apierror.Error", i, err)
		}
		if apiErr.Status() != http.StatusNotFound || apiErr.Message().Key() != apierror.KeyUnknownRoute {
			t.Errorf("check %d: got %d %s", i, apiErr.Status(), apiErr.Message().Key())
		}
		if route, _ := apiErr.Message().Param("route"); route != "/api/user/1" {
			t.Errorf("check %d: route = %v, want /api/user/1", i, route)
		}
	}
}

func TestGate_AllowAll(t *testing.T) {
	g := NewGate(AllowAll{}, zerolog.Nop())
	r := httptest.NewRequest(http.MethodGet, "/api/user", nil)

	for i, err := range allChecks(g, r) {
		if err != nil {
			t.Errorf("check %d: error = %v, want nil", i, err)
		}
	}
}

func TestGate_NilPluginDenies(t *testing.T) {
	g := NewGate(nil, zerolog.Nop())
	if _, ok := g.Plugin().(DenyAll); !ok {
		t.Errorf("Plugin() = %T, want DenyAll", g.Plugin())
	}
}

func TestGate_WrapsPluginErrors(t *testing.T) {
	g := NewGate(failing{}, zerolog.Nop())
	r := httptest.NewRequest(http.MethodDelete, "/api/user/7", nil)

	err := g.AuthorizeRecord(r, userEntity, "7", schema.ActionDelete, plugin.NewExecutionContext())
	apiErr, ok := apierror.As(err)
	if !ok || apiErr.Message().Key() != apierror.KeyUnknownRoute {
		t.Fatalf("error = %v, want unknown route", err)
	}
	if !errors.Is(err, errForbidden) {
		t.Error("cause should be kept for logging")
	}
	if apiErr.ShouldLog() {
		t.Error("denials should not be logged")
	}
}

var errForbidden = errors.New("forbidden")

type failing struct{ AllowAll }

func (failing) AuthorizeRecord(*http.Request, *schema.EntityConfiguration, string, string, *plugin.ExecutionContext) error {
	return errForbidden
}

func TestResolve(t *testing.T) {
	c := newCatalog(t)
	deps := plugin.Deps{Logger: zerolog.Nop()}

	p, err := Resolve(c, nil, deps)
	if err != nil {
		t.Fatalf("Resolve(nil) error = %v", err)
	}
	if _, ok := p.(DenyAll); !ok {
		t.Errorf("Resolve(nil) = %T, want DenyAll", p)
	}

	p, err = Resolve(c, &schema.AuthorizationConfiguration{Type: TypeAllowAll}, deps)
	if err != nil {
		t.Fatalf("Resolve(allow-all) error = %v", err)
	}
	if _, ok := p.(AllowAll); !ok {
		t.Errorf("Resolve(allow-all) = %T, want AllowAll", p)
	}

	if _, err := Resolve(c, &schema.AuthorizationConfiguration{Type: "ldap"}, deps); err == nil {
		t.Error("Resolve() should fail on an unknown type")
	}
	if _, err := Resolve(c, &schema.AuthorizationConfiguration{Type: TypeJWT}, deps); err == nil {
		t.Error("Resolve(jwt) without secret should fail")
	}
}

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}

func newJWT(t *testing.T, extra schema.Options) *JWT {
	t.Helper()
	opts := schema.Options{
		"secret": schema.StringValue(testSecret),
		"rules": schema.ListValue(
			schema.MapValue(map[string]schema.Value{
				"entity":  schema.StringValue("*"),
				"actions": schema.StringValue("*"),
				"when":    schema.StringValue(`principal.role == "admin"`),
			}),
			schema.MapValue(map[string]schema.Value{
				"entity":  schema.StringValue("user"),
				"actions": schema.ListValue(schema.StringValue("read"), schema.StringValue("list")),
			}),
			schema.MapValue(map[string]schema.Value{
				"entity":  schema.StringValue("user"),
				"actions": schema.ListValue(schema.StringValue("update")),
				"when":    schema.StringValue(`id == principal.subject`),
			}),
		),
	}
	for k, v := range extra {
		opts[k] = v
	}
	p, err := NewJWT(schema.AuthorizationConfiguration{Type: TypeJWT, Options: opts}, plugin.Deps{})
	if err != nil {
		t.Fatalf("NewJWT() error = %v", err)
	}
	return p.(*JWT)
}

func requestWithToken(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestJWT_ValidateToken(t *testing.T) {
	j := newJWT(t, nil)
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", signToken(t, jwt.MapClaims{"sub": "u1", "role": "admin", "exp": exp}, testSecret), false},
		{"missing", "", true},
		{"wrong secret", signToken(t, jwt.MapClaims{"sub": "u1", "exp": exp}, "other"), true},
		{"expired", signToken(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()}, testSecret), true},
		{"garbage", "not.a.token", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := plugin.NewExecutionContext()
			err := j.ValidateToken(requestWithToken(tt.token), ec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				p, ok := ec.Principal()
				if !ok || p.Subject != "u1" || p.Role != "admin" {
					t.Errorf("Principal() = %+v, %v", p, ok)
				}
			}
		})
	}
}

func TestJWT_Anonymous(t *testing.T) {
	j := newJWT(t, schema.Options{"anonymous": schema.BoolValue(true)})
	ec := plugin.NewExecutionContext()

	if err := j.ValidateToken(requestWithToken(""), ec); err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if _, ok := ec.Principal(); ok {
		t.Error("anonymous requests should have no principal")
	}
	if err := j.AuthorizeFilters(nil, userEntity, nil, schema.ActionList, ec); err != nil {
		t.Errorf("anonymous list on user should be allowed: %v", err)
	}
	if err := j.AuthorizeEntity(nil, userEntity, schema.ActionCreate, ec); err == nil {
		t.Error("anonymous create should be denied")
	}
}

func TestJWT_Rules(t *testing.T) {
	j := newJWT(t, nil)
	group := &schema.EntityConfiguration{Name: "group"}

	admin := plugin.NewExecutionContext()
	admin.SetPrincipal(plugin.Principal{Subject: "a", Role: "admin"})
	member := plugin.NewExecutionContext()
	member.SetPrincipal(plugin.Principal{Subject: "u1", Role: "member"})

	tests := []struct {
		name    string
		check   func() error
		allowed bool
	}{
		{"admin creates group", func() error { return j.AuthorizeEntity(nil, group, schema.ActionCreate, admin) }, true},
		{"member creates group", func() error { return j.AuthorizeEntity(nil, group, schema.ActionCreate, member) }, false},
		{"member reads user", func() error { return j.AuthorizeRecord(nil, userEntity, "x", schema.ActionRead, member) }, true},
		{"member updates self", func() error { return j.AuthorizeRecord(nil, userEntity, "u1", schema.ActionUpdate, member) }, true},
		{"member updates other", func() error { return j.AuthorizeRecord(nil, userEntity, "u2", schema.ActionUpdate, member) }, false},
		{"member deletes user", func() error { return j.AuthorizeRecord(nil, userEntity, "u1", schema.ActionDelete, member) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check()
			if (err == nil) != tt.allowed {
				t.Errorf("allowed = %v, want %v (err = %v)", err == nil, tt.allowed, err)
			}
		})
	}
}

func TestJWT_BadRule(t *testing.T) {
	_, err := NewJWT(schema.AuthorizationConfiguration{Type: TypeJWT, Options: schema.Options{
		"secret": schema.StringValue("s"),
		"rules":  schema.ListValue(schema.MapValue(map[string]schema.Value{"when": schema.StringValue("(")})),
	}}, plugin.Deps{})
	if err == nil {
		t.Error("NewJWT() should reject a rule that does not compile")
	}
}

func TestJWT_Contribute(t *testing.T) {
	j := newJWT(t, schema.Options{"read_only": schema.ListValue(schema.StringValue("audit"))})

	root := &schema.RootConfiguration{Entities: []schema.EntityConfiguration{
		{Name: "audit", Provider: "main", DisabledRoutes: []string{schema.VerbDelete}},
		{Name: "user", Provider: "main"},
	}}
	if err := j.Contribute(root); err != nil {
		t.Fatalf("Contribute() error = %v", err)
	}

	audit := root.Entities[0]
	for _, verb := range []string{schema.VerbCreate, schema.VerbUpdate, schema.VerbPatch, schema.VerbDelete} {
		if !audit.IsDisabled(verb) {
			t.Errorf("audit %s should be disabled", verb)
		}
	}
	if len(audit.DisabledRoutes) != 4 {
		t.Errorf("DisabledRoutes = %v, want 4 unique verbs", audit.DisabledRoutes)
	}
	if len(root.Entities[1].DisabledRoutes) != 0 {
		t.Error("other entities should be untouched")
	}

	bad := newJWT(t, schema.Options{"read_only": schema.ListValue(schema.StringValue("nope"))})
	if err := bad.Contribute(root); err == nil {
		t.Error("Contribute() should fail for an unknown entity")
	}
}
