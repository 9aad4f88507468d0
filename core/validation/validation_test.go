package validation

import (
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	"github.com/artpar/entitygate/core/apierror"
	"github.com/artpar/entitygate/core/i18n"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/schema"
)

func newRunner(t *testing.T) *Runner {
	t.Helper()
	c := plugin.NewCatalog()
	if err := Register(c); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return NewRunner(c, zerolog.Nop())
}

func userEntity() *schema.EntityConfiguration {
	return &schema.EntityConfiguration{
		Name:     "user",
		Provider: "ldap1",
		Attributes: []schema.AttributeConfiguration{
			{
				Name: "email",
				Validations: []schema.ValidationConfiguration{
					{Type: TypeNotNull, Phases: []string{"create"}},
				},
			},
		},
	}
}

func violationsOf(t *testing.T, err error) Violations {
	t.Helper()
	apiErr, ok := apierror.As(err)
	if !ok {
		t.Fatalf("error = %v, want *apierror.Error", err)
	}
	if apiErr.Status() != http.StatusUnprocessableEntity {
		t.Fatalf("Status() = %d, want 422", apiErr.Status())
	}
	if apiErr.Message().Key() != apierror.KeyValidationFailed {
		t.Fatalf("Key() = %s, want %s", apiErr.Message().Key(), apierror.KeyValidationFailed)
	}
	out := make(Violations)
	for k, v := range apiErr.Details() {
		out[k] = v.([]i18n.Message)
	}
	return out
}

func TestRunner_NotNullOnCreate(t *testing.T) {
	r := newRunner(t)

	_, err := r.Validate(userEntity(), map[string]any{"email": nil}, schema.VerbCreate)
	v := violationsOf(t, err)
	if len(v) != 1 || len(v["email"]) != 1 {
		t.Fatalf("violations = %v, want one for email", v)
	}
	if v["email"][0].Key() != "error.validation.not_null" {
		t.Errorf("Key() = %s", v["email"][0].Key())
	}
	if attr, _ := v["email"][0].Param("attribute"); attr != "email" {
		t.Errorf("attribute param = %v, want email", attr)
	}

	out, err := r.Validate(userEntity(), map[string]any{"email": "a@b.com"}, schema.VerbCreate)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if out["email"] != "a@b.com" {
		t.Errorf("email = %v, want a@b.com", out["email"])
	}
}

func TestRunner_PhaseFiltering(t *testing.T) {
	r := newRunner(t)
	if _, err := r.Validate(userEntity(), map[string]any{"email": nil}, schema.VerbUpdate); err != nil {
		t.Errorf("create-only validation should not run on update: %v", err)
	}
}

func TestRunner_CollectsAllViolations(t *testing.T) {
	r := newRunner(t)
	cfg := &schema.EntityConfiguration{
		Name: "user",
		Attributes: []schema.AttributeConfiguration{
			{Name: "email", Validations: []schema.ValidationConfiguration{
				{Type: TypeEmail, Phases: []string{"create"}},
				{Type: TypeLength, Phases: []string{"create"}, Options: schema.Options{"min": schema.NumberValue(50)}},
			}},
			{Name: "code", Validations: []schema.ValidationConfiguration{
				{Type: TypePattern, Phases: []string{"create"}, Options: schema.Options{"pattern": schema.StringValue(`^[A-Z]+$`)}},
			}},
		},
	}

	_, err := r.Validate(cfg, map[string]any{"email": "nope", "code": "abc"}, schema.VerbCreate)
	v := violationsOf(t, err)
	if len(v) != 2 {
		t.Fatalf("violations = %v, want entries for email and code", v)
	}
	if len(v["email"]) != 2 {
		t.Errorf("email violations = %v, want 2", v["email"])
	}
	if len(v["code"]) != 1 {
		t.Errorf("code violations = %v, want 1", v["code"])
	}
}

func TestRunner_RequiredAndNullIfEmpty(t *testing.T) {
	r := newRunner(t)
	cfg := &schema.EntityConfiguration{
		Name: "user",
		Attributes: []schema.AttributeConfiguration{
			{Name: "name", Required: true, NullIfEmpty: true, Validations: []schema.ValidationConfiguration{
				{Type: TypeLength, Phases: []string{"create", "update", "patch"}, Options: schema.Options{"min": schema.NumberValue(3)}},
			}},
			{Name: "nick", NullIfEmpty: true},
		},
	}

	_, err := r.Validate(cfg, map[string]any{"name": ""}, schema.VerbCreate)
	v := violationsOf(t, err)
	if len(v["name"]) != 1 || v["name"][0].Key() != apierror.KeyRequired {
		t.Errorf("name violations = %v, want only required", v["name"])
	}

	out, err := r.Validate(cfg, map[string]any{"name": "alice", "nick": ""}, schema.VerbCreate)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if nick, present := out["nick"]; !present || nick != nil {
		t.Errorf("nick = %v, %v; want nil", nick, present)
	}
}

func TestRunner_Patch(t *testing.T) {
	r := newRunner(t)
	cfg := &schema.EntityConfiguration{
		Name: "user",
		Attributes: []schema.AttributeConfiguration{
			{Name: "name", Required: true},
			{Name: "age", Type: "integer"},
		},
	}

	if _, err := r.Validate(cfg, map[string]any{"age": 3}, schema.VerbPatch); err != nil {
		t.Errorf("absent required attribute should be ignored on patch: %v", err)
	}
	if _, err := r.Validate(cfg, map[string]any{}, schema.VerbPatch); err != nil {
		t.Errorf("empty patch should pass: %v", err)
	}

	_, err := r.Validate(cfg, map[string]any{"name": nil}, schema.VerbPatch)
	if v := violationsOf(t, err); len(v["name"]) != 1 {
		t.Errorf("clearing a required attribute should fail, got %v", v)
	}

	_, err = r.Validate(cfg, map[string]any{}, schema.VerbUpdate)
	if v := violationsOf(t, err); len(v["name"]) != 1 {
		t.Errorf("update without a required attribute should fail, got %v", v)
	}
}

func TestRunner_UnknownAttributeAndType(t *testing.T) {
	r := newRunner(t)
	cfg := &schema.EntityConfiguration{
		Name:       "user",
		Attributes: []schema.AttributeConfiguration{{Name: "age", Type: "integer"}},
	}

	_, err := r.Validate(cfg, map[string]any{"id": "1", "age": 1.5, "colour": "blue"}, schema.VerbCreate)
	v := violationsOf(t, err)
	if _, ok := v["id"]; ok {
		t.Error("id should always be accepted")
	}
	if len(v["colour"]) != 1 || v["colour"][0].Key() != apierror.KeyUnknownAttribute {
		t.Errorf("colour violations = %v", v["colour"])
	}
	if len(v["age"]) != 1 || v["age"][0].Key() != apierror.KeyInvalidType {
		t.Errorf("age violations = %v", v["age"])
	}
}

func TestRunner_MissingPlugin(t *testing.T) {
	r := newRunner(t)
	cfg := &schema.EntityConfiguration{
		Name: "user",
		Attributes: []schema.AttributeConfiguration{{Name: "email", Validations: []schema.ValidationConfiguration{
			{Type: "ldap_unique", Phases: []string{"create"}},
		}}},
	}

	_, err := r.Validate(cfg, map[string]any{"email": "a@b.com"}, schema.VerbCreate)
	apiErr, ok := apierror.As(err)
	if !ok || apiErr.Status() != http.StatusInternalServerError || apiErr.Message().Key() != apierror.KeyValidationMissing {
		t.Fatalf("error = %v, want validation missing", err)
	}
	if !apiErr.ShouldLog() {
		t.Error("configuration errors should be logged")
	}

	if err := r.Check([]*schema.EntityConfiguration{cfg}); err == nil {
		t.Error("Check() should report the unknown type")
	}
}

func TestRunner_Check(t *testing.T) {
	r := newRunner(t)
	good := &schema.EntityConfiguration{Name: "user", Attributes: []schema.AttributeConfiguration{
		{Name: "code", Validations: []schema.ValidationConfiguration{
			{Type: TypePattern, Options: schema.Options{"pattern": schema.StringValue(`^\d+$`)}},
		}},
	}}
	if err := r.Check([]*schema.EntityConfiguration{good}); err != nil {
		t.Errorf("Check() error = %v", err)
	}

	bad := &schema.EntityConfiguration{Name: "user", Attributes: []schema.AttributeConfiguration{
		{Name: "code", Validations: []schema.ValidationConfiguration{
			{Type: TypePattern, Options: schema.Options{"pattern": schema.StringValue(`(`)}},
		}},
	}}
	if err := r.Check([]*schema.EntityConfiguration{bad}); err == nil {
		t.Error("Check() should reject an invalid pattern")
	}
}

func TestRunner_DoesNotMutateBody(t *testing.T) {
	r := newRunner(t)
	cfg := &schema.EntityConfiguration{Name: "user", Attributes: []schema.AttributeConfiguration{{Name: "nick", NullIfEmpty: true}}}
	body := map[string]any{"nick": ""}

	if _, err := r.Validate(cfg, body, schema.VerbCreate); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if body["nick"] != "" {
		t.Errorf("body should be left untouched, got %v", body["nick"])
	}
}
