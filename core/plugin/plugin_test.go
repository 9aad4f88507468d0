package plugin

import (
	"context"
	"testing"

	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/i18n"
	"github.com/artpar/entitygate/core/schema"
)

type stubValidation struct{}

func (stubValidation) Validate(schema.ValidationConfiguration, any) (*i18n.Message, error) {
	return nil, nil
}

type stubTask struct{}

func (stubTask) Execute(context.Context, schema.TaskConfiguration, string, *entity.DynamicEntity, *ExecutionContext) error {
	return nil
}

func TestCatalog_Register(t *testing.T) {
	c := NewCatalog()

	if err := c.RegisterValidation("not_null", stubValidation{}); err != nil {
		t.Fatalf("RegisterValidation() error = %v", err)
	}
	if err := c.RegisterValidation("not_null", stubValidation{}); err == nil {
		t.Error("duplicate registration should fail")
	}
	if err := c.RegisterTask("", stubTask{}); err == nil {
		t.Error("empty type should fail")
	}
	if err := c.RegisterTask("log", stubTask{}); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}

	if _, ok := c.Validation("not_null"); !ok {
		t.Error("Validation(not_null) not found")
	}
	if _, ok := c.Validation("pattern"); ok {
		t.Error("Validation(pattern) should be absent")
	}
	if _, ok := c.Task("log"); !ok {
		t.Error("Task(log) not found")
	}

	types := c.Types()
	if len(types["validation"]) != 1 || types["validation"][0] != "not_null" {
		t.Errorf("Types()[validation] = %v", types["validation"])
	}
	if len(types["provider"]) != 0 {
		t.Errorf("Types()[provider] = %v, want empty", types["provider"])
	}
}

func TestExecutionContext(t *testing.T) {
	ec := NewExecutionContext()

	if _, ok := ec.Principal(); ok {
		t.Error("new context should have no principal")
	}

	claims := map[string]any{"tenant": "a"}
	ec.SetPrincipal(Principal{Subject: "u1", Role: "admin", Claims: claims})
	claims["tenant"] = "b"

	p, ok := ec.Principal()
	if !ok || p.Subject != "u1" {
		t.Fatalf("Principal() = %+v, %v", p, ok)
	}
	if p.Claims["tenant"] != "a" {
		t.Errorf("claims should be copied, got %v", p.Claims["tenant"])
	}

	ec.Set("k", 1)
	if v, ok := ec.Get("k"); !ok || v != 1 {
		t.Errorf("Get(k) = %v, %v", v, ok)
	}

	env := ec.Env()
	principal := env["principal"].(map[string]any)
	if principal["role"] != "admin" {
		t.Errorf("env principal role = %v", principal["role"])
	}
}

func TestExecutionContext_ZeroValue(t *testing.T) {
	var ec ExecutionContext
	ec.Set("k", "v")
	if v, _ := ec.Get("k"); v != "v" {
		t.Errorf("Get(k) = %v, want v", v)
	}
	env := ec.Env()
	if principal := env["principal"].(map[string]any); principal["subject"] != "" {
		t.Errorf("anonymous subject = %v", principal["subject"])
	}
}
