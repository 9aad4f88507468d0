package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/artpar/entitygate/core/schema"
)

func makeTestRoot() *schema.RootConfiguration {
	return &schema.RootConfiguration{
		Providers: []schema.ProviderConfiguration{
			{Name: "ldap1", Type: "memory"},
			{Name: "ldap2", Type: "memory"},
		},
		Tasks: []schema.TaskConfiguration{
			{Name: "audit", Type: "log", Phases: []string{"after_create"}},
		},
		Validations: []schema.ValidationConfiguration{
			{Name: "strict_email", Type: "email", Phases: []string{"create", "update"}},
		},
		Routes: []schema.RouteConfiguration{{Name: "health"}},
		Entities: []schema.EntityConfiguration{
			{
				Name:     "user",
				Provider: "ldap1",
				Attributes: []schema.AttributeConfiguration{
					{Name: "email", Validations: []schema.ValidationConfiguration{{Name: "strict_email"}}},
				},
				Tasks: []schema.TaskConfiguration{{Name: "audit"}},
			},
			{
				Name:           "group",
				Provider:       "ldap2",
				RouteName:      "groups",
				DisabledRoutes: []string{schema.VerbDelete, schema.VerbPatch},
			},
		},
	}
}

func TestNew(t *testing.T) {
	r, err := New(makeTestRoot())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if len(r.Entities()) != 2 {
		t.Errorf("Entities() = %d, want 2", len(r.Entities()))
	}
	if r.Prefix() != DefaultPrefix {
		t.Errorf("Prefix() = %s, want %s", r.Prefix(), DefaultPrefix)
	}
}

func TestRegistry_Lookups(t *testing.T) {
	r, err := New(makeTestRoot())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if e, ok := r.Entity("user"); !ok || e.Provider != "ldap1" {
		t.Errorf("Entity(user) = %v, %v", e, ok)
	}
	if _, ok := r.Entity("User"); ok {
		t.Error("lookups should be case-sensitive")
	}
	if e, ok := r.EntityByRoute("groups"); !ok || e.Name != "group" {
		t.Errorf("EntityByRoute(groups) = %v, %v", e, ok)
	}
	if _, ok := r.EntityByRoute("group"); ok {
		t.Error("explicit route should replace the name")
	}
	if e, ok := r.EntityByRoute("user"); !ok || e.Name != "user" {
		t.Errorf("EntityByRoute(user) = %v, %v", e, ok)
	}
	if p, ok := r.Provider("ldap2"); !ok || p.Type != "memory" {
		t.Errorf("Provider(ldap2) = %v, %v", p, ok)
	}
	if _, ok := r.Provider("ldap3"); ok {
		t.Error("Provider(ldap3) should be absent")
	}
	if _, ok := r.Task("audit"); !ok {
		t.Error("Task(audit) should be present")
	}
	if _, ok := r.Validation("strict_email"); !ok {
		t.Error("Validation(strict_email) should be present")
	}
	if len(r.Routes()) != 1 {
		t.Errorf("Routes() = %v", r.Routes())
	}
	if _, ok := r.Authorization(); ok {
		t.Error("Authorization() should be absent")
	}
}

func TestRegistry_ResolvesReferences(t *testing.T) {
	r, err := New(makeTestRoot())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	user, _ := r.Entity("user")
	if len(user.Tasks) != 1 || user.Tasks[0].Type != "log" || !user.Tasks[0].AppliesTo("after_create") {
		t.Errorf("task reference not resolved: %+v", user.Tasks)
	}
	email, _ := user.Attribute("email")
	if len(email.Validations) != 1 || email.Validations[0].Type != "email" {
		t.Errorf("validation reference not resolved: %+v", email.Validations)
	}
}

func TestRegistry_UnknownReference(t *testing.T) {
	root := makeTestRoot()
	root.Entities[0].Tasks = append(root.Entities[0].Tasks, schema.TaskConfiguration{Name: "missing"})
	root.Entities[1].Attributes = []schema.AttributeConfiguration{
		{Name: "cn", Validations: []schema.ValidationConfiguration{{Name: "nope"}}},
	}

	_, err := New(root)
	if err == nil {
		t.Fatal("New() should fail on unknown references")
	}

	var refErr *ReferenceError
	if !errors.As(err, &refErr) {
		t.Fatalf("error should contain a ReferenceError, got %v", err)
	}
	want := `entity "user": unknown task "missing"`
	if refErr.Error() != want {
		t.Errorf("Error() = %s, want %s", refErr.Error(), want)
	}
}

func TestRegistry_DuplicateRoute(t *testing.T) {
	root := makeTestRoot()
	root.Entities = append(root.Entities, schema.EntityConfiguration{Name: "team", Provider: "ldap1", RouteName: "groups"})

	if _, err := New(root); err == nil {
		t.Error("New() should fail when two entities claim one route")
	}
}

func TestRegistry_DoesNotAliasInput(t *testing.T) {
	root := makeTestRoot()
	r, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	root.Entities[1].DisabledRoutes[0] = schema.VerbCreate
	root.Authorization = &schema.AuthorizationConfiguration{Type: "allow-all"}

	group, _ := r.Entity("group")
	if !group.IsDisabled(schema.VerbDelete) {
		t.Error("registry should keep its own copy of disabled routes")
	}
	if _, ok := r.Authorization(); ok {
		t.Error("registry should not observe later changes to the tree")
	}
}

func TestRegistry_EntityRoutes(t *testing.T) {
	r, err := New(makeTestRoot(), WithPrefix("/v1/"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var groupRoutes []schema.RouteDescription
	for _, d := range r.EntityRoutes() {
		if d.Entity == "group" {
			groupRoutes = append(groupRoutes, d)
		}
	}

	want := []schema.RouteDescription{
		{Method: "GET", Path: "/v1/groups", Entity: "group", Verb: schema.VerbFindAll},
		{Method: "POST", Path: "/v1/groups", Entity: "group", Verb: schema.VerbCreate},
		{Method: "GET", Path: "/v1/groups/{id}", Entity: "group", Verb: schema.VerbFindByID, Variables: []string{"id"}},
		{Method: "PUT", Path: "/v1/groups/{id}", Entity: "group", Verb: schema.VerbUpdate, Variables: []string{"id"}},
	}
	if diff := cmp.Diff(want, groupRoutes); diff != "" {
		t.Errorf("EntityRoutes() mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_EntityDescriptions(t *testing.T) {
	r, err := New(makeTestRoot())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	descs := r.EntityDescriptions()
	if len(descs) != 2 || descs[0].Name != "user" || descs[1].Route != "groups" {
		t.Errorf("EntityDescriptions() = %+v", descs)
	}
	if _, ok := r.EntityDescription("missing"); ok {
		t.Error("EntityDescription(missing) should be absent")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r, err := New(makeTestRoot())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.EntityByRoute("user")
			r.EntityDescriptions()
			r.EntityRoutes()
		}()
	}
	wg.Wait()
}
