package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const userConfig = `
providers:
  - name: ldap1
    type: memory
    base_dn: ou=people

entities:
  - name: user
    provider: ldap1
    attributes:
      - name: email
        type: string
        validations:
          - type: not_null
            phases: [create]
`

func TestParse(t *testing.T) {
	root, err := Parse([]byte(userConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(root.Entities) != 1 {
		t.Fatalf("Entities has %d items, want 1", len(root.Entities))
	}
	user := root.Entities[0]
	if user.Route() != "user" {
		t.Errorf("Route() = %q, want user", user.Route())
	}
	email, ok := user.Attribute("email")
	if !ok || len(email.Validations) != 1 {
		t.Fatalf("email attribute = %+v", email)
	}
	if !email.Validations[0].AppliesTo(VerbCreate) || email.Validations[0].AppliesTo(VerbUpdate) {
		t.Error("not_null should apply to create only")
	}
	if got := root.Providers[0].Options.StringOr("base_dn", ""); got != "ou=people" {
		t.Errorf("base_dn = %q", got)
	}
	if root.Authorization != nil {
		t.Error("Authorization should be nil when not configured")
	}
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("ENTITYGATE_TEST_DSN", "/tmp/x.db")

	root, err := Parse([]byte("providers:\n  - name: main\n    type: sqlite\n    dsn: ${ENTITYGATE_TEST_DSN}\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := root.Providers[0].Options.StringOr("dsn", ""); got != "/tmp/x.db" {
		t.Errorf("dsn = %q, want /tmp/x.db", got)
	}
}

func TestParse_Empty(t *testing.T) {
	root, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if len(root.Entities) != 0 {
		t.Errorf("Entities = %v, want none", root.Entities)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "unknown field",
			yaml: `
entities:
  - name: user
    provider: p
    colour: blue
`,
			wantErr: "colour",
		},
		{
			name: "missing provider",
			yaml: `
entities:
  - name: user
`,
			wantErr: "provider is required",
		},
		{
			name: "duplicate entity",
			yaml: `
entities:
  - { name: user, provider: p }
  - { name: user, provider: p }
`,
			wantErr: `duplicate entity "user"`,
		},
		{
			name: "duplicate route",
			yaml: `
entities:
  - { name: user, provider: p }
  - { name: person, provider: p, route: user }
`,
			wantErr: `duplicate entity route "user"`,
		},
		{
			name: "duplicate attribute",
			yaml: `
entities:
  - name: user
    provider: p
    attributes: [{ name: a }, { name: a }]
`,
			wantErr: `duplicate attribute "a"`,
		},
		{
			name: "provider without type",
			yaml: `
providers:
  - name: p
`,
			wantErr: "type is required",
		},
		{
			name: "unknown disabled route",
			yaml: `
entities:
  - { name: user, provider: p, disabled_routes: [purge] }
`,
			wantErr: `unknown disabled route "purge"`,
		},
		{
			name: "unknown task phase",
			yaml: `
tasks:
  - { name: t, type: log, phases: [during_create] }
`,
			wantErr: `unknown phase "during_create"`,
		},
		{
			name: "unknown validation phase",
			yaml: `
entities:
  - name: user
    provider: p
    attributes:
      - name: a
        validations: [{ type: not_null, phases: [delete] }]
`,
			wantErr: `unknown phase "delete"`,
		},
		{
			name: "authorization without type",
			yaml: `
authorization:
  secret: x
`,
			wantErr: "authorization: type is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidation_CollectsAll(t *testing.T) {
	_, err := Parse([]byte(`
providers:
  - name: p
entities:
  - name: user
`))
	if err == nil {
		t.Fatal("Parse() error = nil")
	}
	if !strings.Contains(err.Error(), "type is required") || !strings.Contains(err.Error(), "provider is required") {
		t.Errorf("error should report every problem, got: %v", err)
	}
}

func TestValidation_NameOnlyReferences(t *testing.T) {
	_, err := Parse([]byte(`
tasks:
  - { name: audit, type: log, phases: [after_create] }
entities:
  - name: user
    provider: p
    tasks: [{ name: audit }]
`))
	if err != nil {
		t.Errorf("name-only references should pass structural validation: %v", err)
	}
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("providers.yaml", "providers:\n  - { name: main, type: memory }\n")
	write("entities/user.yml", "entities:\n  - { name: user, provider: main }\n")
	write("auth.yaml", "authorization:\n  type: allow-all\n")
	write("README.md", "ignored")

	root, err := ParseDir(dir)
	if err != nil {
		t.Fatalf("ParseDir() error = %v", err)
	}
	if len(root.Providers) != 1 || len(root.Entities) != 1 {
		t.Errorf("merged tree = %d providers, %d entities", len(root.Providers), len(root.Entities))
	}
	if root.Authorization == nil || root.Authorization.Type != "allow-all" {
		t.Errorf("Authorization = %+v", root.Authorization)
	}

	loaded, err := Load(dir)
	if err != nil || len(loaded.Entities) != 1 {
		t.Errorf("Load(dir) = %v, %v", loaded, err)
	}
}

func TestParseDir_DuplicateAuthorization(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("authorization:\n  type: allow-all\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := ParseDir(dir); err == nil {
		t.Error("ParseDir() should reject two authorization sections")
	}
}

func TestParseFile_Missing(t *testing.T) {
	if _, err := ParseFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("ParseFile() should fail for a missing file")
	}
}
