package i18n

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestOf_CopiesContext(t *testing.T) {
	ctx := map[string]any{"route": "/api/users"}
	msg := Of("error.router.unknown.route", ctx)

	ctx["route"] = "/mutated"
	ctx["extra"] = true

	if got, _ := msg.Param("route"); got != "/api/users" {
		t.Errorf("Param(route) = %v, want /api/users", got)
	}
	if _, ok := msg.Param("extra"); ok {
		t.Error("message should not see keys added to the caller's map")
	}

	out := msg.Context()
	out["route"] = "changed"
	if got, _ := msg.Param("route"); got != "/api/users" {
		t.Errorf("Context() must return a copy, Param(route) = %v", got)
	}
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage("error.code")
	if msg.Key() != "error.code" {
		t.Errorf("Key() = %s, want error.code", msg.Key())
	}
	if len(msg.Context()) != 0 {
		t.Errorf("Context() = %v, want empty", msg.Context())
	}
	if msg.String() != "error.code" {
		t.Errorf("String() = %s, want error.code", msg.String())
	}
}

func TestMessage_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Of("error.x", map[string]any{"n": 1}))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"key":"error.x","context":{"n":1}}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

func testCatalog() *Catalog {
	return NewCatalog("en", map[string]map[string]string{
		"en": {
			"error.router.unknown.route": "Unknown route {{ route }}",
			"error.only.en":              "English only",
		},
		"fr": {
			"error.router.unknown.route": "Route inconnue {{route}}",
		},
	})
}

func TestCatalog_Translate(t *testing.T) {
	c := testCatalog()
	msg := Of("error.router.unknown.route", map[string]any{"route": "/x"})

	tests := []struct {
		name string
		lang string
		msg  Message
		want string
	}{
		{"exact language", "fr", msg, "Route inconnue /x"},
		{"accept-language header", "fr-FR,fr;q=0.9,en;q=0.5", msg, "Route inconnue /x"},
		{"unknown language falls back", "de", msg, "Unknown route /x"},
		{"empty language falls back", "", msg, "Unknown route /x"},
		{"missing key falls back to default language", "fr", NewMessage("error.only.en"), "English only"},
		{"unknown key renders key", "en", NewMessage("error.nope"), "error.nope"},
		{"missing param left untouched", "en", NewMessage("error.router.unknown.route"), "Unknown route {{ route }}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Translate(tt.lang, tt.msg); got != tt.want {
				t.Errorf("Translate(%q) = %q, want %q", tt.lang, got, tt.want)
			}
		})
	}
}

func TestCatalog_Languages(t *testing.T) {
	langs := testCatalog().Languages()
	if len(langs) != 2 || langs[0] != "en" {
		t.Errorf("Languages() = %v, want fallback first", langs)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	content := "error:\n  router:\n    unknown:\n      route: \"No route {{route}}\"\n"
	if err := os.WriteFile(filepath.Join(dir, "en.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadDir(dir, "en")
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}

	tr := c.Translations("en")
	if tr["error.router.unknown.route"] != "No route {{route}}" {
		t.Errorf("Translations(en) = %v", tr)
	}
}

func TestLoadDir_Missing(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "missing"), "en"); err == nil {
		t.Error("LoadDir() should fail for a missing directory")
	}
}
