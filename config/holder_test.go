package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/entitygate/config"
)

func newConfigHolder(t *testing.T, path string) *config.Holder[config.Config] {
	t.Helper()
	h, err := config.NewHolder(path, func() (*config.Config, error) { return config.Load(path) }, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	t.Cleanup(h.Stop)
	return h
}

func TestHolder_Get(t *testing.T) {
	h := newConfigHolder(t, writeConfig(t, validConfig()))

	got := h.Get()
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Configuration.Path != "entities.yaml" {
		t.Errorf("Configuration.Path = %s, want entities.yaml", got.Configuration.Path)
	}
}

func TestHolder_InitialBuildFails(t *testing.T) {
	_, err := config.NewHolder("x.yaml", func() (*config.Config, error) { return nil, errors.New("boom") }, zerolog.Nop())
	if err == nil {
		t.Error("NewHolder should fail when the initial build fails")
	}
}

func TestHolder_ReloadAndOnChange(t *testing.T) {
	path := writeConfig(t, validConfig())
	h := newConfigHolder(t, path)
	before := h.Get()

	var mu sync.Mutex
	var received *config.Config
	h.OnChange(func(cfg *config.Config) {
		mu.Lock()
		received = cfg
		mu.Unlock()
	})

	if err := os.WriteFile(path, []byte("configuration: {path: other.yaml}"), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	if got := h.Get().Configuration.Path; got != "other.yaml" {
		t.Errorf("reloaded Configuration.Path = %s, want other.yaml", got)
	}
	if before.Configuration.Path != "entities.yaml" {
		t.Error("reload must not mutate the previous value")
	}
	mu.Lock()
	if received != h.Get() {
		t.Error("OnChange should receive the new value")
	}
	mu.Unlock()
}

func TestHolder_ReloadInvalidConfig(t *testing.T) {
	path := writeConfig(t, validConfig())
	h := newConfigHolder(t, path)

	// Missing required configuration.path
	if err := os.WriteFile(path, []byte("server: {port: 8080}"), 0644); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}

	if err := h.Reload(); err == nil {
		t.Error("Reload should fail for invalid config")
	}
	if got := h.Get().Configuration.Path; got != "entities.yaml" {
		t.Errorf("should keep old config, got Configuration.Path = %s", got)
	}
}

func TestHolder_WatchFile(t *testing.T) {
	path := writeConfig(t, validConfig())
	h := newConfigHolder(t, path)

	changed := make(chan struct{}, 10)
	h.OnChange(func(*config.Config) { changed <- struct{}{} })

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}

	if err := os.WriteFile(path, []byte("configuration: {path: watched.yaml}"), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("file watcher did not trigger reload")
	}
}

func TestHolder_WatchDirectory(t *testing.T) {
	dir := t.TempDir()
	builds := 0
	var mu sync.Mutex
	h, err := config.NewHolder(dir, func() (*int, error) {
		mu.Lock()
		defer mu.Unlock()
		builds++
		n := builds
		return &n, nil
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	changed := make(chan int, 10)
	h.OnChange(func(n *int) { changed <- *n })

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}

	// Non-YAML files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "users.yaml"), []byte("entities: []"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	select {
	case n := <-changed:
		if n < 2 {
			t.Errorf("build count = %d, want a rebuild", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("directory watcher did not trigger reload")
	}
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	h := newConfigHolder(t, writeConfig(t, validConfig()))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if h.Get() == nil {
					t.Error("concurrent Get returned nil")
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Reload()
		}()
	}

	wg.Wait()
}

func TestHolder_StopIsIdempotent(t *testing.T) {
	h := newConfigHolder(t, writeConfig(t, validConfig()))
	h.WatchSignals()
	h.Stop()
	h.Stop()
}

func validConfig() string {
	return `
configuration:
  path: "entities.yaml"
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
