package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/bryanchriswhite/windowobserver/internal/event"
)

func TestNewManagerCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	cfg := m.Get()
	if cfg.Backend != "auto" || cfg.ServerPort != 8080 {
		t.Errorf("defaults = %+v", cfg)
	}
	f, err := m.Filter()
	if err != nil || f != event.All() {
		t.Errorf("default filter = %s, %v", f, err)
	}
}

func TestSetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	sets := map[string]string{
		"events":      "created, closed",
		"backend":     "ATSPI",
		"server_port": "9090",
		"log_level":   "debug",
		"log_pretty":  "false",
	}
	for k, v := range sets {
		if err := m.Set(k, v); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	cfg := reloaded.Get()
	if !slices.Equal(cfg.Events, []string{"created", "closed"}) {
		t.Errorf("events = %v", cfg.Events)
	}
	if cfg.Backend != "atspi" || cfg.ServerPort != 9090 || cfg.LogLevel != "debug" || cfg.LogPretty {
		t.Errorf("reloaded = %+v", cfg)
	}
	if v, _ := reloaded.Value("events"); v != "created,closed" {
		t.Errorf("Value(events) = %q", v)
	}
}

func TestSetRejectsInvalid(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	bad := [][2]string{
		{"events", "created,exploded"},
		{"server_port", "http"},
		{"server_port", "70000"},
		{"log_pretty", "maybe"},
		{"colour", "blue"},
	}
	for _, kv := range bad {
		if err := m.Set(kv[0], kv[1]); err == nil {
			t.Errorf("Set(%s, %s) accepted", kv[0], kv[1])
		}
	}
	if _, err := m.Value("colour"); err == nil {
		t.Error("Value accepted unknown key")
	}

	if err := m.Set("events", "none"); err != nil {
		t.Fatalf("Set(events, none): %v", err)
	}
	if f, _ := m.Filter(); !f.IsEmpty() {
		t.Errorf("filter = %s, want none", f)
	}
}

func TestLoadRejectsUnknownEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("events: [created, teleported]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(path); err == nil {
		t.Fatal("expected error for unknown event kind")
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("backend: x11\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Get()
	if cfg.Backend != "x11" || cfg.ServerPort != 8080 || len(cfg.Events) != len(event.AllKinds()) {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := os.WriteFile(path, []byte("events: [focused]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if f, _ := m.Filter(); f != event.Empty().With(event.Focused) {
		t.Errorf("filter = %s", f)
	}

	// A broken edit keeps the previous config.
	if err := os.WriteFile(path, []byte("events: [nope]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if f, _ := m.Filter(); f != event.Empty().With(event.Focused) {
		t.Errorf("filter after bad reload = %s", f)
	}
}
