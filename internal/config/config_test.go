package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	if cfg.Listen != defaultListen {
		t.Errorf("Expected listen %q, got %q", defaultListen, cfg.Listen)
	}
	if cfg.Map.Zoom != 12 || cfg.Map.SingleMarkerZoom != 15 {
		t.Errorf("Unexpected map zoom defaults: %+v", cfg.Map)
	}
	if cfg.Google.CalendarID != "primary" || cfg.Google.MaxResults != 50 {
		t.Errorf("Unexpected google defaults: %+v", cfg.Google)
	}
	if cfg.Chat.Model != defaultChatModel {
		t.Errorf("Expected chat model %q, got %q", defaultChatModel, cfg.Chat.Model)
	}
	if !cfg.Geocoder.Enabled {
		t.Error("Expected geocoder to be enabled by default")
	}
	if cfg.ICS == nil || cfg.CalDAV == nil {
		t.Error("Expected non-nil source slices")
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Timezone != defaultTimezone {
		t.Errorf("Expected timezone %q, got %q", defaultTimezone, cfg.Timezone)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Default config was not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("Expected 0600 permissions, got %o", perm)
	}
}

func TestLoadYAMLPartial(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
listen: "0.0.0.0:9000"
frontend_origin: "https://meal.example.com/"
map:
  zoom: 10
ics:
  - id: team
    url: https://example.com/team.ics
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.FrontendOrigin != "https://meal.example.com" {
		t.Errorf("frontend_origin should lose trailing slash, got %q", cfg.FrontendOrigin)
	}
	if cfg.Map.Zoom != 10 || cfg.Map.SingleMarkerZoom != 15 {
		t.Errorf("unexpected map config: %+v", cfg.Map)
	}
	if len(cfg.ICS) != 1 || cfg.ICS[0].ID != "team" {
		t.Errorf("unexpected ics: %+v", cfg.ICS)
	}
	if !cfg.Geocoder.Enabled {
		t.Error("geocoder should stay enabled when the section is omitted")
	}
}

func TestLoadTOML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
listen = "127.0.0.1:8100"
timezone = "Europe/Berlin"

[map]
center_lat = 52.52
center_lng = 13.405

[[caldav]]
id = "home"
endpoint = "https://dav.example.com"
calendar = "/calendars/me/home/"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Timezone != "Europe/Berlin" || cfg.Map.CenterLat != 52.52 {
		t.Errorf("unexpected config: timezone=%q map=%+v", cfg.Timezone, cfg.Map)
	}
	if len(cfg.CalDAV) != 1 || cfg.CalDAV[0].Calendar != "/calendars/me/home/" {
		t.Errorf("unexpected caldav: %+v", cfg.CalDAV)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "secret"}
	cfg.ICS = append(cfg.ICS, ICSConfig{ID: "a", URL: "https://example.com/a.ics"})
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.BasicAuth == nil || loaded.BasicAuth.Username != "admin" {
		t.Errorf("basic auth lost: %+v", loaded.BasicAuth)
	}
	if len(loaded.ICS) != 1 || loaded.ICS[0].URL != "https://example.com/a.ics" {
		t.Errorf("ics lost: %+v", loaded.ICS)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"GOOGLE_CLIENT_ID":     "client",
		"GOOGLE_CLIENT_SECRET": "secret",
		"GEMINI_API_KEY":       " key ",
		"SECRET_KEY":           "signing",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if !cfg.GoogleEnabled() {
		t.Error("Expected google to be enabled after env overrides")
	}
	if cfg.Chat.APIKey != "key" {
		t.Errorf("Expected trimmed api key, got %q", cfg.Chat.APIKey)
	}
	if cfg.SessionSecret != "signing" {
		t.Errorf("session secret = %q", cfg.SessionSecret)
	}
	if cfg.Map.APIKey != "" {
		t.Errorf("unset variable should not override, got %q", cfg.Map.APIKey)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.ICS = []ICSConfig{{ID: "x"}}
	cfg.Google.ClientID = "only-id"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	for _, want := range []string{"ics[0]", "client_secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestLocation(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	if cfg.Location() != time.UTC {
		t.Errorf("Location() = %v", cfg.Location())
	}
	cfg.Timezone = "Not/AZone"
	if cfg.Location() != time.Local {
		t.Errorf("unknown zone should fall back to Local, got %v", cfg.Location())
	}
}
