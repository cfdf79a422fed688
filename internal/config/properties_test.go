package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestProviderGet(t *testing.T) {
	p := NewProvider(map[string]string{"api.base.url": "http://localhost:8080"})

	if got := p.Get("api.base.url", "x"); got != "http://localhost:8080" {
		t.Errorf("expected configured value, got %q", got)
	}
	if got := p.Get("missing", "fallback"); got != "fallback" {
		t.Errorf("expected default, got %q", got)
	}

	var nilProvider *Provider
	if got := nilProvider.Get("any", "def"); got != "def" {
		t.Errorf("expected nil provider to return default, got %q", got)
	}
}

func TestProviderBaseURLs(t *testing.T) {
	p := NewProvider(map[string]string{KeyAPIBaseURL: "http://api"})

	api, err := p.APIBaseURL()
	if err != nil || api != "http://api" {
		t.Errorf("expected api base url, got %q, %v", api, err)
	}

	_, err = p.UIBaseURL()
	if !errors.Is(err, ErrMissingProperty) {
		t.Errorf("expected ErrMissingProperty, got %v", err)
	}
}

func TestProviderDefaults(t *testing.T) {
	p := NewProvider(nil)

	if got := p.JSONFileDirectory(); got != "testdata/json" {
		t.Errorf("expected default json dir, got %q", got)
	}
	url, user, pass := p.DB()
	if url == "" || user != "postgres" || pass != "" {
		t.Errorf("unexpected db defaults: %q %q %q", url, user, pass)
	}
}

func TestLoadProvider(t *testing.T) {
	dir := t.TempDir()
	propsFile := filepath.Join(dir, "config.properties")
	content := "api.base.url=http://from-file\nui.base.url = http://ui\n# comment\ndb.username=app\n"
	if err := os.WriteFile(propsFile, []byte(content), 0644); err != nil {
		t.Fatalf("writing properties: %v", err)
	}

	cfg := &Config{
		Dir:            dir,
		PropertiesFile: "config.properties",
		Properties:     map[string]string{"api.base.url": "http://from-yaml"},
	}

	p, err := LoadProvider(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := p.Get("api.base.url", ""); got != "http://from-yaml" {
		t.Errorf("expected yaml properties to override file, got %q", got)
	}
	if got := p.Get("ui.base.url", ""); got != "http://ui" {
		t.Errorf("expected file value, got %q", got)
	}
	if _, user, _ := p.DB(); user != "app" {
		t.Errorf("expected db.username from file, got %q", user)
	}

	keys := p.Keys()
	if len(keys) != 3 || keys[0] != "api.base.url" {
		t.Errorf("unexpected keys: %v", keys)
	}
}

func TestLoadProviderMissingFile(t *testing.T) {
	_, err := LoadProvider(&Config{Dir: t.TempDir(), PropertiesFile: "nope.properties"})
	if err == nil {
		t.Fatal("expected error for missing properties file")
	}
}
