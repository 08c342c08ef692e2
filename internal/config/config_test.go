package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"baseUrl": "https://linkding.example/",
		"token": "secret",
		"bookmarksFile": "/var/lib/sync/bookmarks.json"
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.BaseURL != "https://linkding.example" {
		t.Fatalf("expected the trailing slash to be trimmed, got %q", cfg.BaseURL)
	}
	if cfg.SyncTag != DefaultSyncTag {
		t.Fatalf("unexpected sync tag %q", cfg.SyncTag)
	}
	if cfg.MappingDSN != "/var/lib/sync/bookmarks.json.mapping.json" {
		t.Fatalf("unexpected mapping DSN %q", cfg.MappingDSN)
	}
	if time.Duration(cfg.Interval) != DefaultInterval {
		t.Fatalf("unexpected interval %v", cfg.Interval)
	}
	if time.Duration(cfg.Debounce) != DefaultDebounce {
		t.Fatalf("unexpected debounce %v", cfg.Debounce)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `{
		"baseUrl": "https://linkding.example",
		"token": "secret",
		"bookmarksFile": "bookmarks.json",
		"interval": "1m30s",
		"debounce": "5s",
		"writeDelay": "100ms"
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if time.Duration(cfg.Interval) != 90*time.Second {
		t.Fatalf("unexpected interval %v", cfg.Interval)
	}
	if time.Duration(cfg.Debounce) != 5*time.Second {
		t.Fatalf("unexpected debounce %v", cfg.Debounce)
	}
	if time.Duration(cfg.WriteDelay) != 100*time.Millisecond {
		t.Fatalf("unexpected write delay %v", cfg.WriteDelay)
	}
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	path := writeConfig(t, `{
		"baseUrl": "https://linkding.example",
		"bookmarksFile": "bookmarks.json"
	}`)
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, `{
		"baseUrl": "https://linkding.example",
		"token": "secret",
		"bookmarksFile": "bookmarks.json",
		"bookmarkFile": "typo.json"
	}`)
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadRejectsSyncTagWithDelimiter(t *testing.T) {
	path := writeConfig(t, `{
		"baseUrl": "https://linkding.example",
		"token": "secret",
		"bookmarksFile": "bookmarks.json",
		"syncTag": "sync/nested"
	}`)
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `{
		"baseUrl": "https://linkding.example",
		"token": "secret",
		"bookmarksFile": "bookmarks.json",
		"interval": "five minutes"
	}`)
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"baseUrl": `)
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
