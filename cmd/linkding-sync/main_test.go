package main

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("LINKDING_SYNC_TEST_VAR", "")
	if got := envOrDefault("LINKDING_SYNC_TEST_VAR", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("LINKDING_SYNC_TEST_VAR", "  set  ")
	if got := envOrDefault("LINKDING_SYNC_TEST_VAR", "fallback"); got != "set" {
		t.Fatalf("expected the trimmed value, got %q", got)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := defaultConfigPath()
	if path == "" {
		t.Fatalf("expected a non-empty path")
	}
	if !strings.HasSuffix(path, ".json") {
		t.Fatalf("expected a json file path, got %q", path)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	if got := newLogger(false).GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %v", got)
	}
	if got := newLogger(true).GetLevel(); got != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %v", got)
	}
}
