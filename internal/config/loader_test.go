package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLoaderDefaultsOnly(t *testing.T) {
	loader := NewLoader("ACTIONKIT_TEST_A", "")
	cfg, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerName != "actionkit" {
		t.Fatalf("expected default serverName, got %q", cfg.ServerName)
	}
	if cfg.REST.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.REST.Port)
	}
	if cfg.Cache.Backend != "memory" {
		t.Fatalf("expected default cache backend memory, got %q", cfg.Cache.Backend)
	}
}

func TestLoaderEnvOverridesDefaults(t *testing.T) {
	t.Setenv("ACTIONKIT_TEST_B_REST__PORT", "9090")
	t.Setenv("ACTIONKIT_TEST_B_SERVERNAME", "my-service")

	loader := NewLoader("ACTIONKIT_TEST_B", "")
	cfg, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.REST.Port != 9090 {
		t.Fatalf("expected env override port 9090, got %d", cfg.REST.Port)
	}
	if cfg.ServerName != "my-service" {
		t.Fatalf("expected env override serverName, got %q", cfg.ServerName)
	}
}

func TestLoaderFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "serverName: file-service\nrest:\n  port: 9191\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loader := NewLoader("ACTIONKIT_TEST_C", path)
	cfg, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerName != "file-service" {
		t.Fatalf("expected file serverName, got %q", cfg.ServerName)
	}
	if cfg.REST.Port != 9191 {
		t.Fatalf("expected file port 9191, got %d", cfg.REST.Port)
	}
}

func TestLoaderMissingFile(t *testing.T) {
	loader := NewLoader("ACTIONKIT_TEST_D", "/no/such/file.yaml")
	if _, err := loader.Load(context.Background()); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
