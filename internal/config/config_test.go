package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STRATO_DATA_DIR", dir)
	t.Setenv("STRATO_SESSION_SECRET", "test-secret")
	t.Setenv("STRATO_LISTEN_PORT", "8080")
	t.Setenv("STRATO_POLLING_INTERVAL", "30s")
	t.Setenv("STRATO_DISABLE_AUTH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != dir {
		t.Fatalf("DataDir = %q, want %q", cfg.DataDir, dir)
	}
	if cfg.ListenPort != 8080 {
		t.Fatalf("ListenPort = %d", cfg.ListenPort)
	}
	if cfg.PollingInterval != 30*time.Second {
		t.Fatalf("PollingInterval = %v", cfg.PollingInterval)
	}
	if cfg.ListenHost != "0.0.0.0" {
		t.Fatalf("ListenHost default = %q", cfg.ListenHost)
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "STRATO_SESSION_SECRET=from-env-file\nSTRATO_LOG_LEVEL=debug\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv("STRATO_DATA_DIR", dir)
	// godotenv only fills variables absent from the environment, so these
	// must be fully unset rather than set empty.
	t.Setenv("STRATO_SESSION_SECRET", "")
	os.Unsetenv("STRATO_SESSION_SECRET")
	t.Setenv("STRATO_LOG_LEVEL", "")
	os.Unsetenv("STRATO_LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionSecret != "from-env-file" {
		t.Fatalf("SessionSecret = %q", cfg.SessionSecret)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadRequiresSessionSecret(t *testing.T) {
	t.Setenv("STRATO_DATA_DIR", t.TempDir())
	t.Setenv("STRATO_SESSION_SECRET", "")
	t.Setenv("STRATO_DISABLE_AUTH", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without session secret")
	}

	t.Setenv("STRATO_DISABLE_AUTH", "true")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error with auth disabled: %v", err)
	}
}

func TestInvalidEnvValuesIgnored(t *testing.T) {
	t.Setenv("STRATO_DATA_DIR", t.TempDir())
	t.Setenv("STRATO_SESSION_SECRET", "s")
	t.Setenv("STRATO_LISTEN_PORT", "not-a-number")
	t.Setenv("STRATO_POLLING_INTERVAL", "bogus")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 7670 {
		t.Fatalf("expected default port to survive bad override, got %d", cfg.ListenPort)
	}
	if cfg.PollingInterval != 10*time.Second {
		t.Fatalf("expected default interval to survive bad override, got %v", cfg.PollingInterval)
	}
}
