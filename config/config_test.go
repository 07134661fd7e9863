package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default config invalid: %v", err)
	}
}

func TestLoadNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Workers != Default().Workers {
		t.Errorf("Expected default workers, got %d", cfg.Workers)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
workers: 8
log:
  level: debug
registry:
  backend: redis
  redis_addr: 10.0.0.1:6379
notify:
  base_url: http://localhost:8080
  attempts: 5
server:
  dispatch_interval: 250ms
  grpc_addr: ""
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Workers != 8 {
		t.Errorf("Expected 8 workers, got %d", cfg.Workers)
	}
	if cfg.Registry.Backend != "redis" || cfg.Registry.RedisAddr != "10.0.0.1:6379" {
		t.Errorf("Unexpected registry config: %+v", cfg.Registry)
	}
	if cfg.Notify.BaseURL != "http://localhost:8080" || cfg.Notify.Attempts != 5 {
		t.Errorf("Unexpected notify config: %+v", cfg.Notify)
	}
	// Unset keys keep their defaults.
	if cfg.Notify.Endpoint != "task/completed" {
		t.Errorf("Expected default endpoint, got %q", cfg.Notify.Endpoint)
	}
	if cfg.Server.DispatchInterval != 250*time.Millisecond {
		t.Errorf("Expected 250ms interval, got %v", cfg.Server.DispatchInterval)
	}
	if cfg.Server.GRPCAddr != "" {
		t.Errorf("Expected gRPC disabled, got %q", cfg.Server.GRPCAddr)
	}
}

func TestLoadUnknownKey(t *testing.T) {
	path := writeConfig(t, "wokers: 3\n")
	if _, err := Load(path); err == nil {
		t.Error("Expected error for unknown key")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BLE_WORKERS", "2")
	t.Setenv("BLE_REGISTRY_BACKEND", "redis")
	t.Setenv("BLE_DISPATCH_INTERVAL", "5s")
	t.Setenv("BLE_AUTH_ENABLED", "true")
	t.Setenv("BLE_AUTH_TOKEN", "secret")
	t.Setenv("BLE_SANDBOX_MEMORY_PAGES", "4")
	t.Setenv("BLE_SANDBOX_MEMORY_EXPORT", "scratch")

	cfg, err := Load(writeConfig(t, "workers: 16\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Workers != 2 {
		t.Errorf("Environment must override file, got %d workers", cfg.Workers)
	}
	if cfg.Registry.Backend != "redis" || cfg.Server.DispatchInterval != 5*time.Second {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if !cfg.Auth.Enabled || cfg.Auth.Token != "secret" {
		t.Errorf("Unexpected auth config: %+v", cfg.Auth)
	}
	if cfg.Sandbox.MemoryLimitPages != 4 {
		t.Errorf("Expected 4 pages, got %d", cfg.Sandbox.MemoryLimitPages)
	}
	if cfg.Sandbox.MemoryExport != "scratch" {
		t.Errorf("Expected memory export 'scratch', got %q", cfg.Sandbox.MemoryExport)
	}
}

func TestEnvBadValue(t *testing.T) {
	env := map[string]string{"BLE_WORKERS": "many", "BLE_NOTIFY_TIMEOUT": "soon"}
	cfg := Default()

	err := cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err == nil {
		t.Fatal("Expected error for malformed values")
	}
	if cfg.Workers != Default().Workers {
		t.Errorf("Malformed value must not change workers, got %d", cfg.Workers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"ZeroWorkers", func(c *Config) { c.Workers = 0 }},
		{"UnknownBackend", func(c *Config) { c.Registry.Backend = "etcd" }},
		{"ZeroAttempts", func(c *Config) { c.Notify.Attempts = 0 }},
		{"ZeroInterval", func(c *Config) { c.Server.DispatchInterval = 0 }},
		{"BadLevel", func(c *Config) { c.Log.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Development: true})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected debug level enabled")
	}

	if _, err := NewLogger(LogConfig{Level: "nope"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid, got %v", err)
	}
}
