package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("expected max_conns 15, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Worker.Concurrency != 4 {
		t.Errorf("expected worker concurrency 4, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.LeaseDuration != 5*time.Minute {
		t.Errorf("expected lease duration 5m, got %v", cfg.Worker.LeaseDuration)
	}
	if cfg.Chat.MaxIterations != 5 {
		t.Errorf("expected chat max iterations 5, got %d", cfg.Chat.MaxIterations)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
worker:
  queue: "priority-tasks"
  concurrency: 8
  lease_duration: 10m
chat:
  max_iterations: 3
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Worker.Queue != "priority-tasks" {
		t.Errorf("expected queue priority-tasks, got %s", cfg.Worker.Queue)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Errorf("expected concurrency 8, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.LeaseDuration != 10*time.Minute {
		t.Errorf("expected lease 10m, got %v", cfg.Worker.LeaseDuration)
	}
	if cfg.Chat.MaxIterations != 3 {
		t.Errorf("expected max iterations 3, got %d", cfg.Chat.MaxIterations)
	}
	// Unchanged fields keep defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("QUILL_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("QUILL_WORKER_CONCURRENCY", "16")
	t.Setenv("QUILL_WORKER_LEASE_DURATION", "15m")
	t.Setenv("QUILL_LOG_LEVEL", "warn")
	t.Setenv("QUILL_CHAT_MAX_ITERATIONS", "7")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Worker.Concurrency != 16 {
		t.Errorf("expected concurrency 16, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.LeaseDuration != 15*time.Minute {
		t.Errorf("expected lease 15m, got %v", cfg.Worker.LeaseDuration)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Chat.MaxIterations != 7 {
		t.Errorf("expected max iterations 7, got %d", cfg.Chat.MaxIterations)
	}
}

func TestEnvOverrideIgnoresInvalid(t *testing.T) {
	cfg := Defaults()

	t.Setenv("QUILL_WORKER_CONCURRENCY", "not-a-number")
	t.Setenv("QUILL_BREAKER_TIMEOUT", "soon")

	loadEnv(&cfg)

	if cfg.Worker.Concurrency != 4 {
		t.Errorf("invalid env should keep default, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("invalid env should keep default, got %v", cfg.Breaker.Timeout)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "empty NATS URL",
			modify: func(c *Config) { c.NATS.URL = "" },
			errMsg: "nats.url is required",
		},
		{
			name:   "zero concurrency",
			modify: func(c *Config) { c.Worker.Concurrency = 0 },
			errMsg: "worker.concurrency must be >= 1",
		},
		{
			name:   "zero lease",
			modify: func(c *Config) { c.Worker.LeaseDuration = 0 },
			errMsg: "worker.lease_duration must be positive",
		},
		{
			name:   "zero chat iterations",
			modify: func(c *Config) { c.Chat.MaxIterations = 0 },
			errMsg: "chat.max_iterations must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)

			err := validate(&cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestLoadFromFullHierarchy(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "quill.yaml")

	content := `
server:
  port: "9090"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	// ENV wins over YAML.
	t.Setenv("QUILL_PORT", "6060")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected env to win with 6060, got %s", cfg.Server.Port)
	}
}
