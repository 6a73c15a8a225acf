package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "quill.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "QUILL_PORT")
	setString(&cfg.Server.CORSOrigin, "QUILL_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "QUILL_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "QUILL_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "QUILL_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "QUILL_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "QUILL_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LLM.URL, "QUILL_LLM_URL")
	setString(&cfg.LLM.APIKey, "QUILL_LLM_API_KEY")
	setString(&cfg.LLM.Model, "QUILL_LLM_MODEL")
	setString(&cfg.LLM.EmbeddingModel, "QUILL_LLM_EMBEDDING_MODEL")
	setDuration(&cfg.LLM.Timeout, "QUILL_LLM_TIMEOUT")
	setString(&cfg.Logging.Level, "QUILL_LOG_LEVEL")
	setString(&cfg.Logging.Service, "QUILL_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "QUILL_LOG_ASYNC")
	setInt(&cfg.Logging.Buffer, "QUILL_LOG_BUFFER")
	setInt(&cfg.Breaker.MaxFailures, "QUILL_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "QUILL_BREAKER_TIMEOUT")
	setString(&cfg.Worker.Queue, "QUILL_WORKER_QUEUE")
	setInt(&cfg.Worker.Concurrency, "QUILL_WORKER_CONCURRENCY")
	setDuration(&cfg.Worker.LeaseDuration, "QUILL_WORKER_LEASE_DURATION")
	setDuration(&cfg.Worker.StalledCheckInterval, "QUILL_WORKER_STALLED_CHECK_INTERVAL")
	setInt(&cfg.Worker.MaxDeliver, "QUILL_WORKER_MAX_DELIVER")
	setDuration(&cfg.Recovery.StuckTaskAge, "QUILL_RECOVERY_STUCK_TASK_AGE")
	setDuration(&cfg.Recovery.SweepInterval, "QUILL_RECOVERY_SWEEP_INTERVAL")
	setInt(&cfg.Chat.MaxIterations, "QUILL_CHAT_MAX_ITERATIONS")
	setInt(&cfg.Chat.HistoryWindow, "QUILL_CHAT_HISTORY_WINDOW")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setInt64(&cfg.Cache.MaxSizeMB, "QUILL_CACHE_MAX_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "QUILL_CACHE_TTL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Worker.Concurrency < 1 {
		return errors.New("worker.concurrency must be >= 1")
	}
	if cfg.Worker.LeaseDuration <= 0 {
		return errors.New("worker.lease_duration must be positive")
	}
	if cfg.Chat.MaxIterations < 1 {
		return errors.New("chat.max_iterations must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
