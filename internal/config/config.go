// Package config loads the engine's YAML configuration file (spec.md
// §6.3), applying defaults for anything left unset and allowing
// WFENGINE_-prefixed environment variables to override individual keys —
// the Load/LoadFromEnv split the teacher's internal/config package uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
)

// Duration wraps time.Duration so the YAML file can spell it the same way
// the teacher's config does ("30s", "10m"), rather than as a raw integer
// of nanoseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// ServerConfig holds the HTTP control plane's listen settings.
type ServerConfig struct {
	Port       string `yaml:"port"`
	MetricsPort string `yaml:"metrics_port"`
}

// PostgresConfig holds the state store's connection settings.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig holds the snapshot cache / distributed lock / task queue's
// shared connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WorkerConfig holds every key spec.md §6.3 names.
type WorkerConfig struct {
	ResultRetentionDays    int      `yaml:"result_retention_days"`
	TaskSoftTimeLimit      Duration `yaml:"task_soft_time_limit"`
	TaskHardTimeLimit      Duration `yaml:"task_hard_time_limit"`
	RetryBackoffMax        Duration `yaml:"retry_backoff_max"`
	WorkerPrefetch         int      `yaml:"worker_prefetch"`
	WorkerMaxTasksPerChild int      `yaml:"worker_max_tasks_per_child"`
	KBSyncLockLease        Duration `yaml:"kb_sync_lock_lease"`
	Concurrency            int      `yaml:"concurrency"`
}

// LoggingConfig holds pkg/observability's logger construction settings.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config is the engine's complete configuration tree.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Worker   WorkerConfig   `yaml:"worker"`
	Logging  LoggingConfig  `yaml:"logging"`
}

func applyDefaults(c *Config) {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.MetricsPort == "" {
		c.Server.MetricsPort = "9090"
	}
	if c.Worker.ResultRetentionDays == 0 {
		c.Worker.ResultRetentionDays = 7
	}
	if c.Worker.TaskSoftTimeLimit.Duration == 0 {
		c.Worker.TaskSoftTimeLimit = Duration{9*time.Minute + 30*time.Second}
	}
	if c.Worker.TaskHardTimeLimit.Duration == 0 {
		c.Worker.TaskHardTimeLimit = Duration{10 * time.Minute}
	}
	if c.Worker.RetryBackoffMax.Duration == 0 {
		c.Worker.RetryBackoffMax = Duration{60 * time.Second}
	}
	if c.Worker.WorkerPrefetch == 0 {
		c.Worker.WorkerPrefetch = 4
	}
	if c.Worker.WorkerMaxTasksPerChild == 0 {
		c.Worker.WorkerMaxTasksPerChild = 1000
	}
	if c.Worker.KBSyncLockLease.Duration == 0 {
		c.Worker.KBSyncLockLease = Duration{600 * time.Second}
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 4
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func validate(c *Config) error {
	if c.Postgres.DSN == "" {
		return apperrors.NewValidationError("postgres.dsn is required")
	}
	if c.Redis.Addr == "" {
		return apperrors.NewValidationError("redis.addr is required")
	}
	return nil
}

// Load reads path, parses it as YAML, applies defaults, and validates the
// result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envOverrides lists the WFENGINE_ environment variables LoadFromEnv
// recognizes, alongside the setter that applies a non-empty value.
var envOverrides = map[string]func(c *Config, v string) error{
	"WFENGINE_SERVER_PORT":  func(c *Config, v string) error { c.Server.Port = v; return nil },
	"WFENGINE_POSTGRES_DSN": func(c *Config, v string) error { c.Postgres.DSN = v; return nil },
	"WFENGINE_REDIS_ADDR":   func(c *Config, v string) error { c.Redis.Addr = v; return nil },
	"WFENGINE_REDIS_PASSWORD": func(c *Config, v string) error { c.Redis.Password = v; return nil },
	"WFENGINE_LOGGING_LEVEL": func(c *Config, v string) error { c.Logging.Level = v; return nil },
	"WFENGINE_WORKER_CONCURRENCY": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WFENGINE_WORKER_CONCURRENCY: %w", err)
		}
		c.Worker.Concurrency = n
		return nil
	},
	"WFENGINE_WORKER_PREFETCH": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WFENGINE_WORKER_PREFETCH: %w", err)
		}
		c.Worker.WorkerPrefetch = n
		return nil
	},
}

// LoadFromEnv applies any recognized WFENGINE_-prefixed environment
// variable on top of an already-loaded Config, then re-validates.
func LoadFromEnv(c *Config) error {
	for key, setter := range envOverrides {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		if err := setter(c, v); err != nil {
			return err
		}
	}
	return validate(c)
}
