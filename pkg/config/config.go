// Package config loads the operational settings the Investigation
// Engine's outer layer needs to boot: database, cache, LLM provider,
// vector store, and queue settings. It never carries investigation
// thresholds or budgets; those are fixed contract constants living in
// pkg/investigation and are not configurable.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"-"` // env-only, never persisted to YAML
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig configures the cache/rate-limiter/session-store adapter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
}

// LLMConfig configures the Anthropic adapter.
type LLMConfig struct {
	APIKey          string        `yaml:"-"`
	Model           string        `yaml:"model"`
	Temperature     float64       `yaml:"temperature"`
	MaxTokens       int           `yaml:"max_tokens"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffCap      time.Duration `yaml:"backoff_cap"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
}

// VectorConfig configures the chromem-go adapter.
type VectorConfig struct {
	PersistPath string `yaml:"persist_path"`
}

// QueueConfig configures the background worker pool.
type QueueConfig struct {
	WorkerCount int `yaml:"worker_count"`
	QueueDepth  int `yaml:"queue_depth"`
}

// ServerConfig configures the thin outer HTTP layer.
type ServerConfig struct {
	HTTPPort string `yaml:"http_port"`
	GinMode  string `yaml:"gin_mode"`
}

// TurnBudget configures the per-turn wall-clock limits. These are
// operational timeouts, distinct from the investigation thresholds
// that remain fixed constants.
type TurnBudget struct {
	SoftTimeout time.Duration `yaml:"soft_timeout"`
	HardTimeout time.Duration `yaml:"hard_timeout"`
}

// AppConfig is the fully-resolved, validated configuration for the
// aegis binary.
type AppConfig struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	LLM      LLMConfig      `yaml:"llm"`
	Vector   VectorConfig   `yaml:"vector"`
	Queue    QueueConfig    `yaml:"queue"`
	Server   ServerConfig   `yaml:"server"`
	Turn     TurnBudget     `yaml:"turn"`
}

// yamlOverlay is the subset of AppConfig a deploy/config/aegis.yaml file
// may override. Secrets (passwords, API keys) are always env-only.
type yamlOverlay struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	LLM      LLMConfig      `yaml:"llm"`
	Vector   VectorConfig   `yaml:"vector"`
	Queue    QueueConfig    `yaml:"queue"`
	Server   ServerConfig   `yaml:"server"`
	Turn     TurnBudget     `yaml:"turn"`
}

func defaults() AppConfig {
	return AppConfig{
		Database: DatabaseConfig{
			Host: "localhost", Port: 5432, User: "aegis", Database: "aegis", SSLMode: "disable",
			MaxOpenConns: 25, MaxIdleConns: 10, ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		LLM: LLMConfig{
			Model: "claude-sonnet-4-5-20250929", Temperature: 0.2, MaxTokens: 4096,
			CallTimeout: 30 * time.Second, MaxRetries: 3,
			BackoffBase: time.Second, BackoffCap: 10 * time.Second,
			BreakerFailures: 5,
		},
		Vector: VectorConfig{PersistPath: ""},
		Queue:  QueueConfig{WorkerCount: 4, QueueDepth: 256},
		Server: ServerConfig{HTTPPort: "8080", GinMode: "release"},
		Turn:   TurnBudget{SoftTimeout: 60 * time.Second, HardTimeout: 120 * time.Second},
	}
}

// Initialize loads .env from configDir, reads an optional aegis.yaml
// overlay from the same directory, merges it onto the built-in
// defaults, applies environment-variable overrides (which always win),
// and validates the result: a layered env -> YAML -> defaults ->
// validate entry point.
func Initialize(ctx context.Context, configDir string) (*AppConfig, error) {
	log := slog.With("config_dir", configDir)

	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Info("no .env file loaded, using existing environment", "path", envPath)
	}

	cfg := defaults()

	yamlPath := filepath.Join(configDir, "aegis.yaml")
	if data, err := os.ReadFile(yamlPath); err == nil {
		var overlay yamlOverlay
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, yamlPath, err)
		}
		merged := AppConfig(overlay)
		if err := mergo.Merge(&cfg, merged, mergo.WithOverride, func(m *mergo.Config) { m.Overwrite = true }); err != nil {
			return nil, fmt.Errorf("merging %s onto defaults: %w", yamlPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigNotFound, yamlPath, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *AppConfig) {
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Database = getEnvOrDefault("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Addr = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.LLM.Model = getEnvOrDefault("AEGIS_LLM_MODEL", cfg.LLM.Model)

	cfg.Vector.PersistPath = getEnvOrDefault("VECTOR_PERSIST_PATH", cfg.Vector.PersistPath)

	cfg.Server.HTTPPort = getEnvOrDefault("HTTP_PORT", cfg.Server.HTTPPort)
	cfg.Server.GinMode = getEnvOrDefault("GIN_MODE", cfg.Server.GinMode)
}

// Validate checks cross-field and required-value constraints.
func (c AppConfig) Validate() error {
	if c.Database.Password == "" {
		return NewValidationError("database.password", fmt.Errorf("DB_PASSWORD is required"))
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return NewValidationError("database.max_idle_conns", fmt.Errorf("cannot exceed max_open_conns (%d)", c.Database.MaxOpenConns))
	}
	if c.LLM.APIKey == "" {
		return NewValidationError("llm.api_key", fmt.Errorf("ANTHROPIC_API_KEY is required"))
	}
	if c.Queue.WorkerCount < 1 {
		return NewValidationError("queue.worker_count", fmt.Errorf("must be at least 1"))
	}
	if c.Turn.HardTimeout < c.Turn.SoftTimeout {
		return NewValidationError("turn.hard_timeout", fmt.Errorf("must be >= turn.soft_timeout"))
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
