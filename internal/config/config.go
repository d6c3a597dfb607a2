// Package config provides unified configuration loading for the OCR engine.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the OCR engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Blob          BlobConfig          `yaml:"blob"`
	Broker        BrokerConfig        `yaml:"broker"`
	Inference     InferenceConfig     `yaml:"inference"`
	Split         SplitConfig         `yaml:"split"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// BlobConfig holds object store settings.
type BlobConfig struct {
	Driver         string `yaml:"driver"` // memory or gcs
	DocumentBucket string `yaml:"document_bucket"`
	ResultBucket   string `yaml:"result_bucket"`
}

// BrokerConfig holds task queue settings.
type BrokerConfig struct {
	Driver  string      `yaml:"driver"` // memory or redis
	Queue   string      `yaml:"queue"`
	Workers int         `yaml:"workers"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// InferenceConfig holds OCR inference service settings.
type InferenceConfig struct {
	URL                string        `yaml:"url"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxConcurrentPages int           `yaml:"max_concurrent_pages"`
}

// SplitConfig holds document splitter settings.
type SplitConfig struct {
	MaxPages    int `yaml:"max_pages"`
	JPEGQuality int `yaml:"jpeg_quality"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			MaxUploadBytes:   64 << 20,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/ocr-engine.db",
				MaxOpenConns: 1,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Blob: BlobConfig{
			Driver:         "memory",
			DocumentBucket: "ocr-documents",
			ResultBucket:   "ocr-results",
		},
		Broker: BrokerConfig{
			Driver:  "memory",
			Queue:   "ocr:tasks",
			Workers: 4,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Inference: InferenceConfig{
			URL:                "http://localhost:8000/v2/ai/infer",
			Timeout:            300 * time.Second,
			MaxConcurrentPages: 4,
		},
		Split: SplitConfig{
			MaxPages:    500,
			JPEGQuality: 85,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Blob.Driver != "memory" && c.Blob.Driver != "gcs" {
		return fmt.Errorf("invalid blob driver: %s", c.Blob.Driver)
	}

	if c.Broker.Driver != "memory" && c.Broker.Driver != "redis" {
		return fmt.Errorf("invalid broker driver: %s", c.Broker.Driver)
	}

	if c.Blob.DocumentBucket == "" || c.Blob.ResultBucket == "" {
		return fmt.Errorf("blob buckets must be configured")
	}

	if c.Inference.URL == "" {
		return fmt.Errorf("inference url must be configured")
	}

	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("inference timeout must be positive")
	}

	if c.Inference.MaxConcurrentPages < 1 {
		return fmt.Errorf("max_concurrent_pages must be at least 1")
	}

	if c.Split.JPEGQuality < 1 || c.Split.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100")
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Broker.Driver = "redis"
		cfg.Broker.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("BLOB_DRIVER"); v != "" {
		cfg.Blob.Driver = v
	}

	if v := os.Getenv("DOCUMENT_BUCKET"); v != "" {
		cfg.Blob.DocumentBucket = v
	}

	if v := os.Getenv("RESULT_BUCKET"); v != "" {
		cfg.Blob.ResultBucket = v
	}

	if v := os.Getenv("INFERENCE_URL"); v != "" {
		cfg.Inference.URL = v
	}

	if v := os.Getenv("INFERENCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Inference.Timeout = d
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
