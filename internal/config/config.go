// Package config provides configuration management for the wishlist server
// and the device client.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Default configuration values. They mirror the env-default tags below.
const (
	DefaultServerPort      = 8080
	DefaultLogLevel        = "info"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMetricsEnabled  = true
	DefaultStoreBackend    = BackendMemory
	DefaultFeedBufferSize  = 64
	DefaultCORSOrigins     = "*"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Environment variable names.
const (
	EnvConfigPath      = "APP_CONFIG_PATH"
	EnvServerPort      = "APP_SERVER_PORT"
	EnvLogLevel        = "APP_LOG_LEVEL"
	EnvShutdownTimeout = "APP_SHUTDOWN_TIMEOUT"
	EnvMetricsEnabled  = "APP_METRICS_ENABLED"
	EnvStoreBackend    = "APP_STORE_BACKEND"
	EnvDatabaseDSN     = "APP_DATABASE_DSN"
	EnvFeedBufferSize  = "APP_FEED_BUFFER_SIZE"
	EnvCORSOrigins     = "APP_CORS_ALLOWED_ORIGINS"
)

// Config holds the server configuration.
type Config struct {
	ServerPort      int           `yaml:"server_port"      env:"APP_SERVER_PORT"      env-default:"8080"`
	LogLevel        string        `yaml:"log_level"        env:"APP_LOG_LEVEL"        env-default:"info"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"APP_SHUTDOWN_TIMEOUT" env-default:"30s"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"  env:"APP_METRICS_ENABLED"  env-default:"true"`

	// StoreBackend is "memory" or "postgres".
	StoreBackend string         `yaml:"store_backend" env:"APP_STORE_BACKEND" env-default:"memory"`
	Database     DatabaseConfig `yaml:"database"`

	// FeedBufferSize is the per-subscriber change event buffer.
	FeedBufferSize int `yaml:"feed_buffer_size" env:"APP_FEED_BUFFER_SIZE" env-default:"64"`

	CORSAllowedOrigins string `yaml:"cors_allowed_origins" env:"APP_CORS_ALLOWED_ORIGINS" env-default:"*"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"                env:"APP_DATABASE_DSN"`
	MaxConns        int32         `yaml:"max_conns"          env:"APP_DATABASE_MAX_CONNS"          env-default:"10"`
	MinConns        int32         `yaml:"min_conns"          env:"APP_DATABASE_MIN_CONNS"          env-default:"1"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"APP_DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"APP_DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
}

// Validation errors.
var (
	ErrInvalidServerPort      = errors.New("server port must be between 1 and 65535")
	ErrInvalidLogLevel        = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
	ErrInvalidStoreBackend    = errors.New("store backend must be one of: memory, postgres")
	ErrDatabaseDSNRequired    = errors.New("database DSN must be set when store backend is postgres")
	ErrInvalidDatabasePool    = errors.New("database min conns must be between 0 and max conns")
	ErrInvalidFeedBufferSize  = errors.New("feed buffer size must be positive")
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from environment variables with defaults, and
// from the YAML file named by APP_CONFIG_PATH when set.
// Environment variables have priority over the file.
func Load() (*Config, error) {
	var cfg Config

	if err := read(&cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func read(cfg any) error {
	if path := os.Getenv(EnvConfigPath); path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		return nil
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("read env: %w", err)
	}
	return nil
}

// Validate checks if the configuration values are valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	return c.validateStore()
}

func (c *Config) validateServer() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return ErrInvalidServerPort
	}

	if !validLogLevels[c.LogLevel] {
		return ErrInvalidLogLevel
	}

	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	if c.FeedBufferSize <= 0 {
		return ErrInvalidFeedBufferSize
	}

	return nil
}

func (c *Config) validateStore() error {
	switch c.StoreBackend {
	case BackendMemory:
		return nil
	case BackendPostgres:
		if c.Database.DSN == "" {
			return ErrDatabaseDSNRequired
		}
		if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
			return ErrInvalidDatabasePool
		}
		return nil
	default:
		return ErrInvalidStoreBackend
	}
}

// Address returns the server address in host:port format.
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.ServerPort)
}

// AllowedOrigins splits CORSAllowedOrigins on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
