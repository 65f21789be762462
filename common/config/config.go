// Package config provides centralized configuration management for the TelHawk router.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Catalog backends.
const (
	CatalogPostgres = "postgres"
	CatalogFile     = "file"
)

// Notifier kinds.
const (
	NotifierNATS  = "nats"
	NotifierRedis = "redis"
	NotifierNone  = "none"
)

// DLQ backends.
const (
	DLQJetStream = "jetstream"
	DLQFile      = "file"
)

// Config is the master configuration struct for the router and its shared infrastructure.
type Config struct {
	Router RouterConfig `mapstructure:"router"`

	// Shared infrastructure configurations
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// RouterConfig holds the decode and routing pipeline configuration
type RouterConfig struct {
	Workers   int            `mapstructure:"workers"`
	QueueSize int            `mapstructure:"queue_size"`
	Catalog   CatalogConfig  `mapstructure:"catalog"`
	Notifier  NotifierConfig `mapstructure:"notifier"`
	Input     InputConfig    `mapstructure:"input"`
	Output    OutputConfig   `mapstructure:"output"`
	DLQ       DLQConfig      `mapstructure:"dlq"`
}

// CatalogConfig selects where stream definitions are loaded from
type CatalogConfig struct {
	Backend string `mapstructure:"backend"` // "postgres" (default) or "file"
	File    string `mapstructure:"file"`    // Only used for file backend
}

// NotifierConfig selects how catalog changes are announced
type NotifierConfig struct {
	Kind         string        `mapstructure:"kind"` // "nats" (default), "redis" or "none"
	PollInterval time.Duration `mapstructure:"poll_interval"`
	VersionKey   string        `mapstructure:"version_key"`
}

// InputConfig holds the durable raw envelope consumer settings
type InputConfig struct {
	Stream        string        `mapstructure:"stream"`
	Consumer      string        `mapstructure:"consumer"`
	AckWait       time.Duration `mapstructure:"ack_wait"`
	MaxDeliver    int           `mapstructure:"max_deliver"`
	MaxAckPending int           `mapstructure:"max_ack_pending"`
}

// OutputConfig holds routed message publishing settings
type OutputConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DLQConfig holds dead letter queue configuration
type DLQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Backend  string `mapstructure:"backend"`   // "jetstream" (default) or "file"
	BasePath string `mapstructure:"base_path"` // Only used for file backend
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type     string         `mapstructure:"type"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString builds a postgres:// URL usable by pgx and golang-migrate.
func (p PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     "/" + p.Database,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	return u.String()
}

// NATSConfig holds NATS message broker configuration
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Enabled       bool          `mapstructure:"enabled"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	Enabled    bool   `mapstructure:"enabled"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Dir returns the configuration directory: $TELHAWK_CONFIG_DIR or /etc/telhawk.
func Dir() string {
	if dir := os.Getenv("TELHAWK_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "/etc/telhawk"
}

// Load reads configuration from $TELHAWK_CONFIG_DIR/config.yaml and environment variables.
func Load() (*Config, error) {
	return LoadFile(filepath.Join(Dir(), "config.yaml"))
}

// LoadFile reads configuration from configPath and environment variables.
// A missing file is not an error; defaults and environment still apply.
func LoadFile(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Environment variables override with NO prefix (empty string)
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks enumerated settings and sizes.
func (c *Config) Validate() error {
	switch c.Router.Catalog.Backend {
	case CatalogPostgres:
	case CatalogFile:
		if c.Router.Catalog.File == "" {
			return errors.New("router.catalog.file is required for the file catalog backend")
		}
	default:
		return fmt.Errorf("unknown router.catalog.backend %q", c.Router.Catalog.Backend)
	}

	switch c.Router.Notifier.Kind {
	case NotifierNATS, NotifierRedis, NotifierNone:
	default:
		return fmt.Errorf("unknown router.notifier.kind %q", c.Router.Notifier.Kind)
	}

	switch c.Router.DLQ.Backend {
	case DLQJetStream, DLQFile:
	default:
		return fmt.Errorf("unknown router.dlq.backend %q", c.Router.DLQ.Backend)
	}

	if c.Router.Workers < 1 {
		return fmt.Errorf("router.workers must be positive, got %d", c.Router.Workers)
	}
	if c.Router.QueueSize < 1 {
		return fmt.Errorf("router.queue_size must be positive, got %d", c.Router.QueueSize)
	}
	return nil
}

// setDefaults sets all default configuration values
func setDefaults(v *viper.Viper) {
	// Router defaults
	v.SetDefault("router.workers", 8)
	v.SetDefault("router.queue_size", 1024)
	v.SetDefault("router.catalog.backend", CatalogPostgres)
	v.SetDefault("router.catalog.file", "")
	v.SetDefault("router.notifier.kind", NotifierNATS)
	v.SetDefault("router.notifier.poll_interval", "5s")
	v.SetDefault("router.notifier.version_key", "telhawk:router:streams:version")
	v.SetDefault("router.input.stream", "RAW_ENVELOPES")
	v.SetDefault("router.input.consumer", "router")
	v.SetDefault("router.input.ack_wait", "30s")
	v.SetDefault("router.input.max_deliver", 3)
	v.SetDefault("router.input.max_ack_pending", 1000)
	v.SetDefault("router.output.enabled", true)
	v.SetDefault("router.dlq.enabled", true)
	v.SetDefault("router.dlq.backend", DLQJetStream)
	v.SetDefault("router.dlq.base_path", "/var/lib/telhawk/router-dlq")

	// Server defaults
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	// Database defaults
	v.SetDefault("database.type", "postgres")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "telhawk")
	v.SetDefault("database.postgres.user", "telhawk")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.sslmode", "disable")

	// NATS defaults
	v.SetDefault("nats.url", "nats://nats:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	// Redis defaults
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
