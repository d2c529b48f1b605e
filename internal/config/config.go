package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Log backends
const (
	LogBackendMemory   = "memory"
	LogBackendFile     = "file"
	LogBackendBadger   = "badger"
	LogBackendPostgres = "postgres"
)

// Idempotency backends
const (
	IdempotencyNone   = "none"
	IdempotencyMemory = "memory"
	IdempotencyRedis  = "redis"
)

// Config represents the complete configuration of the index service
type Config struct {
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Index       IndexConfig       `yaml:"index" mapstructure:"index"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Data        DataConfig        `yaml:"data" mapstructure:"data"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Idempotency IdempotencyConfig `yaml:"idempotency" mapstructure:"idempotency"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" mapstructure:"rate_limit"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig holds HTTP and health server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	HealthPort      int           `yaml:"health_port" mapstructure:"health_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// IndexConfig holds indexing defaults applied when a save leaves them unset
type IndexConfig struct {
	DefaultCubeSize int64  `yaml:"default_cube_size" mapstructure:"default_cube_size"`
	Partitions      int    `yaml:"partitions" mapstructure:"partitions"`
	AutoExpand      bool   `yaml:"auto_expand" mapstructure:"auto_expand"`
	CommitRetries   int    `yaml:"commit_retries" mapstructure:"commit_retries"`
	TableSeed       uint64 `yaml:"table_seed" mapstructure:"table_seed"`
	WriteWorkers    int    `yaml:"write_workers" mapstructure:"write_workers"`
}

// LogConfig selects and configures the transaction log backend
type LogConfig struct {
	Backend     string `yaml:"backend" mapstructure:"backend"`
	Dir         string `yaml:"dir" mapstructure:"dir"`
	SyncWrites  bool   `yaml:"sync_writes" mapstructure:"sync_writes"`
	PostgresDSN string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// DataConfig holds data file configuration
type DataConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// CacheConfig holds snapshot cache configuration
type CacheConfig struct {
	SnapshotEntries int `yaml:"snapshot_entries" mapstructure:"snapshot_entries"`
}

// IdempotencyConfig holds batch deduplication configuration
type IdempotencyConfig struct {
	Backend       string        `yaml:"backend" mapstructure:"backend"`
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"`
	MaxEntries    int           `yaml:"max_entries" mapstructure:"max_entries"`
	RedisAddr     string        `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int           `yaml:"redis_db" mapstructure:"redis_db"`
}

// RateLimitConfig holds HTTP rate limiter configuration
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultConfig returns a configuration with every default applied
func DefaultConfig() *Config {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	setDefaults(cfg)
	return cfg
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Config{Metrics: MetricsConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.HealthPort == 0 {
		cfg.Server.HealthPort = 50061
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 256 << 20 // 256MB
	}

	if cfg.Index.DefaultCubeSize == 0 {
		cfg.Index.DefaultCubeSize = 5_000_000
	}
	if cfg.Index.Partitions == 0 {
		cfg.Index.Partitions = 8
	}
	if cfg.Index.CommitRetries == 0 {
		cfg.Index.CommitRetries = 3
	}
	if cfg.Index.WriteWorkers == 0 {
		cfg.Index.WriteWorkers = 8
	}

	if cfg.Log.Backend == "" {
		cfg.Log.Backend = LogBackendFile
	}
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = "/var/lib/otree/data"
	}
	if cfg.Log.Dir == "" {
		cfg.Log.Dir = filepath.Join(filepath.Dir(cfg.Data.Dir), "log")
	}

	if cfg.Cache.SnapshotEntries == 0 {
		cfg.Cache.SnapshotEntries = 256
	}

	if cfg.Idempotency.Backend == "" {
		cfg.Idempotency.Backend = IdempotencyMemory
	}
	if cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = 24 * time.Hour
	}
	if cfg.Idempotency.MaxEntries == 0 {
		cfg.Idempotency.MaxEntries = 100_000
	}

	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 50
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 100
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.HealthPort < 1 || c.Server.HealthPort > 65535 {
		return fmt.Errorf("server.health_port must be between 1 and 65535")
	}
	if c.Server.HealthPort == c.Server.Port {
		return fmt.Errorf("server.health_port must differ from server.port")
	}
	if c.Index.DefaultCubeSize <= 0 {
		return fmt.Errorf("index.default_cube_size must be positive")
	}
	if c.Index.Partitions < 1 {
		return fmt.Errorf("index.partitions must be at least 1")
	}
	if c.Index.CommitRetries < 0 {
		return fmt.Errorf("index.commit_retries cannot be negative")
	}

	switch c.Log.Backend {
	case LogBackendMemory, LogBackendFile, LogBackendBadger:
	case LogBackendPostgres:
		if c.Log.PostgresDSN == "" {
			return fmt.Errorf("log.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("log.backend must be one of memory, file, badger, postgres; got %q", c.Log.Backend)
	}

	switch c.Idempotency.Backend {
	case IdempotencyNone, IdempotencyMemory:
	case IdempotencyRedis:
		if c.Idempotency.RedisAddr == "" {
			return fmt.Errorf("idempotency.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("idempotency.backend must be one of none, memory, redis; got %q", c.Idempotency.Backend)
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}
	return nil
}
