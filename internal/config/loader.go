package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/viper"
)

// Load reads configuration from an optional file, then applies OTREE_*
// environment overrides. A missing file falls back to defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); configPath != "" && err == nil {
		v := viper.New()
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyEnvironmentOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(cfg *Config) {
	// Server configuration
	if host := os.Getenv("OTREE_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("OTREE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	// Index configuration
	if size := os.Getenv("OTREE_INDEX_DEFAULT_CUBE_SIZE"); size != "" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil {
			cfg.Index.DefaultCubeSize = n
		}
	}
	if seed := os.Getenv("OTREE_INDEX_TABLE_SEED"); seed != "" {
		if n, err := strconv.ParseUint(seed, 10, 64); err == nil {
			cfg.Index.TableSeed = n
		}
	}

	// Log configuration
	if backend := os.Getenv("OTREE_LOG_BACKEND"); backend != "" {
		cfg.Log.Backend = backend
	}
	if dir := os.Getenv("OTREE_LOG_DIR"); dir != "" {
		cfg.Log.Dir = dir
	}
	if dsn := os.Getenv("OTREE_LOG_POSTGRES_DSN"); dsn != "" {
		cfg.Log.PostgresDSN = dsn
	}
	if dir := os.Getenv("OTREE_DATA_DIR"); dir != "" {
		cfg.Data.Dir = dir
	}

	// Redis configuration
	if addr := os.Getenv("OTREE_REDIS_ADDR"); addr != "" {
		cfg.Idempotency.RedisAddr = addr
	}
	if password := os.Getenv("OTREE_REDIS_PASSWORD"); password != "" {
		cfg.Idempotency.RedisPassword = password
	}

	// Logging configuration
	if level := os.Getenv("OTREE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
