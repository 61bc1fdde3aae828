package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from an optional config.yaml in the working directory; a missing
	// file is fine, defaults plus environment cover everything.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables with the ADVISOR_ prefix override file values,
	// e.g. ADVISOR_SERVER_PORT, ADVISOR_WORKER_COMMAND.
	v.SetEnvPrefix("ADVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if cfg.Cache.Backend == "postgres" && cfg.Database.URL == "" {
		return nil, errors.New("database.url is required when cache.backend is postgres")
	}
	if cfg.Cache.Backend == "badger" && cfg.Cache.BadgerPath == "" {
		return nil, errors.New("cache.badger_path is required when cache.backend is badger")
	}

	return &cfg, nil
}

// setDefaults registers the built-in defaults before file and environment
// sources are applied.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("worker.command", "python3")
	v.SetDefault("worker.args", []string{"python_rag/orchestrator_wrapper.py", "--interactive"})
	v.SetDefault("worker.startup_timeout_seconds", 60)
	v.SetDefault("worker.request_timeout_seconds", 30)
	v.SetDefault("worker.max_attempts", 2)
	v.SetDefault("worker.retry_base_delay_ms", 1000)
	v.SetDefault("worker.restart_delay_ms", 500)
	v.SetDefault("worker.max_query_length", 2000)

	v.SetDefault("queue.worker_count", 3)
	v.SetDefault("queue.queue_size", 100)
	v.SetDefault("queue.job_retention_minutes", 5)
	v.SetDefault("queue.default_await_timeout_ms", 35000)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl_minutes", 60)
	v.SetDefault("cache.fallback_capacity", 100)
}
