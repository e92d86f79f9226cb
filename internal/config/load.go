package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional config.yaml in the working
// directory and from POIZON_SYNC_* environment variables. Environment
// variables take precedence over file values, and both override defaults.
// Returns a validated Config or an error describing the first violation.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("POIZON_SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the config against its struct tags. Exposed separately so
// tests and callers that build a Config by hand get the same checks.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf(
				"invalid configuration: field %q failed %q validation",
				first.Namespace(), first.Tag(),
			)
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("broker.addr", "localhost:6379")
	v.SetDefault("broker.password", "")
	v.SetDefault("broker.db", 0)
	v.SetDefault("broker.ping_timeout", 3*time.Second)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_tasks_per_child", 50)
	v.SetDefault("worker.time_limit", 3600)
	v.SetDefault("worker.soft_time_limit", 3300)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_backoff", 500*time.Millisecond)
	v.SetDefault("retry.max_backoff", time.Minute)

	v.SetDefault("beat.lock_ttl", 30*time.Second)
	v.SetDefault("beat.entries", []map[string]any{
		{"spec": "0 3 * * *", "task": "maintenance.cleanup_expired_cache"},
		{"spec": "0 4 1 * *", "task": "catalog.update_brands_cache"},
		{"spec": "0 5 1 * *", "task": "catalog.update_categories_cache"},
	})

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime", 7*24*time.Hour)
	v.SetDefault("auth.operator_username", "admin")
	v.SetDefault("auth.operator_password_hash", "")

	// Secrets and endpoints have empty-string defaults so viper picks up
	// their env vars during Unmarshal even without a config file.
	v.SetDefault("catalog.base_url", "")
	v.SetDefault("catalog.api_key", "")
	v.SetDefault("catalog.request_timeout", 30*time.Second)
	v.SetDefault("store.base_url", "")
	v.SetDefault("store.consumer_key", "")
	v.SetDefault("store.consumer_secret", "")
	v.SetDefault("store.request_timeout", 60*time.Second)

	v.SetDefault("generation.gemini_api_key", "")
	v.SetDefault("generation.model", "gemini-2.0-flash")

	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.memory_ttl", 5*time.Minute)

	v.SetDefault("rate_limit.max_requests", 8)
	v.SetDefault("rate_limit.window", time.Second)

	v.SetDefault("images.max_width", 1200)
	v.SetDefault("images.max_height", 1200)
}
