package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix shared by every configuration environment variable.
const EnvPrefix = "ZCANIC"

// Load configuration from environment variables and optionally a config.yaml file.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if _, err := cfg.Fortune.Location(); err != nil {
		return nil, fmt.Errorf("config validation failed: fortune.time_zone: %w", err)
	}

	return &cfg, nil
}

// LoadAuth loads and validates only the auth settings, for tools that mint
// tokens without running the server.
func LoadAuth() (*AuthConfig, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := validator.New().Struct(&cfg.Auth); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg.Auth, nil
}

func newViper() (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so keys
	// without a default need explicit bindings.
	for _, key := range []string{
		"database.url",
		"auth.jwt_secret",
		"llm.gemini_api_key",
		"nats.url",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding env var for %s: %w", key, err)
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("auth.token_lifetime", time.Hour)

	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", 2*time.Second)
	v.SetDefault("llm.breaker_failures", 5)
	v.SetDefault("llm.breaker_reset_interval", 30*time.Second)

	v.SetDefault("executor.embedded", true)
	v.SetDefault("executor.worker_count", 2)
	v.SetDefault("executor.types", []string{})
	v.SetDefault("executor.poll_interval", 500*time.Millisecond)
	v.SetDefault("executor.max_poll_interval", 10*time.Second)
	v.SetDefault("executor.lease_duration", 2*time.Minute)
	v.SetDefault("executor.generation_timeout", 90*time.Second)
	v.SetDefault("executor.max_attempts", 3)
	v.SetDefault("executor.reaper_interval", 30*time.Second)
	v.SetDefault("executor.reconcile_interval", time.Minute)
	v.SetDefault("executor.reconcile_batch", 50)

	v.SetDefault("status.max_batch_size", 100)
	v.SetDefault("status.cache_capacity", 10000)
	v.SetDefault("status.max_poll_duration", 3*time.Minute)

	v.SetDefault("nats.subject", "tasks.submitted")

	v.SetDefault("fortune.time_zone", "UTC")
}
