package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"     validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"      validate:"required"`
	Executor ExecutorConfig `mapstructure:"executor" validate:"required"`
	Status   StatusConfig   `mapstructure:"status"   validate:"required"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Fortune  FortuneConfig  `mapstructure:"fortune"  validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"               validate:"required,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// AuthConfig contains the settings needed to verify bearer tokens.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
	// TokenLifetime applies to tokens minted by cmd/devtoken. Verification
	// honors whatever expiry the issuer chose.
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gte=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey         string        `mapstructure:"gemini_api_key"          validate:"required"`
	ModelName            string        `mapstructure:"model_name"              validate:"required"`
	MaxRetries           int           `mapstructure:"max_retries"             validate:"gte=0,lte=10"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"             validate:"gte=0"`
	BreakerFailures      int           `mapstructure:"breaker_failures"        validate:"gte=1"`
	BreakerResetInterval time.Duration `mapstructure:"breaker_reset_interval"  validate:"gt=0"`
}

// ExecutorConfig controls the task executor pool.
type ExecutorConfig struct {
	// Embedded runs an executor pool inside the API server process.
	Embedded          bool          `mapstructure:"embedded"`
	WorkerCount       int           `mapstructure:"worker_count"        validate:"gte=1,lte=100"`
	Types             []string      `mapstructure:"types"               validate:"dive,oneof=chat_completion daily_fortune"`
	PollInterval      time.Duration `mapstructure:"poll_interval"       validate:"gt=0"`
	MaxPollInterval   time.Duration `mapstructure:"max_poll_interval"   validate:"gtefield=PollInterval"`
	LeaseDuration     time.Duration `mapstructure:"lease_duration"      validate:"gtfield=GenerationTimeout"`
	GenerationTimeout time.Duration `mapstructure:"generation_timeout"  validate:"gt=0"`
	MaxAttempts       int           `mapstructure:"max_attempts"        validate:"gte=1"`
	ReaperInterval    time.Duration `mapstructure:"reaper_interval"     validate:"gt=0"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"  validate:"gt=0"`
	ReconcileBatch    int           `mapstructure:"reconcile_batch"     validate:"gte=1"`
}

// StatusConfig controls the status query service.
type StatusConfig struct {
	MaxBatchSize  int   `mapstructure:"max_batch_size"  validate:"gte=1,lte=1000"`
	CacheCapacity int64 `mapstructure:"cache_capacity"  validate:"gte=0"`
	// MaxPollDuration bounds how long taskclient.Wait polls by default.
	MaxPollDuration time.Duration `mapstructure:"max_poll_duration" validate:"gt=0"`
}

// NATSConfig controls the optional wake-up signal bus. An empty URL disables it.
type NATSConfig struct {
	URL     string `mapstructure:"url"     validate:"omitempty,url"`
	Subject string `mapstructure:"subject" validate:"required_with=URL"`
}

// FortuneConfig controls daily fortune scheduling.
type FortuneConfig struct {
	// TimeZone is the IANA zone that defines a user's calendar day.
	TimeZone string `mapstructure:"time_zone" validate:"required"`
}

// Location resolves the configured fortune time zone.
func (c FortuneConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.TimeZone)
}
