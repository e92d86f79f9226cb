package config

import "time"

// Config holds all application configuration.
// It is loaded once at startup and passed explicitly to constructors;
// nothing in the codebase reads configuration from ambient global state.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     validate:"required"`
	Broker     BrokerConfig     `mapstructure:"broker"     validate:"required"`
	Worker     WorkerConfig     `mapstructure:"worker"     validate:"required"`
	Retry      RetryConfig      `mapstructure:"retry"      validate:"required"`
	Beat       BeatConfig       `mapstructure:"beat"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Store      StoreConfig      `mapstructure:"store"`
	Generation GenerationConfig `mapstructure:"generation"`
	Cache      CacheConfig      `mapstructure:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Images     ImagesConfig     `mapstructure:"images"`
}

// ServerConfig contains the HTTP gateway settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// BrokerConfig contains the Redis broker connection settings.
type BrokerConfig struct {
	Addr        string        `mapstructure:"addr"         validate:"required,hostname_port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"           validate:"gte=0"`
	PingTimeout time.Duration `mapstructure:"ping_timeout" validate:"gt=0"`
}

// WorkerConfig contains the worker pool limits. Time limits are expressed
// in whole seconds to match the launch flags.
type WorkerConfig struct {
	Concurrency          int `mapstructure:"concurrency"          validate:"required,gt=0"`
	MaxTasksPerChild     int `mapstructure:"max_tasks_per_child"  validate:"required,gt=0"`
	TimeLimitSeconds     int `mapstructure:"time_limit"           validate:"required,gt=0"`
	SoftTimeLimitSeconds int `mapstructure:"soft_time_limit"      validate:"required,gt=0,ltfield=TimeLimitSeconds"`
}

// HardLimit returns the hard time limit as a duration.
func (w WorkerConfig) HardLimit() time.Duration {
	return time.Duration(w.TimeLimitSeconds) * time.Second
}

// SoftLimit returns the soft time limit as a duration.
func (w WorkerConfig) SoftLimit() time.Duration {
	return time.Duration(w.SoftTimeLimitSeconds) * time.Second
}

// RetryConfig controls requeue behavior for failed tasks. Backoff is
// exponential: base * 2^retry_count, capped at max_backoff. Tasks that
// exhaust max_retries are dead-lettered and never retried automatically.
type RetryConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"  validate:"gte=0"`
	BaseBackoff time.Duration `mapstructure:"base_backoff" validate:"gt=0"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"  validate:"gt=0"`
}

// BeatEntry is one recurring task in the beat schedule. Spec uses the
// standard five-field cron syntax.
type BeatEntry struct {
	Spec string `mapstructure:"spec" validate:"required"`
	Task string `mapstructure:"task" validate:"required"`
}

// BeatConfig contains the recurring-task schedule and the leader lock TTL.
type BeatConfig struct {
	Entries []BeatEntry   `mapstructure:"entries" validate:"dive"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// AuthConfig contains gateway authentication settings. OperatorPasswordHash
// is a bcrypt hash; the gateway has a single operator account.
type AuthConfig struct {
	JWTSecret            string        `mapstructure:"jwt_secret"             validate:"omitempty,min=32"`
	TokenLifetime        time.Duration `mapstructure:"token_lifetime"`
	OperatorUsername     string        `mapstructure:"operator_username"`
	OperatorPasswordHash string        `mapstructure:"operator_password_hash"`
}

// CatalogConfig contains the product catalog (Poizon) API client settings.
type CatalogConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// StoreConfig contains the WooCommerce REST client settings.
type StoreConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"omitempty,url"`
	ConsumerKey    string        `mapstructure:"consumer_key"`
	ConsumerSecret string        `mapstructure:"consumer_secret"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// GenerationConfig contains the SEO text generation settings.
type GenerationConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	Model        string `mapstructure:"model"`
}

// CacheConfig contains TTLs for the two cache tiers.
type CacheConfig struct {
	TTL       time.Duration `mapstructure:"ttl"        validate:"gt=0"`
	MemoryTTL time.Duration `mapstructure:"memory_ttl" validate:"gt=0"`
}

// RateLimitConfig bounds outbound catalog API requests globally across all
// worker processes (the window is coordinated through the broker).
type RateLimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests" validate:"gt=0"`
	Window      time.Duration `mapstructure:"window"       validate:"gt=0"`
}

// ImagesConfig bounds product image dimensions before media upload.
type ImagesConfig struct {
	MaxWidth  int `mapstructure:"max_width"  validate:"gt=0"`
	MaxHeight int `mapstructure:"max_height" validate:"gt=0"`
}
