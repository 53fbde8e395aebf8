package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"     validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"      validate:"required"`
	Task     TaskConfig     `mapstructure:"task"`
}

// ServerConfig contains all HTTP-server-related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// AuthConfig contains authentication settings for client-facing routes.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// WorkerConfig contains settings for the external processing worker:
// the outbound endpoint, the credentials on both legs (ours on submission,
// theirs on the webhook), and dispatch limits.
type WorkerConfig struct {
	// BaseURL is the worker service's API root, e.g. https://worker.internal.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`

	// APIKey authenticates our outbound submission and lookup calls.
	APIKey string `mapstructure:"api_key" validate:"required"`

	// WebhookSecret is the pre-shared credential the worker must present
	// on every callback delivery.
	WebhookSecret string `mapstructure:"webhook_secret" validate:"required,min=16"`

	// CallbackURL is the publicly reachable webhook endpoint passed along
	// with every submission.
	CallbackURL string `mapstructure:"callback_url" validate:"required,url"`

	// SubmitTimeout bounds each outbound submission and lookup call.
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`

	// MaxConcurrentSubmissions bounds the parallelism of batch dispatch.
	MaxConcurrentSubmissions int `mapstructure:"max_concurrent_submissions" validate:"gte=0"`
}

// LLMConfig contains settings for the Gemini enrichment integration.
type LLMConfig struct {
	GeminiAPIKey   string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName      string `mapstructure:"model_name"     validate:"required"`
	EmbeddingModel string `mapstructure:"embedding_model" validate:"required"`
}

// TaskConfig contains settings for the background task runner.
type TaskConfig struct {
	WorkerCount            int           `mapstructure:"worker_count"`
	QueueSize              int           `mapstructure:"queue_size"`
	StuckTaskAge           time.Duration `mapstructure:"stuck_task_age"`
	StuckTaskCheckInterval time.Duration `mapstructure:"stuck_task_check_interval"`
}
