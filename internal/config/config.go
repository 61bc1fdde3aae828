package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
	Cache    CacheConfig    `mapstructure:"cache"    validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// WorkerConfig contains settings for the external answer-generation worker
// process and the bridge that mediates access to it.
type WorkerConfig struct {
	// Command is the executable that runs the worker process.
	Command string `mapstructure:"command" validate:"required"`

	// Args are passed to the worker executable. The worker is expected to
	// speak the line-oriented JSON protocol on stdin/stdout.
	Args []string `mapstructure:"args"`

	// StartupTimeoutSeconds bounds how long the bridge waits for the
	// worker's readiness message after starting the process.
	StartupTimeoutSeconds int `mapstructure:"startup_timeout_seconds" validate:"required,gt=0"`

	// RequestTimeoutSeconds bounds a single request/response exchange.
	// A request exceeding it triggers a process restart.
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" validate:"required,gt=0"`

	// MaxAttempts is the total number of attempts per query, including the
	// first one. Execution failures and timeouts consume attempts;
	// validation failures never retry.
	MaxAttempts int `mapstructure:"max_attempts" validate:"required,gte=1,lte=10"`

	// RetryBaseDelayMs is the base delay for exponential backoff between
	// attempts (doubled per attempt, capped).
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" validate:"required,gt=0"`

	// RestartDelayMs is the pause before respawning a crashed worker process.
	RestartDelayMs int `mapstructure:"restart_delay_ms" validate:"required,gt=0"`

	// MaxQueryLength rejects oversized queries before they reach the worker.
	MaxQueryLength int `mapstructure:"max_query_length" validate:"required,gt=0"`
}

// QueueConfig contains settings for the asynchronous job queue.
type QueueConfig struct {
	// WorkerCount determines how many concurrent processors pull jobs.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gte=1"`

	// QueueSize determines the buffer size for the in-memory job queue.
	QueueSize int `mapstructure:"queue_size" validate:"required,gte=1"`

	// JobRetentionMinutes is how long terminal jobs stay retrievable
	// before garbage collection.
	JobRetentionMinutes int `mapstructure:"job_retention_minutes" validate:"required,gt=0"`

	// DefaultAwaitTimeoutMs is the await timeout applied when a caller
	// does not supply one.
	DefaultAwaitTimeoutMs int `mapstructure:"default_await_timeout_ms" validate:"required,gt=0"`
}

// CacheConfig contains settings for the response cache.
type CacheConfig struct {
	// Enabled toggles the cache entirely; when false every lookup is a miss
	// and writes are dropped.
	Enabled bool `mapstructure:"enabled"`

	// Backend selects the primary store implementation.
	Backend string `mapstructure:"backend" validate:"required,oneof=memory postgres badger"`

	// TTLMinutes is the lifetime of a cache entry.
	TTLMinutes int `mapstructure:"ttl_minutes" validate:"required,gt=0"`

	// FallbackCapacity bounds the in-process fallback store (LRU eviction).
	FallbackCapacity int `mapstructure:"fallback_capacity" validate:"required,gt=0"`

	// BadgerPath is the directory for badger files when Backend is "badger".
	BadgerPath string `mapstructure:"badger_path"`
}

// DatabaseConfig contains database settings, used when the postgres cache
// backend is selected.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}
