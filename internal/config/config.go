// Package config provides centralized configuration management for the
// application. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Migration MigrationConfig
	Rate      RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response. Zero
	// disables it; synchronous migrations can outlive any fixed budget.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-upload requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP / X-Forwarded-For headers are believed (default: none)
	TrustedProxies []string `env:"SERVER_TRUSTED_PROXIES"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// MigrationConfig holds migration pipeline settings.
type MigrationConfig struct {
	// MaxFileSize is the maximum allowed upload size in bytes (default: 200MB)
	MaxFileSize int64 `env:"MIGRATION_MAX_FILE_SIZE" default:"209715200"`

	// MaxConcurrentJobs is the maximum number of migrations running at once (default: 3)
	MaxConcurrentJobs int `env:"MIGRATION_MAX_CONCURRENT_JOBS" default:"3"`

	// MaxWaitTime is how long a new job waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"MIGRATION_MAX_WAIT_TIME" default:"30s"`

	// BatchSize is the number of rows per staging insert batch (default: 5000)
	BatchSize int `env:"MIGRATION_BATCH_SIZE" default:"5000"`

	// MaxRows caps the total data rows per job; 0 is unbounded (default: 0)
	MaxRows int64 `env:"MIGRATION_MAX_ROWS" default:"0"`

	// SheetRowCap caps the data rows of any single sheet; 0 is unbounded
	// (default: 0)
	SheetRowCap int64 `env:"MIGRATION_SHEET_ROW_CAP" default:"0"`

	// ParallelProcessing dispatches read batches to a worker pool (default: true)
	ParallelProcessing bool `env:"MIGRATION_PARALLEL" default:"true"`

	// EnableProgressTracking logs reader progress periodically (default: true)
	EnableProgressTracking bool `env:"MIGRATION_PROGRESS_TRACKING" default:"true"`

	// EnableMemoryMonitoring samples heap usage during reads (default: true)
	EnableMemoryMonitoring bool `env:"MIGRATION_MEMORY_MONITORING" default:"true"`

	// MemoryThresholdMB is the heap warning threshold (default: 500)
	MemoryThresholdMB int `env:"MIGRATION_MEMORY_THRESHOLD_MB" default:"500"`

	// StrictValidation runs row-level format checks in the reader sink,
	// surfacing bad dates and quantities as parse errors at ingest instead
	// of waiting for the SQL validation phase (default: false)
	StrictValidation bool `env:"MIGRATION_STRICT_VALIDATION" default:"false"`

	// ExportWindowSize is the flush window, in rows, of the streaming error
	// report writer (default: 1000)
	ExportWindowSize int `env:"MIGRATION_EXPORT_WINDOW_SIZE" default:"1000"`

	// KeepErrorRows retains staging_error rows after cleanup (default: true)
	KeepErrorRows bool `env:"MIGRATION_KEEP_ERROR_ROWS" default:"true"`

	// UploadDir is where async uploads are spooled (default: system temp)
	UploadDir string `env:"MIGRATION_UPLOAD_DIR"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`

	// BreakerThreshold is consecutive upload failures before the circuit
	// opens (default: 5)
	BreakerThreshold int `env:"BREAKER_THRESHOLD" default:"5"`

	// BreakerCooldown is how long the circuit stays open (default: 30s)
	BreakerCooldown time.Duration `env:"BREAKER_COOLDOWN" default:"30s"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
