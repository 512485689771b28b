// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Ingest    IngestConfig
	Reconcile ReconcileConfig
	Export    ExportConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing response (default: 0, exports stream)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// StoreConfig selects and tunes the record store.
type StoreConfig struct {
	// Driver is "postgres" or "sqlite" (default: postgres)
	Driver string `env:"STORE_DRIVER" default:"postgres"`

	// URL is the PostgreSQL connection string (required for postgres).
	// Supports both DATABASE_URL and DB_URL env vars for compatibility.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// SQLitePath is the database file used by the sqlite driver (default: companies.db)
	SQLitePath string `env:"SQLITE_PATH" default:"companies.db"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// IngestConfig holds CSV ingestion settings.
type IngestConfig struct {
	// BatchSize is the number of valid rows buffered per bulk insert (default: 500)
	BatchSize int `env:"INGEST_BATCH_SIZE" default:"500"`

	// DuplicatePolicy is "inline" or "deferred" (default: inline)
	DuplicatePolicy string `env:"INGEST_DUPLICATE_POLICY" default:"inline"`

	// ReconcileMode is "async" or "sync" (default: async).
	// In sync mode the import call waits for reconciliation and reports
	// the final duplicate count for the batch.
	ReconcileMode string `env:"INGEST_RECONCILE_MODE" default:"async"`

	// MaxFileSize is the maximum accepted upload size in bytes (default: 100MB)
	MaxFileSize int64 `env:"INGEST_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrent is the maximum number of parallel ingestions (default: 4)
	MaxConcurrent int `env:"INGEST_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for an ingestion slot (default: 30s)
	MaxWaitTime time.Duration `env:"INGEST_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration for a single ingestion (default: 10m)
	Timeout time.Duration `env:"INGEST_TIMEOUT" default:"10m"`
}

// ReconcileConfig holds settings for the background reconciliation workers.
type ReconcileConfig struct {
	// Workers is the number of goroutines draining the queue (default: 2)
	Workers int `env:"RECONCILE_WORKERS" default:"2"`

	// QueueSize is the number of pending batches buffered (default: 256)
	QueueSize int `env:"RECONCILE_QUEUE_SIZE" default:"256"`

	// MaxAttempts is how many times a failed batch is retried (default: 3)
	MaxAttempts int `env:"RECONCILE_MAX_ATTEMPTS" default:"3"`

	// RetryDelay is the base delay between attempts (default: 2s)
	RetryDelay time.Duration `env:"RECONCILE_RETRY_DELAY" default:"2s"`

	// SweepEnabled runs a whole-store pass at startup and every SweepInterval (default: true)
	SweepEnabled bool `env:"RECONCILE_SWEEP_ENABLED" default:"true"`

	// SweepInterval is how often the whole-store pass runs (default: 6h)
	SweepInterval time.Duration `env:"RECONCILE_SWEEP_INTERVAL" default:"6h"`

	// SweepPageSize is the number of keys resolved per page (default: 1000)
	SweepPageSize int `env:"RECONCILE_SWEEP_PAGE_SIZE" default:"1000"`
}

// ExportConfig holds CSV export settings.
type ExportConfig struct {
	// ChunkSize is the number of records read per store round trip (default: 1000)
	ChunkSize int `env:"EXPORT_CHUNK_SIZE" default:"1000"`
}

// SecurityConfig holds API access settings.
type SecurityConfig struct {
	// RequireAPIKey rejects API requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of CIDRs whose X-Real-IP and
	// X-Forwarded-For headers are honored
	TrustedProxies string `env:"TRUSTED_PROXIES"`

	// RateLimit is the number of API requests allowed per client IP per minute (default: 100, 0 disables)
	RateLimit int `env:"RATE_LIMIT_PER_MINUTE" default:"100"`
}

// KeyList returns the configured API keys.
func (c *SecurityConfig) KeyList() []string {
	return splitList(c.APIKeys)
}

// ProxyList returns the configured trusted proxy CIDRs.
func (c *SecurityConfig) ProxyList() []string {
	return splitList(c.TrustedProxies)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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
