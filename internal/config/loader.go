package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value, ok := lookupEnv(envName, field.Tag.Get("envAlt"))
		if !ok {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// lookupEnv returns the first non-blank value of the primary or alternate variable.
func lookupEnv(name, alt string) (string, bool) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v, true
	}
	if alt != "" {
		if v := strings.TrimSpace(os.Getenv(alt)); v != "" {
			return v, true
		}
	}
	return "", false
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// normalize lower-cases the enum-like settings so validation and callers
// can compare them directly.
func (c *Config) normalize() {
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	c.Ingest.DuplicatePolicy = strings.ToLower(c.Ingest.DuplicatePolicy)
	c.Ingest.ReconcileMode = strings.ToLower(c.Ingest.ReconcileMode)
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Store validation
	switch c.Store.Driver {
	case "postgres":
		if c.Store.URL == "" {
			errs = append(errs, "DATABASE_URL is required when STORE_DRIVER is postgres")
		}
		if c.Store.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Store.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
		if c.Store.MaxConns < c.Store.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Store.MaxConns, c.Store.MinConns))
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "SQLITE_PATH is required when STORE_DRIVER is sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER (%q) must be one of: postgres, sqlite", c.Store.Driver))
	}

	if c.Security.RequireAPIKey && len(c.Security.KeyList()) == 0 {
		errs = append(errs, "API_KEYS is required when REQUIRE_API_KEY is true")
	}

	if c.Security.RateLimit < 0 {
		errs = append(errs, "RATE_LIMIT_PER_MINUTE must be non-negative")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Ingest validation
	if c.Ingest.BatchSize <= 0 {
		errs = append(errs, "INGEST_BATCH_SIZE must be positive")
	}
	if c.Ingest.DuplicatePolicy != "inline" && c.Ingest.DuplicatePolicy != "deferred" {
		errs = append(errs, fmt.Sprintf("INGEST_DUPLICATE_POLICY (%q) must be one of: inline, deferred", c.Ingest.DuplicatePolicy))
	}
	if c.Ingest.ReconcileMode != "async" && c.Ingest.ReconcileMode != "sync" {
		errs = append(errs, fmt.Sprintf("INGEST_RECONCILE_MODE (%q) must be one of: async, sync", c.Ingest.ReconcileMode))
	}
	if c.Ingest.MaxFileSize <= 0 {
		errs = append(errs, "INGEST_MAX_FILE_SIZE must be positive")
	}
	if c.Ingest.MaxConcurrent <= 0 {
		errs = append(errs, "INGEST_MAX_CONCURRENT must be positive")
	}
	if c.Ingest.MaxWaitTime <= 0 {
		errs = append(errs, "INGEST_MAX_WAIT_TIME must be positive")
	}
	if c.Ingest.Timeout <= 0 {
		errs = append(errs, "INGEST_TIMEOUT must be positive")
	}

	// Reconcile validation
	if c.Reconcile.Workers <= 0 {
		errs = append(errs, "RECONCILE_WORKERS must be positive")
	}
	if c.Reconcile.QueueSize <= 0 {
		errs = append(errs, "RECONCILE_QUEUE_SIZE must be positive")
	}
	if c.Reconcile.MaxAttempts <= 0 {
		errs = append(errs, "RECONCILE_MAX_ATTEMPTS must be positive")
	}
	if c.Reconcile.RetryDelay < 0 {
		errs = append(errs, "RECONCILE_RETRY_DELAY must be non-negative")
	}
	if c.Reconcile.SweepEnabled && c.Reconcile.SweepInterval <= 0 {
		errs = append(errs, "RECONCILE_SWEEP_INTERVAL must be positive when the sweep is enabled")
	}
	if c.Reconcile.SweepPageSize <= 0 {
		errs = append(errs, "RECONCILE_SWEEP_PAGE_SIZE must be positive")
	}

	if c.Export.ChunkSize <= 0 {
		errs = append(errs, "EXPORT_CHUNK_SIZE must be positive")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// The database URL is masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Store: {Driver: %q, URL: [MASKED], SQLitePath: %q, MaxConns: %d}, ",
		c.Store.Driver, c.Store.SQLitePath, c.Store.MaxConns)
	fmt.Fprintf(&b, "Ingest: {BatchSize: %d, DuplicatePolicy: %q, ReconcileMode: %q, MaxConcurrent: %d}, ",
		c.Ingest.BatchSize, c.Ingest.DuplicatePolicy, c.Ingest.ReconcileMode, c.Ingest.MaxConcurrent)
	fmt.Fprintf(&b, "Reconcile: {Workers: %d, SweepEnabled: %v, SweepInterval: %s}, ",
		c.Reconcile.Workers, c.Reconcile.SweepEnabled, c.Reconcile.SweepInterval)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: %d configured}, ",
		c.Security.RequireAPIKey, len(c.Security.KeyList()))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
