package cluster

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the clustering engine
type Config struct {
	// BatchSize is the maximum number of sibling payloads sent in a
	// single oracle call
	// Larger batches = fewer API calls, but longer individual requests
	// Default: 10
	BatchSize int

	// MaxRetries is the number of times to retry oracle calls on
	// retryable failure
	// Default: 2 (total 3 attempts including initial call)
	MaxRetries int

	// InitialBackoff is the delay before the first retry
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff delay
	// Default: 30 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier scales the delay between attempts
	// Default: 2.0
	BackoffMultiplier float64

	// RequestTimeout is the timeout for individual oracle calls
	// Default: 60 seconds
	RequestTimeout time.Duration
}

// DefaultConfig returns the default clustering configuration
//
// These defaults are chosen to:
// - Keep oracle costs reasonable (bounded batch size)
// - Survive rate limiting (exponential backoff, bounded attempts)
// - Never hang a run on one slow call (per-call timeout)
func DefaultConfig() Config {
	return Config{
		BatchSize:         10,
		MaxRetries:        2,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		RequestTimeout:    60 * time.Second,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.BatchSize < 2 {
		return fmt.Errorf("batch_size must be at least 2 (got %d)", c.BatchSize)
	}
	if c.BatchSize > 100 {
		return fmt.Errorf("batch_size too large (got %d, max 100)", c.BatchSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative (got %d)", c.MaxRetries)
	}
	if c.MaxRetries > 10 {
		return fmt.Errorf("max_retries too large (got %d, max 10)", c.MaxRetries)
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive (got %v)", c.InitialBackoff)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must be >= initial_backoff (got %v < %v)",
			c.MaxBackoff, c.InitialBackoff)
	}
	if c.BackoffMultiplier < 1.0 {
		return fmt.Errorf("backoff_multiplier must be >= 1.0 (got %.2f)", c.BackoffMultiplier)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive (got %v)", c.RequestTimeout)
	}
	if c.RequestTimeout > 5*time.Minute {
		return fmt.Errorf("request_timeout too large (got %v, max 5 minutes)", c.RequestTimeout)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{BatchSize: %d, MaxRetries: %d, InitialBackoff: %v, MaxBackoff: %v, "+
			"Multiplier: %.1f, Timeout: %v}",
		c.BatchSize, c.MaxRetries, c.InitialBackoff, c.MaxBackoff,
		c.BackoffMultiplier, c.RequestTimeout,
	)
}

// ConfigFromEnv creates a Config from environment variables, falling back to defaults
//
// Environment variables:
//   - FOREST_CLUSTER_BATCH_SIZE: Sibling payloads per oracle call (default: 10)
//   - FOREST_CLUSTER_MAX_RETRIES: Maximum retry attempts per batch (default: 2)
//   - FOREST_CLUSTER_BACKOFF_SECS: Initial backoff in seconds (default: 1)
//   - FOREST_CLUSTER_MAX_BACKOFF_SECS: Maximum backoff in seconds (default: 30)
//   - FOREST_CLUSTER_TIMEOUT_SECS: Per-call timeout in seconds (default: 60)
//
// Returns an error if any environment variable has an invalid value.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if err := parseEnvInt("FOREST_CLUSTER_BATCH_SIZE", &cfg.BatchSize); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("FOREST_CLUSTER_MAX_RETRIES", &cfg.MaxRetries); err != nil {
		return cfg, err
	}
	if err := parseEnvDuration("FOREST_CLUSTER_BACKOFF_SECS", &cfg.InitialBackoff, time.Second); err != nil {
		return cfg, err
	}
	if err := parseEnvDuration("FOREST_CLUSTER_MAX_BACKOFF_SECS", &cfg.MaxBackoff, time.Second); err != nil {
		return cfg, err
	}
	if err := parseEnvDuration("FOREST_CLUSTER_TIMEOUT_SECS", &cfg.RequestTimeout, time.Second); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}

	return cfg, nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvDuration parses a duration from an environment variable
// The multiplier converts the numeric value to a duration
func parseEnvDuration(key string, dest *time.Duration, multiplier time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = time.Duration(parsed) * multiplier
	return nil
}
