package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the pipeline.
type Config struct {
	// Persistence
	DatabaseURL     string // Postgres DSN for the event/inventory store
	PositionsDBPath string // BoltDB file for per-source read positions

	// Log sources
	LogRoot         string // Directory holding one sub-directory per VM
	FleetConfigPath string // YAML file describing hosts and SSH access

	// Ingestion
	BatchMaxSize  int           // Writer flushes when this many candidates buffer
	FlushInterval time.Duration // Writer flushes at least this often
	DedupWindow   time.Duration // ± window for duplicate suppression
	MaxLineBytes  int           // Longest log line the ingester accepts

	// Adaptive scheduling
	PollMinInterval time.Duration
	PollMaxInterval time.Duration
	PollBackoff     float64 // Interval growth factor after idle polls
	EmptyThreshold  int     // Consecutive empty polls before backing off
	PollConcurrency int     // Simultaneous remote sessions for metric polling

	// Fleet health
	HostPollInterval time.Duration // Cadence of host health probes
	ResolverCacheTTL time.Duration // How long the VM alias cache stays fresh

	// Broadcast
	HTTPAddr          string
	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration

	// Observability
	LogLevel       string
	LogFile        string
	TracingEnabled bool
	OTLPEndpoint   string
	OTLPProtocol   string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		PositionsDBPath: getEnv("POSITIONS_DB_PATH", "positions.db"),

		LogRoot:         getEnv("LOG_ROOT", "/mnt/vm-security"),
		FleetConfigPath: getEnv("FLEET_CONFIG_PATH", "configs/fleet.yaml"),

		BatchMaxSize:  getEnvInt("BATCH_MAX_SIZE", 50),
		FlushInterval: getEnvDuration("FLUSH_INTERVAL", 5*time.Second),
		DedupWindow:   getEnvDuration("DEDUP_WINDOW", 5*time.Minute),
		MaxLineBytes:  getEnvInt("MAX_LINE_BYTES", 1024*1024),

		PollMinInterval: getEnvDuration("POLL_MIN_INTERVAL", 5*time.Second),
		PollMaxInterval: getEnvDuration("POLL_MAX_INTERVAL", 300*time.Second),
		PollBackoff:     getEnvFloat("POLL_BACKOFF_FACTOR", 2.0),
		EmptyThreshold:  getEnvInt("POLL_EMPTY_THRESHOLD", 3),
		PollConcurrency: getEnvInt("POLL_CONCURRENCY", 5),

		HostPollInterval: getEnvDuration("HOST_POLL_INTERVAL", time.Minute),
		ResolverCacheTTL: getEnvDuration("RESOLVER_CACHE_TTL", time.Minute),

		HTTPAddr:          getEnv("HTTP_ADDR", ":8090"),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		ClientTimeout:     getEnvDuration("CLIENT_TIMEOUT", 5*time.Minute),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", ""),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", ""),
		OTLPProtocol:   getEnv("OTLP_PROTOCOL", "grpc"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.PositionsDBPath == "" {
		return fmt.Errorf("POSITIONS_DB_PATH is required")
	}
	if c.LogRoot == "" {
		return fmt.Errorf("LOG_ROOT is required")
	}
	if c.BatchMaxSize < 1 {
		return fmt.Errorf("BATCH_MAX_SIZE must be at least 1")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("FLUSH_INTERVAL must be positive")
	}
	if c.DedupWindow <= 0 {
		return fmt.Errorf("DEDUP_WINDOW must be positive")
	}
	if c.PollMinInterval <= 0 {
		return fmt.Errorf("POLL_MIN_INTERVAL must be positive")
	}
	if c.PollMaxInterval < c.PollMinInterval {
		return fmt.Errorf("POLL_MAX_INTERVAL must be >= POLL_MIN_INTERVAL")
	}
	if c.PollBackoff < 1.0 {
		return fmt.Errorf("POLL_BACKOFF_FACTOR must be >= 1.0")
	}
	if c.EmptyThreshold < 1 {
		return fmt.Errorf("POLL_EMPTY_THRESHOLD must be at least 1")
	}
	if c.PollConcurrency < 1 {
		return fmt.Errorf("POLL_CONCURRENCY must be at least 1")
	}
	if c.HostPollInterval <= 0 {
		return fmt.Errorf("HOST_POLL_INTERVAL must be positive")
	}
	if c.ResolverCacheTTL <= 0 {
		return fmt.Errorf("RESOLVER_CACHE_TTL must be positive")
	}
	if c.OTLPProtocol != "grpc" && c.OTLPProtocol != "http" {
		return fmt.Errorf("OTLP_PROTOCOL must be 'grpc' or 'http'")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable ("5s", "2m") or
// returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
