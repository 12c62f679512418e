package config

import (
	"time"

	"github.com/linkscanner/linkscanner/internal/core"
)

// Config represents the complete application configuration.
// Precedence, lowest first: built-in defaults, the optional YAML config file,
// environment variables (including .env files), runtime overrides.
type Config struct {
	Server     ServerConfig         `mapstructure:"server"`
	Store      StoreConfig          `mapstructure:"store"`
	RateLimits core.RateLimitConfig `mapstructure:"rate_limits"`
	VirusTotal VirusTotalConfig     `mapstructure:"virustotal"`
	Enrichment EnrichmentConfig     `mapstructure:"enrichment"`
	Logging    LoggingConfig        `mapstructure:"logging"`
	Metrics    MetricsConfig        `mapstructure:"metrics"`
	Health     HealthConfig         `mapstructure:"health"`
	Debug      DebugConfig          `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects where rate limit counters persist.
//
// Driver "file" keeps a JSON document at Path. Driver "libsql" uses a local
// SQLite file at Path or a remote Turso database at URL.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// VirusTotalConfig configures the upstream API client.
type VirusTotalConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxPollAttempts int           `mapstructure:"max_poll_attempts"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig tunes the upstream circuit breaker.
type BreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxFailures int           `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// EnrichmentConfig controls the extra lookups done by enhanced scans.
type EnrichmentConfig struct {
	RDAPEnabled   bool          `mapstructure:"rdap_enabled"`
	RDAPTimeout   time.Duration `mapstructure:"rdap_timeout"`
	Relationships []string      `mapstructure:"relationships"`
	Limit         int           `mapstructure:"limit"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	// Metrics are also available at the main HTTP port in JSON format
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
