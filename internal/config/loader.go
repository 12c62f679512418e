// Package config provides centralized configuration management for linkscanner.
// Values are layered with viper: built-in defaults, an optional YAML config
// file, environment variables mapped through gofulmen env specs, and runtime
// overrides from CLI flags.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/linkscanner/linkscanner/internal/appid"
)

// LegacyAPIKeyEnv is the bare variable name accepted for the upstream API key.
const LegacyAPIKeyEnv = "VT_API_KEY"

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// Load loads configuration without an explicit config file. See LoadFile.
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", runtimeOverrides...)
}

// LoadFile loads configuration. When configFile is empty the XDG config
// directory is searched for config.yaml; a missing file is not an error.
//
// This function is safe to call multiple times (e.g., for config reload)
func LoadFile(ctx context.Context, configFile string, runtimeOverrides ...map[string]any) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v, configFile); err != nil {
		return nil, err
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	applyLegacyAPIKey(envOverrides)

	allOverrides := []map[string]any{envOverrides}
	allOverrides = append(allOverrides, runtimeOverrides...)
	for _, overrides := range allOverrides {
		applyOverrides(v, "", overrides)
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath(cfg.Store.Driver)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)

	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.RateLimits.PerMinute <= 0 {
		problems = append(problems, "rate_limits.per_minute must be positive")
	}
	if c.RateLimits.PerDay <= 0 {
		problems = append(problems, "rate_limits.per_day must be positive")
	}
	if c.RateLimits.PerMonth <= 0 {
		problems = append(problems, "rate_limits.per_month must be positive")
	}
	if c.VirusTotal.MaxPollAttempts <= 0 {
		problems = append(problems, "virustotal.max_poll_attempts must be positive")
	}
	if c.VirusTotal.PollInterval < 0 {
		problems = append(problems, "virustotal.poll_interval must not be negative")
	}
	switch strings.TrimSpace(c.Store.Driver) {
	case "", "file", "libsql":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// setDefaults registers every known key so AllSettings is complete.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Store defaults
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Upstream quota
	v.SetDefault("rate_limits.per_minute", 4)
	v.SetDefault("rate_limits.per_day", 500)
	v.SetDefault("rate_limits.per_month", 15500)

	// Upstream client
	v.SetDefault("virustotal.api_key", "")
	v.SetDefault("virustotal.base_url", "https://www.virustotal.com/api/v3")
	v.SetDefault("virustotal.timeout", "30s")
	v.SetDefault("virustotal.poll_interval", "3s")
	v.SetDefault("virustotal.max_poll_attempts", 20)
	v.SetDefault("virustotal.breaker.enabled", true)
	v.SetDefault("virustotal.breaker.max_failures", 5)
	v.SetDefault("virustotal.breaker.open_timeout", "30s")

	// Enhanced scan enrichment
	v.SetDefault("enrichment.rdap_enabled", true)
	v.SetDefault("enrichment.rdap_timeout", "10s")
	v.SetDefault("enrichment.relationships", []string{"resolutions", "subdomains"})
	v.SetDefault("enrichment.limit", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)

	// Debug defaults
	v.SetDefault("debug.enabled", false)
}

func readConfigFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		return nil
	}

	configDir := gfconfig.GetAppConfigDir(appid.ConfigName)
	if strings.TrimSpace(configDir) == "" {
		return nil
	}
	v.AddConfigPath(configDir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// applyOverrides flattens nested override maps into dotted viper keys. Set
// values take precedence over config file and defaults.
func applyOverrides(v *viper.Viper, prefix string, overrides map[string]any) {
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := overrides[key].(map[string]any); ok {
			applyOverrides(v, path, nested)
			continue
		}
		v.Set(path, overrides[key])
	}
}

// applyLegacyAPIKey honours VT_API_KEY when the prefixed variable is unset.
func applyLegacyAPIKey(envOverrides map[string]any) {
	value := strings.TrimSpace(os.Getenv(LegacyAPIKeyEnv))
	if value == "" {
		return
	}
	vt := ensureMap(envOverrides, "virustotal")
	if existing, ok := vt["api_key"].(string); ok && strings.TrimSpace(existing) != "" {
		return
	}
	vt["api_key"] = value
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := appid.EnvPrefix

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "STORE_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "STATE_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Upstream quota
		{Name: prefix + "RATE_LIMIT_PER_MINUTE", Path: []string{"rate_limits", "per_minute"}, Type: EnvInt},
		{Name: prefix + "RATE_LIMIT_PER_DAY", Path: []string{"rate_limits", "per_day"}, Type: EnvInt},
		{Name: prefix + "RATE_LIMIT_PER_MONTH", Path: []string{"rate_limits", "per_month"}, Type: EnvInt},

		// Upstream client
		{Name: prefix + "VIRUSTOTAL_API_KEY", Path: []string{"virustotal", "api_key"}, Type: EnvString},
		{Name: prefix + "VIRUSTOTAL_BASE_URL", Path: []string{"virustotal", "base_url"}, Type: EnvString},
		{Name: prefix + "VIRUSTOTAL_TIMEOUT", Path: []string{"virustotal", "timeout"}, Type: EnvString},
		{Name: prefix + "VIRUSTOTAL_POLL_INTERVAL", Path: []string{"virustotal", "poll_interval"}, Type: EnvString},
		{Name: prefix + "VIRUSTOTAL_MAX_POLL_ATTEMPTS", Path: []string{"virustotal", "max_poll_attempts"}, Type: EnvInt},
		{Name: prefix + "VIRUSTOTAL_BREAKER_ENABLED", Path: []string{"virustotal", "breaker", "enabled"}, Type: EnvBool},

		// Enrichment
		{Name: prefix + "RDAP_ENABLED", Path: []string{"enrichment", "rdap_enabled"}, Type: EnvBool},
		{Name: prefix + "RDAP_TIMEOUT", Path: []string{"enrichment", "rdap_timeout"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Debug config
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(appid.ConfigName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(appid.ConfigName)
}

// DefaultStorePath returns the XDG-compliant location of the counter state
// for the given store driver.
func DefaultStorePath(driver string) string {
	name := "rate_limit_state.json"
	if strings.TrimSpace(driver) == "libsql" {
		name = appid.BinaryName + ".db"
	}

	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + name
	}
	return filepath.Join(dataDir, name)
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if existing, ok := parent[key]; ok {
		if typed, ok := existing.(map[string]any); ok {
			return typed
		}
	}
	next := map[string]any{}
	parent[key] = next
	return next
}
