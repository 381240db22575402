package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ballhead/ballhead/pkg/errors"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global   GlobalConfig   `yaml:"global"`
	Sheets   SheetsConfig   `yaml:"sheets"`
	Cache    CacheConfig    `yaml:"cache"`
	Warmer   WarmerConfig   `yaml:"warmer"`
	API      APIConfig      `yaml:"api"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Commands CommandsConfig `yaml:"commands"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// SheetsConfig configures access to the Google Sheets origin
type SheetsConfig struct {
	// CredentialsFile is a service account key file. CredentialsJSON takes precedence when set.
	CredentialsFile string               `yaml:"credentials_file"`
	CredentialsJSON string               `yaml:"credentials_json"`
	Scopes          []string             `yaml:"scopes"`
	RequestTimeout  time.Duration        `yaml:"request_timeout"`
	Retry           RetryConfig          `yaml:"retry"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// CacheConfig represents range cache maintenance settings
type CacheConfig struct {
	DefaultTTL         time.Duration `yaml:"default_ttl"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`
	StatsResetInterval time.Duration `yaml:"stats_reset_interval"`
}

// WarmerConfig represents cache warmer settings
type WarmerConfig struct {
	Enabled     bool            `yaml:"enabled"`
	// Interval between warm passes; zero derives half the smallest set TTL
	Interval    time.Duration   `yaml:"interval"`
	PassTimeout time.Duration   `yaml:"pass_timeout"`
	Sets        []WarmSetConfig `yaml:"sets"`
}

// WarmSetConfig is one group of hot ranges kept warm together
type WarmSetConfig struct {
	Name          string        `yaml:"name"`
	SpreadsheetID string        `yaml:"spreadsheet_id"`
	Ranges        []string      `yaml:"ranges"`
	TTL           time.Duration `yaml:"ttl"`
}

// APIConfig represents the operator HTTP server settings
type APIConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// CommandsConfig holds operator command settings
type CommandsConfig struct {
	// CacheStatsRoles lists the Discord role IDs allowed to run cache-stats.
	CacheStatsRoles []string `yaml:"cache_stats_roles"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Sheets: SheetsConfig{
			Scopes:         []string{"https://www.googleapis.com/auth/spreadsheets.readonly"},
			RequestTimeout: 10 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   200 * time.Millisecond,
				MaxDelay:    2 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
		},
		Cache: CacheConfig{
			DefaultTTL:         5 * time.Minute,
			CleanupInterval:    10 * time.Minute,
			StatsResetInterval: 24 * time.Hour,
		},
		Warmer: WarmerConfig{
			Enabled:     true,
			PassTimeout: 30 * time.Second,
		},
		API: APIConfig{
			Enabled:      true,
			Address:      "localhost:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "ballhead",
		},
	}
}

// Load builds a configuration from defaults, an optional YAML file and the environment.
func Load(filename string) (*Configuration, error) {
	cfg := NewDefault()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("BALLHEAD_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("BALLHEAD_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = strings.ToLower(val)
	}

	// Sheets credentials
	if val := os.Getenv("BALLHEAD_CREDENTIALS_JSON"); val != "" {
		c.Sheets.CredentialsJSON = val
	}
	if val := os.Getenv("BALLHEAD_CREDENTIALS_FILE"); val != "" {
		c.Sheets.CredentialsFile = val
	} else if val := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); val != "" && c.Sheets.CredentialsFile == "" {
		c.Sheets.CredentialsFile = val
	}
	if val := os.Getenv("BALLHEAD_SHEETS_TIMEOUT"); val != "" {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return envError("BALLHEAD_SHEETS_TIMEOUT", err)
		}
		c.Sheets.RequestTimeout = duration
	}

	// Cache settings
	if val := os.Getenv("BALLHEAD_CACHE_CLEANUP_INTERVAL"); val != "" {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return envError("BALLHEAD_CACHE_CLEANUP_INTERVAL", err)
		}
		c.Cache.CleanupInterval = duration
	}

	// Warmer settings
	if val := os.Getenv("BALLHEAD_WARMER_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return envError("BALLHEAD_WARMER_ENABLED", err)
		}
		c.Warmer.Enabled = enabled
	}
	if val := os.Getenv("BALLHEAD_WARMER_INTERVAL"); val != "" {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return envError("BALLHEAD_WARMER_INTERVAL", err)
		}
		c.Warmer.Interval = duration
	}

	// API and metrics
	if val := os.Getenv("BALLHEAD_API_ADDRESS"); val != "" {
		c.API.Address = val
	}
	if val := os.Getenv("BALLHEAD_API_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return envError("BALLHEAD_API_ENABLED", err)
		}
		c.API.Enabled = enabled
	}
	if val := os.Getenv("BALLHEAD_METRICS_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return envError("BALLHEAD_METRICS_ENABLED", err)
		}
		c.Metrics.Enabled = enabled
	}

	if val := os.Getenv("BALLHEAD_CACHE_STATS_ROLES"); val != "" {
		c.Commands.CacheStatsRoles = splitList(val)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, c.Global.LogLevel) {
		return invalid("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if c.Global.LogFormat != "text" && c.Global.LogFormat != "json" {
		return invalid("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if c.Sheets.RequestTimeout < 0 {
		return invalid("sheets.request_timeout cannot be negative")
	}
	if c.Sheets.Retry.MaxAttempts < 0 {
		return invalid("sheets.retry.max_attempts cannot be negative")
	}
	if c.Sheets.CircuitBreaker.FailureThreshold < 0 {
		return invalid("sheets.circuit_breaker.failure_threshold cannot be negative")
	}

	if c.Cache.DefaultTTL <= 0 {
		return invalid("cache.default_ttl must be greater than 0")
	}
	if c.Cache.CleanupInterval <= 0 {
		return invalid("cache.cleanup_interval must be greater than 0")
	}
	if c.Cache.StatsResetInterval <= 0 {
		return invalid("cache.stats_reset_interval must be greater than 0")
	}

	if c.Warmer.Enabled {
		if c.Warmer.Interval < 0 {
			return invalid("warmer.interval cannot be negative")
		}
		for i, set := range c.Warmer.Sets {
			name := set.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			if set.SpreadsheetID == "" {
				return invalid("warmer set %s: spreadsheet_id is required", name)
			}
			if len(set.Ranges) == 0 {
				return invalid("warmer set %s: at least one range is required", name)
			}
			if ttl := c.WarmSetTTL(set); c.Warmer.Interval > 0 && ttl <= c.Warmer.Interval {
				return invalid("warmer set %s: ttl %v must be longer than warmer.interval %v",
					name, ttl, c.Warmer.Interval)
			}
		}
	}

	if c.API.Enabled && c.API.Address == "" {
		return invalid("api.address is required when the API is enabled")
	}

	return nil
}

// WarmSetTTL returns the set's TTL, falling back to cache.default_ttl when unset.
func (c *Configuration) WarmSetTTL(set WarmSetConfig) time.Duration {
	if set.TTL > 0 {
		return set.TTL
	}
	return c.Cache.DefaultTTL
}

func invalid(format string, args ...interface{}) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf(format, args...)).WithComponent("config")
}

func envError(name string, err error) error {
	return errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid value for "+name).WithComponent("config")
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
