// Package config handles configuration management with validation
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"pnl_monitor/pkg/retry"
)

// Config represents the complete configuration structure
type Config struct {
	Venue     VenueConfig     `yaml:"venue"`
	Poller    PollerConfig    `yaml:"poller"`
	Engine    EngineConfig    `yaml:"engine"`
	Storage   StorageConfig   `yaml:"storage"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Alerts    AlertConfig     `yaml:"alerts"`
}

// VenueConfig points the poller at the venue's fill ledger.
type VenueConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         Secret `yaml:"api_key"`
	AppName        string `yaml:"app_name"`
	CompanyName    string `yaml:"company_name"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RateLimitRPS   int    `yaml:"rate_limit_rps"`
	RateBurst      int    `yaml:"rate_burst"`
}

// PollerConfig contains the fill poller's scheduling and retry settings.
type PollerConfig struct {
	IntervalSeconds        int     `yaml:"interval_seconds"`
	Quiet                  bool    `yaml:"quiet"`
	MaxRetries             int     `yaml:"max_retries"`
	BackoffInitialMS       int     `yaml:"backoff_initial_ms"`
	BackoffMultiplier      float64 `yaml:"backoff_multiplier"`
	BackoffMaxMS           int     `yaml:"backoff_max_ms"`
	DedupWindow            int     `yaml:"dedup_window"`
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures"`
	StartTime              string  `yaml:"start_time"`
}

// EngineConfig contains the accounting engine's settings.
type EngineConfig struct {
	IntervalSeconds int          `yaml:"interval_seconds"`
	OutputPath      string       `yaml:"output_path"`
	StartTime       string       `yaml:"start_time"`
	PointValue      string       `yaml:"point_value"`
	DedupWindow     int          `yaml:"dedup_window"`
	MaxBatchRows    int          `yaml:"max_batch_rows"`
	Filter          FilterConfig `yaml:"filter"`
}

// FilterConfig narrows the engine to one instrument. Empty fields match
// everything.
type FilterConfig struct {
	Exchange string `yaml:"exchange"`
	Contract string `yaml:"contract"`
	User     string `yaml:"user"`
}

// StorageConfig locates the durable files shared by the two processes.
type StorageConfig struct {
	FillLogPath   string `yaml:"fill_log_path"`
	StatePath     string `yaml:"state_path"`
	MirrorEnabled bool   `yaml:"mirror_enabled"`
	MirrorPath    string `yaml:"mirror_path"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	EnableMetrics     bool `yaml:"enable_metrics"`
	PollerMetricsPort int  `yaml:"poller_metrics_port"`
	EngineMetricsPort int  `yaml:"engine_metrics_port"`
}

// AlertConfig contains operator alerting settings
type AlertConfig struct {
	Enabled         bool   `yaml:"enabled"`
	SlackWebhookURL Secret `yaml:"slack_webhook_url"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateVenueConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validatePollerConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateEngineConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateStorageConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateVenueConfig() error {
	// The engine runs without a venue; the poller enforces base_url at
	// startup. Here a set value just has to be a URL.
	if c.Venue.BaseURL != "" {
		u, err := url.Parse(c.Venue.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return ValidationError{
				Field:   "venue.base_url",
				Value:   c.Venue.BaseURL,
				Message: "must be an absolute URL",
			}
		}
	}
	if c.Venue.TimeoutSeconds < 1 || c.Venue.TimeoutSeconds > 300 {
		return ValidationError{
			Field:   "venue.timeout_seconds",
			Value:   c.Venue.TimeoutSeconds,
			Message: "must be between 1 and 300",
		}
	}
	if c.Venue.RateLimitRPS < 1 {
		return ValidationError{
			Field:   "venue.rate_limit_rps",
			Value:   c.Venue.RateLimitRPS,
			Message: "must be at least 1",
		}
	}
	return nil
}

func (c *Config) validatePollerConfig() error {
	if c.Poller.IntervalSeconds < 1 {
		return ValidationError{
			Field:   "poller.interval_seconds",
			Value:   c.Poller.IntervalSeconds,
			Message: "must be at least 1",
		}
	}
	if c.Poller.MaxRetries < 1 || c.Poller.MaxRetries > 100 {
		return ValidationError{
			Field:   "poller.max_retries",
			Value:   c.Poller.MaxRetries,
			Message: "must be between 1 and 100",
		}
	}
	if c.Poller.BackoffMultiplier < 1 {
		return ValidationError{
			Field:   "poller.backoff_multiplier",
			Value:   c.Poller.BackoffMultiplier,
			Message: "must be at least 1",
		}
	}
	if c.Poller.DedupWindow < 1 {
		return ValidationError{
			Field:   "poller.dedup_window",
			Value:   c.Poller.DedupWindow,
			Message: "must be at least 1",
		}
	}
	if c.Poller.StartTime != "" {
		if _, err := time.Parse(time.RFC3339, c.Poller.StartTime); err != nil {
			return ValidationError{
				Field:   "poller.start_time",
				Value:   c.Poller.StartTime,
				Message: "must be RFC3339",
			}
		}
	}
	return nil
}

func (c *Config) validateEngineConfig() error {
	if c.Engine.IntervalSeconds < 1 {
		return ValidationError{
			Field:   "engine.interval_seconds",
			Value:   c.Engine.IntervalSeconds,
			Message: "must be at least 1",
		}
	}
	if c.Engine.OutputPath == "" {
		return ValidationError{
			Field:   "engine.output_path",
			Message: "output path is required",
		}
	}
	if _, err := decimal.NewFromString(c.Engine.PointValue); err != nil {
		return ValidationError{
			Field:   "engine.point_value",
			Value:   c.Engine.PointValue,
			Message: "must be a decimal number",
		}
	}
	if c.Engine.DedupWindow < 1 {
		return ValidationError{
			Field:   "engine.dedup_window",
			Value:   c.Engine.DedupWindow,
			Message: "must be at least 1",
		}
	}
	if c.Engine.MaxBatchRows < 1 {
		return ValidationError{
			Field:   "engine.max_batch_rows",
			Value:   c.Engine.MaxBatchRows,
			Message: "must be at least 1",
		}
	}
	if c.Engine.StartTime != "" {
		if _, err := time.Parse(time.RFC3339, c.Engine.StartTime); err != nil {
			return ValidationError{
				Field:   "engine.start_time",
				Value:   c.Engine.StartTime,
				Message: "must be RFC3339",
			}
		}
	}
	return nil
}

func (c *Config) validateStorageConfig() error {
	if c.Storage.FillLogPath == "" {
		return ValidationError{
			Field:   "storage.fill_log_path",
			Message: "fill log path is required",
		}
	}
	if c.Storage.StatePath == "" {
		return ValidationError{
			Field:   "storage.state_path",
			Message: "state path is required",
		}
	}
	if c.Storage.MirrorEnabled && c.Storage.MirrorPath == "" {
		return ValidationError{
			Field:   "storage.mirror_path",
			Message: "mirror path required when mirror is enabled",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// PollerBackoff returns the poller's per-tick fetch retry schedule.
func (c *Config) PollerBackoff() retry.Policy {
	return retry.Policy{
		MaxAttempts:       c.Poller.MaxRetries,
		InitialBackoff:    time.Duration(c.Poller.BackoffInitialMS) * time.Millisecond,
		BackoffMultiplier: c.Poller.BackoffMultiplier,
		MaxBackoff:        time.Duration(c.Poller.BackoffMaxMS) * time.Millisecond,
	}
}

// PointValue returns the engine's per-point dollar multiplier. Validate
// guarantees the stored string parses.
func (c *Config) PointValue() decimal.Decimal {
	v, _ := decimal.NewFromString(c.Engine.PointValue)
	return v
}

// PollerStartTime returns the configured poller boundary, zero when unset.
func (c *Config) PollerStartTime() time.Time {
	return parseTimeOrZero(c.Poller.StartTime)
}

// EngineStartTime returns the configured engine boundary, zero when unset.
func (c *Config) EngineStartTime() time.Time {
	return parseTimeOrZero(c.Engine.StartTime)
}

func parseTimeOrZero(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// String returns a string representation of the configuration. Secret
// fields redact themselves during marshaling.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		value := os.Getenv(key)
		if value == "" && isCriticalEnvVar(key) {
			return ""
		}
		return value
	})
}

// isCriticalEnvVar checks if an environment variable is critical for operation
func isCriticalEnvVar(key string) bool {
	criticalVars := []string{
		"PNL_VENUE_API_KEY", "PNL_SLACK_WEBHOOK_URL",
	}
	return contains(criticalVars, key)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the built-in defaults; a config file overrides
// them field by field.
func DefaultConfig() *Config {
	return &Config{
		Venue: VenueConfig{
			AppName:        "pnl-monitor",
			CompanyName:    "desk",
			TimeoutSeconds: 15,
			RateLimitRPS:   5,
			RateBurst:      5,
		},
		Poller: PollerConfig{
			IntervalSeconds:        10,
			MaxRetries:             3,
			BackoffInitialMS:       1000,
			BackoffMultiplier:      2.0,
			BackoffMaxMS:           30000,
			DedupWindow:            10000,
			MaxConsecutiveFailures: 5,
		},
		Engine: EngineConfig{
			IntervalSeconds: 2,
			OutputPath:      "data/realized_pnl.csv",
			PointValue:      "1000",
			DedupWindow:     10000,
			MaxBatchRows:    5000,
		},
		Storage: StorageConfig{
			FillLogPath: "data/fills.csv",
			StatePath:   "data/engine_state.json",
			MirrorPath:  "data/fills.db",
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			EnableMetrics:     true,
			PollerMetricsPort: 9464,
			EngineMetricsPort: 9465,
		},
	}
}
