package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the engine configuration: credentials, persistence
// location, concurrency ceilings, pacing bounds and retry limits
type Config struct {
	Credentials []string `mapstructure:"credentials"`
	MetricsPath string   `mapstructure:"metrics_path"`

	Concurrency     int `mapstructure:"concurrency"`
	FastConcurrency int `mapstructure:"fast_concurrency"`

	FloorDelay   time.Duration `mapstructure:"floor_delay"`
	CeilingDelay time.Duration `mapstructure:"ceiling_delay"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Gain         float64       `mapstructure:"gain"`

	Timeout         time.Duration `mapstructure:"timeout"`
	Attempts        int           `mapstructure:"attempts"`
	ThrottleDefault time.Duration `mapstructure:"throttle_default"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`

	Fast     bool   `mapstructure:"fast"`
	LogLevel string `mapstructure:"log_level"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value '%v': %s", e.Field, e.Value, e.Message)
}

// EffectiveConcurrency returns the ceiling for the selected mode
func (c *Config) EffectiveConcurrency() int {
	if c.Fast {
		return c.FastConcurrency
	}
	return c.Concurrency
}

// setDefaults registers default values on the viper instance
func setDefaults(v *viper.Viper) {
	v.SetDefault("metrics_path", "data/pacer.db")
	v.SetDefault("concurrency", 5)
	v.SetDefault("fast_concurrency", 10)
	v.SetDefault("floor_delay", 100*time.Millisecond)
	v.SetDefault("ceiling_delay", 30*time.Second)
	v.SetDefault("initial_delay", time.Second)
	v.SetDefault("gain", 0.3)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("attempts", 5)
	v.SetDefault("throttle_default", 60*time.Second)
	v.SetDefault("flush_interval", 30*time.Second)
	v.SetDefault("fast", false)
	v.SetDefault("log_level", "info")
}

// envMappings maps PACER_* environment variables to config keys.
// PACER_CREDENTIALS takes a comma-separated token list so secrets can
// stay out of config files entirely.
var envMappings = map[string]string{
	"PACER_CREDENTIALS":      "credentials",
	"PACER_METRICS_PATH":     "metrics_path",
	"PACER_CONCURRENCY":      "concurrency",
	"PACER_FAST_CONCURRENCY": "fast_concurrency",
	"PACER_FLOOR_DELAY":      "floor_delay",
	"PACER_CEILING_DELAY":    "ceiling_delay",
	"PACER_INITIAL_DELAY":    "initial_delay",
	"PACER_GAIN":             "gain",
	"PACER_TIMEOUT":          "timeout",
	"PACER_ATTEMPTS":         "attempts",
	"PACER_THROTTLE_DEFAULT": "throttle_default",
	"PACER_FLUSH_INTERVAL":   "flush_interval",
	"PACER_FAST":             "fast",
	"PACER_LOG_LEVEL":        "log_level",
}

// Load resolves configuration from defaults, an optional TOML config
// file, and PACER_* environment variables, in ascending precedence
func Load(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("PACER")
	v.AutomaticEnv()
	for envVar, configKey := range envMappings {
		v.BindEnv(configKey, envVar)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate checks the configuration for invalid values. Gain is only
// range-checked loosely here; the pacing controller revalidates and
// repairs it on every use.
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return ValidationError{Field: "concurrency", Value: c.Concurrency,
			Message: "must be positive"}
	}
	if c.FastConcurrency < c.Concurrency {
		return ValidationError{Field: "fast_concurrency", Value: c.FastConcurrency,
			Message: "must be at least the normal concurrency"}
	}
	if c.FloorDelay <= 0 {
		return ValidationError{Field: "floor_delay", Value: c.FloorDelay,
			Message: "must be positive"}
	}
	if c.CeilingDelay < c.FloorDelay {
		return ValidationError{Field: "ceiling_delay", Value: c.CeilingDelay,
			Message: "must be at least the floor delay"}
	}
	if c.Attempts <= 0 {
		return ValidationError{Field: "attempts", Value: c.Attempts,
			Message: "must be positive"}
	}
	if c.Timeout <= 0 {
		return ValidationError{Field: "timeout", Value: c.Timeout,
			Message: "must be positive"}
	}
	return nil
}
