// Package config loads and validates the cartograph configuration file and
// watches the alert-rule toggle file for hot reload.
package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the application.
type Config struct {
	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string `yaml:"logLevel"`

	// APIPort is the port the HTTP API listens on.
	APIPort int `yaml:"apiPort"`

	Storage    StorageConfig    `yaml:"storage"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Governor   GovernorConfig   `yaml:"governor"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// StorageConfig selects and parameterizes the graph store backend.
type StorageConfig struct {
	// Backend is one of memory, bolt or postgres.
	Backend string `yaml:"backend"`

	// BoltPath is the database file path for the bolt backend.
	BoltPath string `yaml:"boltPath"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgresDSN"`
}

// MonitorConfig parameterizes the sync scheduler and event poller.
type MonitorConfig struct {
	// Interval spaces sync cycles: 5m, 15m, 1h or 24h.
	Interval time.Duration `yaml:"interval"`

	// EventPollInterval spaces audit event polls.
	EventPollInterval time.Duration `yaml:"eventPollInterval"`

	// AlertCooldown suppresses a rule that fired until it elapses.
	AlertCooldown time.Duration `yaml:"alertCooldown"`

	// MaxAlertsPerCycle caps dispatch volume per cycle.
	MaxAlertsPerCycle int `yaml:"maxAlertsPerCycle"`

	// WebhookURL, when set, adds a webhook alert dispatcher.
	WebhookURL string `yaml:"webhookURL"`

	// RulesPath is the alert-rule toggle file watched for hot reload.
	RulesPath string `yaml:"rulesPath"`
}

// ReconcilerConfig parameterizes the plan-vs-actual control loop.
type ReconcilerConfig struct {
	// PlanPath and ExecutionPath point at the declared intent files.
	// Both empty disables the reconciler.
	PlanPath      string `yaml:"planPath"`
	ExecutionPath string `yaml:"executionPath"`

	// AutoRemediate enables automatic execution of safe corrective actions.
	AutoRemediate bool `yaml:"autoRemediate"`

	// CostThresholdPct is the cost anomaly threshold in percent.
	CostThresholdPct float64 `yaml:"costThresholdPct"`

	// Interval spaces reconcile cycles.
	Interval time.Duration `yaml:"interval"`
}

// GovernorConfig parameterizes change-request governance.
type GovernorConfig struct {
	// PendingTTL expires unattended pending requests.
	PendingTTL time.Duration `yaml:"pendingTTL"`
}

// TracingConfig parameterizes OpenTelemetry trace export.
type TracingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	TLSCAPath string `yaml:"tlsCAPath"`
}

// Default returns a Config with every field at its default.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		APIPort:  8080,
		Storage: StorageConfig{
			Backend:  "memory",
			BoltPath: "cartograph.db",
		},
		Monitor: MonitorConfig{
			Interval:          15 * time.Minute,
			EventPollInterval: time.Minute,
			AlertCooldown:     30 * time.Minute,
			MaxAlertsPerCycle: 20,
		},
		Reconciler: ReconcilerConfig{
			CostThresholdPct: 20,
			Interval:         15 * time.Minute,
		},
		Governor: GovernorConfig{
			PendingTTL: 24 * time.Hour,
		},
	}
}

// Load reads the YAML config at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse config from %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed for %q: %w", path, err)
	}
	return cfg, nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validSyncIntervals = map[time.Duration]bool{
	5 * time.Minute:  true,
	15 * time.Minute: true,
	time.Hour:        true,
	24 * time.Hour:   true,
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if !validLogLevels[c.LogLevel] {
		return NewConfigError(fmt.Sprintf("LogLevel must be debug, info, warn or error, got %q", c.LogLevel))
	}

	if c.APIPort < 1 || c.APIPort > 65535 {
		return NewConfigError("APIPort must be between 1 and 65535")
	}

	switch c.Storage.Backend {
	case "memory":
	case "bolt":
		if c.Storage.BoltPath == "" {
			return NewConfigError("Storage.BoltPath must be set for the bolt backend")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return NewConfigError("Storage.PostgresDSN must be set for the postgres backend")
		}
	default:
		return NewConfigError(fmt.Sprintf("Storage.Backend must be memory, bolt or postgres, got %q", c.Storage.Backend))
	}

	if !validSyncIntervals[c.Monitor.Interval] {
		return NewConfigError("Monitor.Interval must be one of 5m, 15m, 1h or 24h")
	}

	if c.Monitor.MaxAlertsPerCycle < 1 {
		return NewConfigError("Monitor.MaxAlertsPerCycle must be at least 1")
	}

	if (c.Reconciler.PlanPath == "") != (c.Reconciler.ExecutionPath == "") {
		return NewConfigError("Reconciler.PlanPath and Reconciler.ExecutionPath must be set together")
	}

	if c.Reconciler.CostThresholdPct <= 0 {
		return NewConfigError("Reconciler.CostThresholdPct must be positive")
	}

	if c.Governor.PendingTTL <= 0 {
		return NewConfigError("Governor.PendingTTL must be positive")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return NewConfigError("Tracing.Endpoint must be set when tracing is enabled")
	}

	return nil
}

// ConfigError represents a configuration error.
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message.
func (e *ConfigError) Error() string {
	return e.message
}
