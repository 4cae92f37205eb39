// Package config defines the service configuration, its defaults,
// validation, and YAML loading with environment overrides.
package config

import "time"

// Config is the root configuration for the custodian service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Services  []ServiceConfig `yaml:"services"`
	Playstats PlaystatsConfig `yaml:"playstats"`
	Rules     RulesConfig     `yaml:"rules"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	// ListenAddress is the host:port the API binds to.
	ListenAddress string `yaml:"listen_address"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig configures the persistence backends.
type StorageConfig struct {
	// Backend selects "sqlite" or "memory".
	Backend string `yaml:"backend"`

	// RulesPath is the SQLite file for the rule store.
	RulesPath string `yaml:"rules_path"`

	// ActionsPath is the SQLite file for pending actions and results.
	ActionsPath string `yaml:"actions_path"`

	// BusyTimeout is the SQLite lock wait.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// ServiceConfig describes one media-management service instance.
type ServiceConfig struct {
	// ID is the operator-assigned identifier rules can target.
	ID string `yaml:"id"`

	// Type is "radarr" or "sonarr".
	Type string `yaml:"type"`

	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`

	// Default marks this instance as the target for rules of its media
	// types that do not pin a service.
	Default bool `yaml:"default"`
}

// PlaystatsConfig configures the watch-activity service client.
type PlaystatsConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// RulesConfig configures rule seeding.
type RulesConfig struct {
	// SeedPath is an optional YAML file of rules loaded at startup and
	// upserted by name.
	SeedPath string `yaml:"seed_path"`

	// Watch reloads the seed file on change.
	Watch bool `yaml:"watch"`
}

// TelemetryConfig groups logging, metrics, and tracing.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}
