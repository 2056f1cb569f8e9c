package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/unklstewy/drop-scope/pkg/ballistics"
	"github.com/unklstewy/drop-scope/pkg/release"
)

// Config represents the complete application configuration.
// Configuration can be loaded from a file, with environment overrides
// for sensitive values.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Solver    SolverConfig    `json:"solver"`
	Targets   []TargetConfig  `json:"targets"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port string `json:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host"`

	// JWTSecret signs API session tokens (should be loaded from environment)
	JWTSecret string `json:"jwt_secret"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Host is the database server hostname
	Host string `json:"host"`

	// Port is the database server port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// Username for database authentication
	Username string `json:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns"`
}

// TelemetryConfig contains flight-control link settings.
type TelemetryConfig struct {
	// Connection is the primary transport endpoint: a serial device path,
	// "udp:host:port", or "tcp:host:port"
	Connection string `json:"connection"`

	// AlternativeConnections are tried in order when the primary fails.
	// Multiple endpoints can be configured for redundancy.
	AlternativeConnections []string `json:"alternative_connections"`

	// ConnectTimeoutSeconds bounds a single transport open attempt
	ConnectTimeoutSeconds int `json:"connect_timeout_seconds"`

	// MessageTimeoutSeconds bounds a single receive wait
	MessageTimeoutSeconds int `json:"message_timeout_seconds"`

	// FreshnessTimeoutSeconds is how old cached telemetry may be before
	// snapshots are reported stale
	FreshnessTimeoutSeconds int `json:"freshness_timeout_seconds"`

	// AutoReconnect determines if a dropped link is retried until shutdown
	AutoReconnect bool `json:"auto_reconnect"`

	// ReconnectIntervalSeconds is the fixed wait between reconnect attempts
	ReconnectIntervalSeconds int `json:"reconnect_interval_seconds"`
}

// ConnectTimeout returns the transport open timeout as a duration.
func (t TelemetryConfig) ConnectTimeout() time.Duration {
	return time.Duration(t.ConnectTimeoutSeconds) * time.Second
}

// MessageTimeout returns the receive wait timeout as a duration.
func (t TelemetryConfig) MessageTimeout() time.Duration {
	return time.Duration(t.MessageTimeoutSeconds) * time.Second
}

// FreshnessTimeout returns the staleness threshold as a duration.
func (t TelemetryConfig) FreshnessTimeout() time.Duration {
	return time.Duration(t.FreshnessTimeoutSeconds) * time.Second
}

// ReconnectInterval returns the reconnect backoff as a duration.
func (t TelemetryConfig) ReconnectInterval() time.Duration {
	return time.Duration(t.ReconnectIntervalSeconds) * time.Second
}

// Endpoints returns the primary connection followed by the alternatives,
// in the order the service walks the fallback chain.
func (t TelemetryConfig) Endpoints() []string {
	endpoints := make([]string, 0, 1+len(t.AlternativeConnections))
	if t.Connection != "" {
		endpoints = append(endpoints, t.Connection)
	}
	return append(endpoints, t.AlternativeConnections...)
}

// SolverConfig contains release calculation settings.
type SolverConfig struct {
	// UpdateIntervalSeconds is how often the service recomputes the solution
	UpdateIntervalSeconds int `json:"update_interval_seconds"`

	// MaxSolvesPerSecond limits the combined solve rate across the service
	// loop and API requests
	MaxSolvesPerSecond float64 `json:"max_solves_per_second"`

	// Payload describes the drop body
	Payload ballistics.Characteristics `json:"payload"`

	// Limits are the flight-envelope validation thresholds
	Limits release.Limits `json:"limits"`
}

// UpdateInterval returns the solve cadence as a duration.
func (s SolverConfig) UpdateInterval() time.Duration {
	return time.Duration(s.UpdateIntervalSeconds) * time.Second
}

// TargetConfig represents a named ground target.
type TargetConfig struct {
	// Name is a friendly identifier for this target
	Name string `json:"name"`

	// Latitude in decimal degrees (-90 to +90)
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees (-180 to +180)
	Longitude float64 `json:"longitude"`

	// Altitude in meters above the shared reference datum
	Altitude float64 `json:"altitude"`

	// Description is free text for operators
	Description string `json:"description,omitempty"`

	// Active marks the target the service loop solves for
	Active bool `json:"active"`
}

// Load reads configuration from a JSON file.
// If the file doesn't exist, returns a default configuration.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal over defaults so omitted sections keep working values
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      "8080",
			Host:      "0.0.0.0",
			JWTSecret: "dev-secret-change-in-production",
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "dropscope",
			Username:     "dropscope",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Telemetry: TelemetryConfig{
			Connection: "/dev/ttyUSB0",
			AlternativeConnections: []string{
				"/dev/ttyAMA0",
				"/dev/ttyS0",
				"udp:127.0.0.1:14550",
			},
			ConnectTimeoutSeconds:    10,
			MessageTimeoutSeconds:    5,
			FreshnessTimeoutSeconds:  5,
			AutoReconnect:            true,
			ReconnectIntervalSeconds: 5,
		},
		Solver: SolverConfig{
			UpdateIntervalSeconds: 2,
			MaxSolvesPerSecond:    2.0,
			Payload:               ballistics.DefaultCharacteristics(),
			Limits:                release.DefaultLimits(),
		},
		Targets: []TargetConfig{
			{
				Name:        "range-target-1",
				Latitude:    22.3293,
				Longitude:   114.1794,
				Altitude:    0.0,
				Description: "Primary range target",
				Active:      true,
			},
		},
	}
}

// Validate checks the configuration for values the services cannot run with.
func (c *Config) Validate() error {
	if len(c.Telemetry.Endpoints()) == 0 {
		return fmt.Errorf("telemetry: no connection endpoints configured")
	}
	if c.Solver.UpdateIntervalSeconds <= 0 {
		return fmt.Errorf("solver: update_interval_seconds must be positive, got %d",
			c.Solver.UpdateIntervalSeconds)
	}
	if c.Solver.MaxSolvesPerSecond <= 0 {
		return fmt.Errorf("solver: max_solves_per_second must be positive, got %v",
			c.Solver.MaxSolvesPerSecond)
	}
	if err := c.Solver.Payload.Validate(); err != nil {
		return fmt.Errorf("solver payload: %w", err)
	}
	for i, target := range c.Targets {
		if target.Name == "" {
			return fmt.Errorf("target %d: name is required", i)
		}
	}
	return nil
}

// ActiveTarget returns the target the service loop should solve for,
// or nil when no target is marked active.
func (c *Config) ActiveTarget() *TargetConfig {
	for i := range c.Targets {
		if c.Targets[i].Active {
			return &c.Targets[i]
		}
	}
	return nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows sensitive data like passwords to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("DROP_SCOPE_PORT"); port != "" {
		c.Server.Port = port
	}
	if secret := os.Getenv("DROP_SCOPE_JWT_SECRET"); secret != "" {
		c.Server.JWTSecret = secret
	}
	if dbPassword := os.Getenv("DROP_SCOPE_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if conn := os.Getenv("DROP_SCOPE_TELEMETRY_CONNECTION"); conn != "" {
		c.Telemetry.Connection = conn
	}
}
