package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies that DefaultConfig returns valid defaults.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Server defaults
	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}

	// Database defaults
	if cfg.Database.Port != 5432 {
		t.Errorf("Expected default postgres port 5432, got %d", cfg.Database.Port)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("Expected max open conns 25, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns != 5 {
		t.Errorf("Expected max idle conns 5, got %d", cfg.Database.MaxIdleConns)
	}

	// Telemetry defaults
	if cfg.Telemetry.Connection != "/dev/ttyUSB0" {
		t.Errorf("Expected serial primary connection, got %s", cfg.Telemetry.Connection)
	}
	if len(cfg.Telemetry.AlternativeConnections) != 3 {
		t.Errorf("Expected 3 fallback connections, got %d", len(cfg.Telemetry.AlternativeConnections))
	}
	if !cfg.Telemetry.AutoReconnect {
		t.Error("Expected auto-reconnect enabled by default")
	}
	if cfg.Telemetry.FreshnessTimeout() != 5*time.Second {
		t.Errorf("Expected 5s freshness timeout, got %v", cfg.Telemetry.FreshnessTimeout())
	}
	if cfg.Telemetry.ReconnectInterval() != 5*time.Second {
		t.Errorf("Expected 5s reconnect interval, got %v", cfg.Telemetry.ReconnectInterval())
	}

	// Solver defaults
	if cfg.Solver.UpdateIntervalSeconds != 2 {
		t.Errorf("Expected update interval 2s, got %d", cfg.Solver.UpdateIntervalSeconds)
	}
	if cfg.Solver.Payload.MassKg != 0.35 {
		t.Errorf("Expected default payload mass 0.35kg, got %f", cfg.Solver.Payload.MassKg)
	}
	if cfg.Solver.Limits.MinReleaseAltitude != 50.0 {
		t.Errorf("Expected 50m release altitude floor, got %f", cfg.Solver.Limits.MinReleaseAltitude)
	}

	// Must self-validate
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config failed validation: %v", err)
	}
}

// TestEndpoints tests the fallback chain ordering.
func TestEndpoints(t *testing.T) {
	tcfg := TelemetryConfig{
		Connection:             "udp:127.0.0.1:14550",
		AlternativeConnections: []string{"/dev/ttyUSB0", "tcp:10.0.0.5:5760"},
	}

	endpoints := tcfg.Endpoints()
	if len(endpoints) != 3 {
		t.Fatalf("Expected 3 endpoints, got %d", len(endpoints))
	}
	if endpoints[0] != "udp:127.0.0.1:14550" {
		t.Errorf("Primary connection must come first, got %s", endpoints[0])
	}
	if endpoints[2] != "tcp:10.0.0.5:5760" {
		t.Errorf("Alternatives must preserve order, got %s", endpoints[2])
	}

	// Empty primary is skipped
	tcfg.Connection = ""
	if got := tcfg.Endpoints(); len(got) != 2 {
		t.Errorf("Expected 2 endpoints without primary, got %d", len(got))
	}
}

// TestLoadNonExistentFile tests that Load returns default config when file doesn't exist.
func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.json")
	if err != nil {
		t.Fatalf("Expected no error for non-existent file, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config, got nil")
	}
	if cfg.Server.Port != "8080" {
		t.Error("Did not get default config for non-existent file")
	}
}

// TestLoadValidConfig tests loading a valid configuration file.
func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.json")

	testConfig := DefaultConfig()
	testConfig.Server.Port = "9090"
	testConfig.Database.Host = "db.example.com"
	testConfig.Telemetry.Connection = "tcp:gcs.local:5760"
	testConfig.Solver.Payload.MassKg = 0.5
	testConfig.Targets = []TargetConfig{
		{Name: "alpha", Latitude: 22.33, Longitude: 114.18, Active: true},
	}

	data, err := json.MarshalIndent(testConfig, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal test config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("Expected db.example.com, got %s", cfg.Database.Host)
	}
	if cfg.Telemetry.Connection != "tcp:gcs.local:5760" {
		t.Errorf("Expected tcp connection, got %s", cfg.Telemetry.Connection)
	}
	if cfg.Solver.Payload.MassKg != 0.5 {
		t.Errorf("Expected payload mass 0.5, got %f", cfg.Solver.Payload.MassKg)
	}
}

// TestLoadPartialConfig tests that omitted sections keep defaults.
func TestLoadPartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.json")

	partial := `{"server": {"port": "9001", "host": "0.0.0.0"}}`
	if err := os.WriteFile(configPath, []byte(partial), 0644); err != nil {
		t.Fatalf("Failed to write partial config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load partial config: %v", err)
	}

	if cfg.Server.Port != "9001" {
		t.Errorf("Expected port 9001, got %s", cfg.Server.Port)
	}
	// Sections not present in the file keep defaults
	if cfg.Telemetry.Connection != "/dev/ttyUSB0" {
		t.Errorf("Expected default telemetry connection, got %s", cfg.Telemetry.Connection)
	}
	if cfg.Solver.Payload.DragCoefficient != 0.47 {
		t.Errorf("Expected default drag coefficient, got %f", cfg.Solver.Payload.DragCoefficient)
	}
}

// TestLoadInvalidJSON tests error handling for malformed JSON.
func TestLoadInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.json")

	if err := os.WriteFile(configPath, []byte("{ invalid json }"), 0644); err != nil {
		t.Fatalf("Failed to write invalid config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Expected error for invalid JSON, got nil")
	}
	if err != nil && !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("Expected parse error, got: %v", err)
	}
}

// TestLoadRejectsInvalidValues tests that Validate runs on load.
func TestLoadRejectsInvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad-values.json")

	cfg := DefaultConfig()
	cfg.Solver.Payload.MassKg = -1.0

	data, _ := json.Marshal(cfg)
	os.WriteFile(configPath, data, 0644)

	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for negative payload mass, got nil")
	}
}

// TestSaveConfig tests saving configuration to file.
func TestSaveConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "saved-config.json")

	cfg := DefaultConfig()
	cfg.Server.Port = "9999"
	cfg.Targets[0].Name = "saved-target"

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created")
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if loaded.Server.Port != "9999" {
		t.Errorf("Expected port 9999, got %s", loaded.Server.Port)
	}
	if loaded.Targets[0].Name != "saved-target" {
		t.Errorf("Expected target 'saved-target', got %s", loaded.Targets[0].Name)
	}
}

// TestSaveConfigCreatesDirectory tests that Save creates missing directories.
func TestSaveConfigCreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "dir", "config.json")

	cfg := DefaultConfig()
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Failed to save config with nested directory: %v", err)
	}

	if _, err := os.Stat(filepath.Dir(configPath)); os.IsNotExist(err) {
		t.Error("Directory was not created")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}
}

// TestEnvironmentOverrides tests environment variable overrides.
func TestEnvironmentOverrides(t *testing.T) {
	os.Setenv("DROP_SCOPE_PORT", "7777")
	os.Setenv("DROP_SCOPE_JWT_SECRET", "env-secret")
	os.Setenv("DROP_SCOPE_DB_PASSWORD", "env-password")
	os.Setenv("DROP_SCOPE_TELEMETRY_CONNECTION", "udp:override:14550")
	defer func() {
		os.Unsetenv("DROP_SCOPE_PORT")
		os.Unsetenv("DROP_SCOPE_JWT_SECRET")
		os.Unsetenv("DROP_SCOPE_DB_PASSWORD")
		os.Unsetenv("DROP_SCOPE_TELEMETRY_CONNECTION")
	}()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	testCfg := DefaultConfig()
	testCfg.Server.Port = "8080"
	testCfg.Database.Password = "original-password"

	data, _ := json.Marshal(testCfg)
	os.WriteFile(configPath, data, 0644)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != "7777" {
		t.Errorf("Expected port 7777 from env, got %s", cfg.Server.Port)
	}
	if cfg.Server.JWTSecret != "env-secret" {
		t.Errorf("Expected JWT secret from env, got %s", cfg.Server.JWTSecret)
	}
	if cfg.Database.Password != "env-password" {
		t.Errorf("Expected env-password from env, got %s", cfg.Database.Password)
	}
	if cfg.Telemetry.Connection != "udp:override:14550" {
		t.Errorf("Expected telemetry connection from env, got %s", cfg.Telemetry.Connection)
	}
}

// TestActiveTarget tests active target selection.
func TestActiveTarget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Targets = []TargetConfig{
		{Name: "alpha", Active: false},
		{Name: "bravo", Active: true},
		{Name: "charlie", Active: true},
	}

	target := cfg.ActiveTarget()
	if target == nil {
		t.Fatal("Expected an active target")
	}
	// First active target wins
	if target.Name != "bravo" {
		t.Errorf("Expected bravo, got %s", target.Name)
	}

	cfg.Targets = []TargetConfig{{Name: "alpha", Active: false}}
	if cfg.ActiveTarget() != nil {
		t.Error("Expected nil when no target is active")
	}
}

// TestValidate tests configuration validation rules.
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"No endpoints", func(c *Config) {
			c.Telemetry.Connection = ""
			c.Telemetry.AlternativeConnections = nil
		}},
		{"Zero update interval", func(c *Config) { c.Solver.UpdateIntervalSeconds = 0 }},
		{"Zero solve rate", func(c *Config) { c.Solver.MaxSolvesPerSecond = 0 }},
		{"Negative payload mass", func(c *Config) { c.Solver.Payload.MassKg = -0.1 }},
		{"Unnamed target", func(c *Config) { c.Targets[0].Name = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

// TestConfigRoundTrip tests saving and loading config preserves data.
func TestConfigRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "roundtrip.json")

	original := DefaultConfig()
	original.Server.Port = "3000"
	original.Telemetry.AlternativeConnections = []string{"udp:10.0.0.1:14550"}
	original.Solver.Payload.CrossSectionM2 = 0.004
	original.Targets = []TargetConfig{
		{Name: "roundtrip", Latitude: 35.0, Longitude: -80.0, Altitude: 120, Active: true},
	}

	if err := original.Save(configPath); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	if loaded.Server.Port != original.Server.Port {
		t.Error("Port not preserved in round trip")
	}
	if len(loaded.Telemetry.AlternativeConnections) != 1 {
		t.Error("Fallback connections not preserved in round trip")
	}
	if loaded.Solver.Payload.CrossSectionM2 != 0.004 {
		t.Error("Payload characteristics not preserved in round trip")
	}
	if loaded.Targets[0].Altitude != 120 {
		t.Error("Target altitude not preserved in round trip")
	}
}
