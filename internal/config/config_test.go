package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// TestLoadDefaults tests that default configuration values are loaded correctly.
func TestLoadDefaults(t *testing.T) {
	// Load configuration without a config file
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	// Test Docker defaults
	if cfg.Docker.Host != "" {
		t.Errorf("Expected default docker host '', got '%s'", cfg.Docker.Host)
	}

	// Test Neo4j defaults
	if cfg.Neo4j.Image != "neo4j:5.26-community" {
		t.Errorf("Expected default image 'neo4j:5.26-community', got '%s'", cfg.Neo4j.Image)
	}
	if cfg.Neo4j.Username != "neo4j" {
		t.Errorf("Expected default username 'neo4j', got '%s'", cfg.Neo4j.Username)
	}
	if cfg.Neo4j.Memory != "2G" {
		t.Errorf("Expected default memory '2G', got '%s'", cfg.Neo4j.Memory)
	}
	if cfg.Neo4j.Prefix != "neopod" {
		t.Errorf("Expected default prefix 'neopod', got '%s'", cfg.Neo4j.Prefix)
	}
	if cfg.Neo4j.StartupTimeout != 60*time.Second {
		t.Errorf("Expected default startup timeout 60s, got %v", cfg.Neo4j.StartupTimeout)
	}
	if cfg.Neo4j.StartupInterval != time.Second {
		t.Errorf("Expected default startup interval 1s, got %v", cfg.Neo4j.StartupInterval)
	}
	if cfg.Neo4j.StopTimeout != 30*time.Second {
		t.Errorf("Expected default stop timeout 30s, got %v", cfg.Neo4j.StopTimeout)
	}

	// Test Ports defaults
	if cfg.Ports.BoltBase != 7687 {
		t.Errorf("Expected default bolt base 7687, got %d", cfg.Ports.BoltBase)
	}
	if cfg.Ports.HTTPBase != 7474 {
		t.Errorf("Expected default http base 7474, got %d", cfg.Ports.HTTPBase)
	}

	// Test DataDir default
	if cfg.DataDir == "" {
		t.Error("Expected a non-empty default data_dir")
	}

	// Test Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default logging level 'info', got '%s'", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default logging format 'text', got '%s'", cfg.Logging.Format)
	}
}

// TestValidation tests the configuration validation logic.
func TestValidation(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Neo4j: Neo4jConfig{
				Image:          "neo4j:5.26-community",
				StartupTimeout: time.Minute,
			},
			Ports:   PortsConfig{BoltBase: 7687, HTTPBase: 7474},
			DataDir: "/tmp/neopod",
		}
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
		errMsg    string
	}{
		{
			name:      "valid configuration",
			mutate:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "missing image",
			mutate:    func(c *Config) { c.Neo4j.Image = "" },
			expectErr: true,
			errMsg:    "neo4j image is required",
		},
		{
			name:      "bolt base too low",
			mutate:    func(c *Config) { c.Ports.BoltBase = 0 },
			expectErr: true,
			errMsg:    "invalid bolt base port",
		},
		{
			name:      "http base too high",
			mutate:    func(c *Config) { c.Ports.HTTPBase = 70000 },
			expectErr: true,
			errMsg:    "invalid http base port",
		},
		{
			name:      "missing data dir",
			mutate:    func(c *Config) { c.DataDir = "" },
			expectErr: true,
			errMsg:    "data_dir is required",
		},
		{
			name:      "non-positive startup timeout",
			mutate:    func(c *Config) { c.Neo4j.StartupTimeout = 0 },
			expectErr: true,
			errMsg:    "startup_timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.expectErr {
				if err == nil {
					t.Errorf("Expected error containing '%s', got nil", tt.errMsg)
				} else if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Expected error containing '%s', got '%s'", tt.errMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
			}
		})
	}
}

// TestEnvironmentVariableOverride tests that environment variables override config values.
func TestEnvironmentVariableOverride(t *testing.T) {
	// Save original env vars
	originalImage := os.Getenv("NEOPOD_NEO4J_IMAGE")
	originalLevel := os.Getenv("NEOPOD_LOGGING_LEVEL")

	// Set test env vars
	os.Setenv("NEOPOD_NEO4J_IMAGE", "neo4j:2025.01-community")
	os.Setenv("NEOPOD_LOGGING_LEVEL", "debug")

	// Cleanup after test
	defer func() {
		if originalImage != "" {
			os.Setenv("NEOPOD_NEO4J_IMAGE", originalImage)
		} else {
			os.Unsetenv("NEOPOD_NEO4J_IMAGE")
		}
		if originalLevel != "" {
			os.Setenv("NEOPOD_LOGGING_LEVEL", originalLevel)
		} else {
			os.Unsetenv("NEOPOD_LOGGING_LEVEL")
		}
	}()

	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Neo4j.Image != "neo4j:2025.01-community" {
		t.Errorf("Expected image from environment, got '%s'", cfg.Neo4j.Image)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected logging level 'debug' from environment, got '%s'", cfg.Logging.Level)
	}
}
