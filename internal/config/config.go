// Package config provides configuration management for neopod.
//
// Configuration is loaded in the following order (later sources override
// earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration files (./config.yaml, ~/.neopod/config.yaml, /etc/neopod/config.yaml)
//  3. .env files
//  4. Environment variables (NEOPOD_ prefix)
//
// Environment variables use underscores for nested keys:
//   - NEOPOD_DOCKER_HOST=unix:///var/run/docker.sock
//   - NEOPOD_NEO4J_IMAGE=neo4j:5.26-community
//   - NEOPOD_LOGGING_LEVEL=debug
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure for neopod.
type Config struct {
	// Docker contains container runtime connection settings
	Docker DockerConfig `mapstructure:"docker"`

	// Neo4j contains database image and readiness settings
	Neo4j Neo4jConfig `mapstructure:"neo4j"`

	// Ports contains port allocation settings
	Ports PortsConfig `mapstructure:"ports"`

	// DataDir is the directory holding the port allocation table and staging space
	DataDir string `mapstructure:"data_dir"`

	// Logging contains logging settings
	Logging LoggingConfig `mapstructure:"logging"`
}

// DockerConfig contains container runtime connection settings.
type DockerConfig struct {
	// Host is the Docker daemon address; empty means environment discovery
	// with socket fallbacks
	Host string `mapstructure:"host"`
}

// Neo4jConfig contains database image and readiness settings.
type Neo4jConfig struct {
	// Image is the container image used for new instances
	Image string `mapstructure:"image"`

	// Username is the default database user
	Username string `mapstructure:"username"`

	// Memory is the default heap size (e.g. "2G")
	Memory string `mapstructure:"memory"`

	// Prefix is the default container name prefix
	Prefix string `mapstructure:"prefix"`

	// StartupTimeout bounds the readiness wait after a container starts
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`

	// StartupInterval is the delay between readiness probes
	StartupInterval time.Duration `mapstructure:"startup_interval"`

	// StopTimeout is the grace period given to a stopping container
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// PortsConfig contains port allocation settings.
type PortsConfig struct {
	// BoltBase is the lowest candidate bolt port
	BoltBase int `mapstructure:"bolt_base"`

	// HTTPBase is the lowest candidate HTTP port
	HTTPBase int `mapstructure:"http_base"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format"`
}

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for config.yaml in standard locations.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (NEOPOD_ prefix)
//  2. .env file
//  3. Configuration file
//  4. Default values
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.neopod")
		v.AddConfigPath("/etc/neopod")
	}

	if err := v.ReadInConfig(); err != nil {
		// If config file was explicitly specified, fail on any error other
		// than the file being absent; with auto-discovery only fail on
		// errors other than ConfigFileNotFoundError
		if cfgFile != "" {
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig() // Ignore error if .env file doesn't exist

	v.SetEnvPrefix("NEOPOD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("docker.host", "")

	v.SetDefault("neo4j.image", "neo4j:5.26-community")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.memory", "2G")
	v.SetDefault("neo4j.prefix", "neopod")
	v.SetDefault("neo4j.startup_timeout", "60s")
	v.SetDefault("neo4j.startup_interval", "1s")
	v.SetDefault("neo4j.stop_timeout", "30s")

	v.SetDefault("ports.bolt_base", 7687)
	v.SetDefault("ports.http_base", 7474)

	v.SetDefault("data_dir", defaultDataDir())

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".neopod"
	}
	return filepath.Join(home, ".neopod")
}

func validate(cfg *Config) error {
	if cfg.Neo4j.Image == "" {
		return fmt.Errorf("neo4j image is required")
	}

	if cfg.Ports.BoltBase < 1 || cfg.Ports.BoltBase > 65535 {
		return fmt.Errorf("invalid bolt base port: %d", cfg.Ports.BoltBase)
	}

	if cfg.Ports.HTTPBase < 1 || cfg.Ports.HTTPBase > 65535 {
		return fmt.Errorf("invalid http base port: %d", cfg.Ports.HTTPBase)
	}

	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if cfg.Neo4j.StartupTimeout <= 0 {
		return fmt.Errorf("neo4j startup_timeout must be positive")
	}

	return nil
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
