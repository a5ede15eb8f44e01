// Package config provides configuration management for the memory graph
// server. Settings come from three layers, lowest precedence first: built-in
// defaults, an optional YAML config file, and environment variables with the
// MEMGRAPH_ prefix.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the application.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	// Engine selects the storage backend: sqlite or postgres (default: sqlite).
	Engine string `yaml:"engine"`
	// DataPath is the directory holding the sqlite database file (default: ./data).
	DataPath string `yaml:"data_path"`
	// PostgresDSN is the connection string used when Engine is postgres.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ServerConfig contains MCP server configuration.
type ServerConfig struct {
	// Name is the server name reported during the MCP initialize handshake.
	Name string `yaml:"name"`
	// MaxMessageBytes bounds the size of a single JSON-RPC line on stdin.
	MaxMessageBytes int `yaml:"max_message_bytes"`
}

// LoadConfig loads configuration from defaults, an optional YAML file, and
// environment variables, in that order of precedence. The config file path is
// taken from MEMGRAPH_CONFIG_FILE; when unset, no file is read.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("MEMGRAPH_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite":
		if c.Storage.DataPath == "" {
			return fmt.Errorf("config: data_path is required for the sqlite engine")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: postgres_dsn is required for the postgres engine")
		}
	default:
		return fmt.Errorf("config: unknown storage engine %q (expected sqlite or postgres)", c.Storage.Engine)
	}
	if c.Server.MaxMessageBytes < 1024 {
		return fmt.Errorf("config: max_message_bytes must be at least 1024, got %d", c.Server.MaxMessageBytes)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Server: ServerConfig{
			Name:            "memory-graph-mcp",
			MaxMessageBytes: 4 * 1024 * 1024,
		},
	}
}

// loadFile merges settings from a YAML file over the current values. Fields
// absent from the file keep their current value.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides settings from MEMGRAPH_-prefixed environment variables.
func (c *Config) applyEnv() {
	c.Storage.Engine = getEnv("MEMGRAPH_STORAGE_ENGINE", c.Storage.Engine)
	c.Storage.DataPath = getEnv("MEMGRAPH_DATA_PATH", c.Storage.DataPath)
	c.Storage.PostgresDSN = getEnv("MEMGRAPH_POSTGRES_DSN", c.Storage.PostgresDSN)
	c.Server.Name = getEnv("MEMGRAPH_SERVER_NAME", c.Server.Name)
	c.Server.MaxMessageBytes = getEnvInt("MEMGRAPH_MAX_MESSAGE_BYTES", c.Server.MaxMessageBytes)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. If the environment variable exists but cannot be parsed as an
// integer, it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
