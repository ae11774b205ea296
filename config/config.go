package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration for the marketplace server.
// Values come from an optional YAML file, with environment variables
// taking precedence over both the file and the built-in defaults.
type Config struct {
	Port        string `yaml:"port"`
	StoreDriver string `yaml:"store_driver"`
	PostgresDSN string `yaml:"postgres_dsn"`
	AdminEmail  string `yaml:"admin_email"`
	LogLevel    string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:        "8085",
		StoreDriver: "memory",
		AdminEmail:  "admin@microtask.local",
		LogLevel:    "info",
	}
}

// Load reads the configuration file at path, if present, and applies
// environment overrides. A missing file is not an error; a malformed
// one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MARKET_PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("MARKET_STORE_DRIVER"); v != "" {
		c.StoreDriver = v
	}
	if v := os.Getenv("MARKET_POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("MARKET_ADMIN_EMAIL"); v != "" {
		c.AdminEmail = v
	}
	if v := os.Getenv("MARKET_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) normalize() {
	c.Port = strings.TrimSpace(c.Port)
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.PostgresDSN = strings.TrimSpace(c.PostgresDSN)
	c.AdminEmail = strings.ToLower(strings.TrimSpace(c.AdminEmail))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

func (c Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	switch c.StoreDriver {
	case "memory":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store_driver must be 'memory' or 'postgres'")
	}
	if c.AdminEmail == "" {
		return fmt.Errorf("admin_email is required")
	}
	return nil
}
