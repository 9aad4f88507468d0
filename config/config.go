// Package config provides application configuration loading and validation.
// The entity configuration tree itself is parsed by core/schema; this
// package only says where to find it and how to serve it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Configuration ConfigurationSource `yaml:"configuration"`
	I18n          I18nConfig          `yaml:"i18n"`
	Database      DatabaseConfig      `yaml:"database"`
	Analytics     AnalyticsConfig     `yaml:"analytics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Prefix       string        `yaml:"prefix"`        // Entity route prefix (default: /api)
	MaxPageSize  int           `yaml:"max_page_size"`  // Upper bound of the size query parameter
	MaxBodyBytes int64         `yaml:"max_body_bytes"` // Largest accepted request body (default: 1 MiB)
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// ConfigurationSource locates the entity configuration tree.
type ConfigurationSource struct {
	Path  string `yaml:"path"`  // YAML file or directory of YAML files
	Watch bool   `yaml:"watch"` // Rebuild the pipeline when the tree changes
}

// I18nConfig configures message catalogs.
type I18nConfig struct {
	Dir             string `yaml:"dir"`              // Directory of <lang>.yaml catalogs; empty disables translation
	DefaultLanguage string `yaml:"default_language"` // Fallback language (default: en)
}

// DatabaseConfig configures the default sqlite database. Providers of
// type sqlite that do not set a dsn use this one.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AnalyticsConfig configures the operation journal.
type AnalyticsConfig struct {
	Enabled   bool          `yaml:"enabled"`   // Record every entity operation
	DSN       string        `yaml:"dsn"`       // Journal database (default: entitygate-analytics.db)
	Retention time.Duration `yaml:"retention"` // Delete older events; zero keeps everything
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for container deployments where no config file is needed.
//
// Environment variables:
//
//	ENTITYGATE_CONFIGURATION_PATH  - Entity configuration file or directory (required)
//	ENTITYGATE_CONFIGURATION_WATCH - Reload on change (default: false)
//	ENTITYGATE_SERVER_HOST         - Server host (default: 0.0.0.0)
//	ENTITYGATE_SERVER_PORT         - Server port (default: 8080)
//	ENTITYGATE_SERVER_PREFIX       - Entity route prefix (default: /api)
//	ENTITYGATE_DATABASE_DSN        - Default sqlite database (default: entitygate.db)
//	ENTITYGATE_I18N_DIR            - Message catalog directory
//	ENTITYGATE_I18N_DEFAULT        - Fallback language (default: en)
//	ENTITYGATE_LOG_LEVEL           - Log level: debug, info, warn, error (default: info)
//	ENTITYGATE_LOG_FORMAT          - Log format: json or console (default: json)
//	ENTITYGATE_METRICS_ENABLED     - Enable /metrics endpoint (default: false)
//	ENTITYGATE_ANALYTICS_ENABLED   - Record entity operations (default: false)
//	ENTITYGATE_ANALYTICS_DSN       - Journal database (default: entitygate-analytics.db)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if HasEnvConfig() {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide config file or set ENTITYGATE_CONFIGURATION_PATH")
}

// HasEnvConfig returns true if essential environment variables are set.
func HasEnvConfig() bool {
	return os.Getenv("ENTITYGATE_CONFIGURATION_PATH") != ""
}

// applyEnvOverrides applies ENTITYGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("ENTITYGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ENTITYGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ENTITYGATE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("ENTITYGATE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}
	if v := os.Getenv("ENTITYGATE_SERVER_PREFIX"); v != "" {
		cfg.Server.Prefix = v
	}
	if v := os.Getenv("ENTITYGATE_SERVER_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Server.MaxBodyBytes = n
		}
	}

	// Entity configuration source
	if v := os.Getenv("ENTITYGATE_CONFIGURATION_PATH"); v != "" {
		cfg.Configuration.Path = v
	}
	if v := os.Getenv("ENTITYGATE_CONFIGURATION_WATCH"); v != "" {
		cfg.Configuration.Watch = parseBool(v)
	}

	// I18n configuration
	if v := os.Getenv("ENTITYGATE_I18N_DIR"); v != "" {
		cfg.I18n.Dir = v
	}
	if v := os.Getenv("ENTITYGATE_I18N_DEFAULT"); v != "" {
		cfg.I18n.DefaultLanguage = v
	}

	// Database configuration
	if v := os.Getenv("ENTITYGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Logging configuration
	if v := os.Getenv("ENTITYGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ENTITYGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("ENTITYGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("ENTITYGATE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}

	// Analytics configuration
	if v := os.Getenv("ENTITYGATE_ANALYTICS_ENABLED"); v != "" {
		cfg.Analytics.Enabled = parseBool(v)
	}
	if v := os.Getenv("ENTITYGATE_ANALYTICS_DSN"); v != "" {
		cfg.Analytics.DSN = v
	}
	if v := os.Getenv("ENTITYGATE_ANALYTICS_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Analytics.Retention = d
		}
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.Prefix == "" {
		cfg.Server.Prefix = "/api"
	}
	if cfg.Server.MaxPageSize == 0 {
		cfg.Server.MaxPageSize = 1000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "entitygate.db"
	}

	if cfg.I18n.DefaultLanguage == "" {
		cfg.I18n.DefaultLanguage = "en"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Analytics.DSN == "" {
		cfg.Analytics.DSN = "entitygate-analytics.db"
	}
}

func validate(cfg *Config) error {
	if cfg.Configuration.Path == "" {
		return fmt.Errorf("configuration.path is required")
	}

	if !strings.HasPrefix(cfg.Server.Prefix, "/") {
		return fmt.Errorf("server.prefix must start with '/', got %q", cfg.Server.Prefix)
	}
	if cfg.Server.MaxPageSize < 0 {
		return fmt.Errorf("server.max_page_size must not be negative")
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", cfg.Metrics.Path)
	}

	if cfg.Analytics.Retention < 0 {
		return fmt.Errorf("analytics.retention must not be negative")
	}

	return nil
}
