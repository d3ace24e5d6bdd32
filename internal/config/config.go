// ABOUTME: Configuration loading and parsing for agi-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete agi-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	AGI      AGIConfig      `yaml:"agi"`
	Apps     AppsConfig     `yaml:"apps"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds listener address configuration
type ServerConfig struct {
	// FastAGIAddr is the TCP address Asterisk connects to (agi:// dialplan target)
	FastAGIAddr string `yaml:"fastagi_addr"`
	// HTTPAddr serves health checks and the call/CDR API
	HTTPAddr string `yaml:"http_addr"`
	// MaxConns caps concurrent AGI connections; 0 means unlimited
	MaxConns int `yaml:"max_conns"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	// APISecret signs API bearer tokens. Empty leaves the API open.
	APISecret string `yaml:"api_secret"`
}

// AGIConfig holds protocol engine configuration
type AGIConfig struct {
	CommandTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	CommandTimeoutRaw string `yaml:"command_timeout"`
}

// AppsConfig binds network scripts to built-in applications
type AppsConfig struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig maps one agi_network_script value (exact or glob pattern) to a
// built-in application
type RouteConfig struct {
	Script string `yaml:"script"`
	App    string `yaml:"app"`
	// Target is an app-specific parameter, e.g. the dial string for dialout
	Target string `yaml:"target"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.FastAGIAddr == "" {
		return fmt.Errorf("server.fastagi_addr is required")
	}
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Server.MaxConns < 0 {
		return fmt.Errorf("server.max_conns must not be negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	for i, route := range c.Apps.Routes {
		if route.Script == "" {
			return fmt.Errorf("apps.routes[%d].script is required", i)
		}
		if route.App == "" {
			return fmt.Errorf("apps.routes[%d].app is required", i)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.AGI.CommandTimeoutRaw != "" {
		cfg.AGI.CommandTimeout, err = time.ParseDuration(cfg.AGI.CommandTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing command_timeout %q: %w", cfg.AGI.CommandTimeoutRaw, err)
		}
	}

	return nil
}
