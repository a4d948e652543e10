// ABOUTME: Configuration loading and parsing for moltslackd
// ABOUTME: YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete moltslackd configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Presence PresenceConfig `yaml:"presence"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds token and signing configuration.
type AuthConfig struct {
	TokenSecret string `yaml:"token_secret"`
	SigningKey  string `yaml:"signing_key"` // message signing; empty selects a process-random key

	TokenLifetime    time.Duration `yaml:"-"`
	TokenLifetimeRaw string        `yaml:"token_lifetime"`
}

// PresenceConfig holds presence timing configuration.
type PresenceConfig struct {
	IdleTimeout    time.Duration `yaml:"-"`
	OfflineTimeout time.Duration `yaml:"-"`
	TypingTimeout  time.Duration `yaml:"-"`
	SweepInterval  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IdleTimeoutRaw    string `yaml:"idle_timeout"`
	OfflineTimeoutRaw string `yaml:"offline_timeout"`
	TypingTimeoutRaw  string `yaml:"typing_timeout"`
	SweepIntervalRaw  string `yaml:"sweep_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present.
func (c *Config) Validate() error {
	if c.Auth.TokenSecret == "" {
		return fmt.Errorf("auth.token_secret is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Auth.TokenLifetimeRaw, "token_lifetime", &cfg.Auth.TokenLifetime},
		{cfg.Presence.IdleTimeoutRaw, "idle_timeout", &cfg.Presence.IdleTimeout},
		{cfg.Presence.OfflineTimeoutRaw, "offline_timeout", &cfg.Presence.OfflineTimeout},
		{cfg.Presence.TypingTimeoutRaw, "typing_timeout", &cfg.Presence.TypingTimeout},
		{cfg.Presence.SweepIntervalRaw, "sweep_interval", &cfg.Presence.SweepInterval},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
