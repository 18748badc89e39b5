// ABOUTME: Configuration loading and parsing for chat-gateway
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing, and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chat-gateway configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Backend     BackendConfig     `yaml:"backend"`
	Site        SiteConfig        `yaml:"site"`
	Audit       AuditConfig       `yaml:"audit"`
	Limits      LimitsConfig      `yaml:"limits"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Usage       UsageConfig       `yaml:"usage"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	CORS        CORSConfig        `yaml:"cors"`
}

// ServerConfig holds server address and shutdown configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration.
// URL selects a remote libSQL database and takes precedence over Path.
type DatabaseConfig struct {
	Path      string `yaml:"path"`
	URL       string `yaml:"url"`
	AuthToken string `yaml:"auth_token"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// BackendConfig holds completion backend configuration
type BackendConfig struct {
	BaseURL         string        `yaml:"base_url"`
	DefaultModel    string        `yaml:"default_model"`
	MaxContextTurns int           `yaml:"max_context_turns"`
	Timeout         time.Duration `yaml:"-"`
	FinalizeTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TimeoutRaw         string `yaml:"timeout"`
	FinalizeTimeoutRaw string `yaml:"finalize_timeout"`
}

// SiteConfig is the read-only site snapshot served by the session endpoint
type SiteConfig struct {
	Title      string   `yaml:"title"`
	Notice     string   `yaml:"notice"`
	ChatModels []string `yaml:"chat_models"`
}

// AuditConfig holds the sensitive-content filter configuration
type AuditConfig struct {
	Enabled       bool     `yaml:"enabled"`
	CustomEnabled bool     `yaml:"custom_enabled"`
	Words         []string `yaml:"words"`
}

// LimitsConfig holds per-client-IP admission limits. Zero disables a limit.
type LimitsConfig struct {
	ChatPerHour           int           `yaml:"chat_per_hour"`
	AuthPerMinute         int           `yaml:"auth_per_minute"`
	VerificationPerMinute int           `yaml:"verification_per_minute"`
	VerificationCooldown  time.Duration `yaml:"-"`
	SweepInterval         time.Duration `yaml:"-"`

	VerificationCooldownRaw string `yaml:"verification_cooldown"`
	SweepIntervalRaw        string `yaml:"sweep_interval"`
}

// CredentialsConfig holds credential selection configuration
type CredentialsConfig struct {
	Strategy string `yaml:"strategy"`
}

// UsageConfig holds usage ledger configuration
type UsageConfig struct {
	Timezone string `yaml:"timezone"`
	// MaxDays caps the span of one statistics request
	MaxDays int `yaml:"max_days"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// CORSConfig holds cross-origin configuration
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
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

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills unset fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:3002"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Backend.DefaultModel == "" {
		c.Backend.DefaultModel = "gpt-3.5-turbo"
	}
	if c.Backend.MaxContextTurns == 0 {
		c.Backend.MaxContextTurns = 10
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 10 * time.Minute
	}
	if c.Backend.FinalizeTimeout == 0 {
		c.Backend.FinalizeTimeout = 10 * time.Second
	}
	if c.Limits.VerificationPerMinute == 0 {
		c.Limits.VerificationPerMinute = 1
	}
	if c.Limits.VerificationCooldown == 0 {
		c.Limits.VerificationCooldown = time.Minute
	}
	if c.Limits.SweepInterval == 0 {
		c.Limits.SweepInterval = 10 * time.Minute
	}
	if c.Credentials.Strategy == "" {
		c.Credentials.Strategy = "round_robin"
	}
	if c.Usage.Timezone == "" {
		c.Usage.Timezone = "UTC"
	}
	if c.Usage.MaxDays == 0 {
		c.Usage.MaxDays = 366
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" && c.Database.URL == "" {
		return fmt.Errorf("database.path or database.url is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Backend.MaxContextTurns < 0 {
		return fmt.Errorf("backend.max_context_turns must not be negative")
	}

	if c.Limits.ChatPerHour < 0 || c.Limits.AuthPerMinute < 0 || c.Limits.VerificationPerMinute < 0 {
		return fmt.Errorf("limits must not be negative")
	}

	if !slices.Contains([]string{"round_robin", "first_match"}, c.Credentials.Strategy) {
		return fmt.Errorf("credentials.strategy %q is not one of round_robin, first_match", c.Credentials.Strategy)
	}

	if c.Usage.MaxDays < 0 {
		return fmt.Errorf("usage.max_days must not be negative")
	}

	if _, err := time.LoadLocation(c.Usage.Timezone); err != nil {
		return fmt.Errorf("usage.timezone %q: %w", c.Usage.Timezone, err)
	}

	if !slices.Contains([]string{"text", "json"}, c.Logging.Format) {
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// Location returns the usage timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Usage.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"timeout", cfg.Backend.TimeoutRaw, &cfg.Backend.Timeout},
		{"finalize_timeout", cfg.Backend.FinalizeTimeoutRaw, &cfg.Backend.FinalizeTimeout},
		{"verification_cooldown", cfg.Limits.VerificationCooldownRaw, &cfg.Limits.VerificationCooldown},
		{"sweep_interval", cfg.Limits.SweepIntervalRaw, &cfg.Limits.SweepInterval},
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
