// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

const minimalConfig = `
database:
  path: "./test.db"
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
`

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
  shutdown_timeout: "5s"

database:
  path: "./test.db"

auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"

backend:
  base_url: "http://localhost:9999/v1"
  default_model: "gpt-4o"
  max_context_turns: 4
  timeout: "2m"
  finalize_timeout: "3s"

site:
  title: "Test Chat"
  chat_models:
    - "gpt-4o"
    - "gpt-4o-mini"

audit:
  enabled: false
  custom_enabled: true
  words:
    - "forbidden"

limits:
  chat_per_hour: 100
  auth_per_minute: 5
  verification_cooldown: "90s"

credentials:
  strategy: "first_match"

usage:
  timezone: "Asia/Shanghai"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"

cors:
  allowed_origins:
    - "https://chat.example.com"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want %v", cfg.Server.ShutdownTimeout, 5*time.Second)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Backend.BaseURL != "http://localhost:9999/v1" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.MaxContextTurns != 4 {
		t.Errorf("Backend.MaxContextTurns = %d, want 4", cfg.Backend.MaxContextTurns)
	}
	if cfg.Backend.Timeout != 2*time.Minute {
		t.Errorf("Backend.Timeout = %v, want %v", cfg.Backend.Timeout, 2*time.Minute)
	}
	if cfg.Backend.FinalizeTimeout != 3*time.Second {
		t.Errorf("Backend.FinalizeTimeout = %v, want %v", cfg.Backend.FinalizeTimeout, 3*time.Second)
	}
	if len(cfg.Site.ChatModels) != 2 {
		t.Errorf("Site.ChatModels len = %d, want 2", len(cfg.Site.ChatModels))
	}
	if cfg.Audit.Enabled || !cfg.Audit.CustomEnabled {
		t.Errorf("Audit = %+v, want custom only", cfg.Audit)
	}
	if len(cfg.Audit.Words) != 1 {
		t.Errorf("Audit.Words len = %d, want 1", len(cfg.Audit.Words))
	}
	if cfg.Limits.ChatPerHour != 100 || cfg.Limits.AuthPerMinute != 5 {
		t.Errorf("Limits = %+v", cfg.Limits)
	}
	if cfg.Limits.VerificationCooldown != 90*time.Second {
		t.Errorf("Limits.VerificationCooldown = %v, want %v", cfg.Limits.VerificationCooldown, 90*time.Second)
	}
	if cfg.Credentials.Strategy != "first_match" {
		t.Errorf("Credentials.Strategy = %q, want first_match", cfg.Credentials.Strategy)
	}
	if cfg.Location().String() != "Asia/Shanghai" {
		t.Errorf("Location() = %v, want Asia/Shanghai", cfg.Location())
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if len(cfg.CORS.AllowedOrigins) != 1 {
		t.Errorf("CORS.AllowedOrigins len = %d, want 1", len(cfg.CORS.AllowedOrigins))
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:3002" {
		t.Errorf("Server.HTTPAddr = %q, want default", cfg.Server.HTTPAddr)
	}
	if cfg.Backend.DefaultModel != "gpt-3.5-turbo" {
		t.Errorf("Backend.DefaultModel = %q, want gpt-3.5-turbo", cfg.Backend.DefaultModel)
	}
	if cfg.Backend.MaxContextTurns != 10 {
		t.Errorf("Backend.MaxContextTurns = %d, want 10", cfg.Backend.MaxContextTurns)
	}
	if cfg.Limits.ChatPerHour != 0 {
		t.Errorf("Limits.ChatPerHour = %d, want 0 (unlimited)", cfg.Limits.ChatPerHour)
	}
	if cfg.Limits.VerificationPerMinute != 1 {
		t.Errorf("Limits.VerificationPerMinute = %d, want 1", cfg.Limits.VerificationPerMinute)
	}
	if cfg.Limits.VerificationCooldown != time.Minute {
		t.Errorf("Limits.VerificationCooldown = %v, want 1m", cfg.Limits.VerificationCooldown)
	}
	if cfg.Credentials.Strategy != "round_robin" {
		t.Errorf("Credentials.Strategy = %q, want round_robin", cfg.Credentials.Strategy)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("Location() = %v, want UTC", cfg.Location())
	}
	if cfg.Usage.MaxDays != 366 {
		t.Errorf("Usage.MaxDays = %d, want 366", cfg.Usage.MaxDays)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want text", cfg.Logging.Format)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "secret-from-env-secret-from-env!")
	t.Setenv("TEST_DB_TOKEN", "token-from-env")

	cfg, err := Load(writeConfig(t, `
database:
  url: "libsql://example.turso.io"
  auth_token: "${TEST_DB_TOKEN}"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "secret-from-env-secret-from-env!" {
		t.Errorf("Auth.JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Database.AuthToken != "token-from-env" {
		t.Errorf("Database.AuthToken = %q, want %q", cfg.Database.AuthToken, "token-from-env")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	_, err := Load(writeConfig(t, `
database:
  path: "./test.db"
auth:
  jwt_secret: "${UNSET_VAR_FOR_TEST}"
`))
	if err == nil {
		t.Fatal("Load() expected error for empty jwt secret, got nil")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("Load() error = %v, want mention of jwt_secret", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  http_addr: [this is not valid
`))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tests := []struct {
		name  string
		field string
		extra string
	}{
		{name: "backend timeout", field: "timeout", extra: "backend:\n  timeout: \"soon\"\n"},
		{name: "finalize timeout", field: "finalize_timeout", extra: "backend:\n  finalize_timeout: \"10 seconds\"\n"},
		{name: "cooldown", field: "verification_cooldown", extra: "limits:\n  verification_cooldown: \"1 minute\"\n"},
		{name: "shutdown", field: "shutdown_timeout", extra: "server:\n  shutdown_timeout: \"x\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, minimalConfig+tt.extra))
			if err == nil {
				t.Fatal("Load() expected error for invalid duration, got nil")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.field)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Database: DatabaseConfig{Path: "./test.db"},
			Auth:     AuthConfig{JWTSecret: "secret"},
		}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "remote url only", mutate: func(c *Config) { c.Database.Path = ""; c.Database.URL = "libsql://x" }},
		{name: "no database", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database"},
		{name: "no secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, wantErr: "jwt_secret"},
		{name: "negative chat limit", mutate: func(c *Config) { c.Limits.ChatPerHour = -1 }, wantErr: "limits"},
		{name: "negative context", mutate: func(c *Config) { c.Backend.MaxContextTurns = -1 }, wantErr: "max_context_turns"},
		{name: "bad strategy", mutate: func(c *Config) { c.Credentials.Strategy = "random" }, wantErr: "strategy"},
		{name: "bad timezone", mutate: func(c *Config) { c.Usage.Timezone = "Mars/Olympus" }, wantErr: "timezone"},
		{name: "negative max days", mutate: func(c *Config) { c.Usage.MaxDays = -1 }, wantErr: "max_days"},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR_1", "value1")
	t.Setenv("TEST_VAR_2", "value2")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "no vars", input: "plain text", want: "plain text"},
		{name: "single var", input: "prefix ${TEST_VAR_1} suffix", want: "prefix value1 suffix"},
		{name: "multiple vars", input: "${TEST_VAR_1} and ${TEST_VAR_2}", want: "value1 and value2"},
		{name: "unset var", input: "value: ${NONEXISTENT_VAR_XYZ}", want: "value: "},
		{name: "dollar without braces", input: "$TEST_VAR_1", want: "$TEST_VAR_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandEnvVars(tt.input); got != tt.want {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
