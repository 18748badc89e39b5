// ABOUTME: Tests for chat-gateway CLI helpers
// ABOUTME: Covers token flag parsing, config init, and the log handlers

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/config"
	"github.com/2389/chat-gateway/internal/store"
)

func TestParseTokenArgs(t *testing.T) {
	t.Run("defaults to User role", func(t *testing.T) {
		got, err := parseTokenArgs([]string{"--user", "u1"})
		require.NoError(t, err)
		assert.Equal(t, "u1", got.userID)
		assert.Equal(t, []store.RoleName{store.RoleUser}, got.roles)
		assert.Equal(t, 30*24*time.Hour, got.ttl)
	})

	t.Run("equals form and repeated roles", func(t *testing.T) {
		got, err := parseTokenArgs([]string{"--user=root", "--role=Admin", "-r", "Tester", "--ttl", "1h"})
		require.NoError(t, err)
		assert.Equal(t, "root", got.userID)
		assert.Equal(t, []store.RoleName{store.RoleAdmin, store.RoleTester}, got.roles)
		assert.Equal(t, time.Hour, got.ttl)
	})

	errorCases := [][]string{
		{},
		{"--user"},
		{"--role", "Admin"},
		{"--user", "u1", "--role", "Wizard"},
		{"--user", "u1", "--ttl", "soon"},
		{"--user", "u1", "--color", "red"},
		{"u1"},
	}
	for _, args := range errorCases {
		_, err := parseTokenArgs(args)
		assert.Error(t, err, "args %v", args)
	}
}

func TestRunInit_WritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config", "gateway.yaml")
	dataPath := filepath.Join(dir, "data")

	require.NoError(t, runInit(configPath, dataPath))

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataPath, "gateway.db"), cfg.Database.Path)
	assert.GreaterOrEqual(t, len(cfg.Auth.JWTSecret), auth.MinSecretLength)

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.Error(t, runInit(configPath, dataPath), "refuses to overwrite")
}

func TestRunToken_MintsVerifiableToken(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, runInit(configPath, dir))
	t.Setenv("CHAT_GATEWAY_CONFIG", configPath)

	var out bytes.Buffer
	require.NoError(t, runToken([]string{"--user", "root", "--role", "Admin"}, &out))

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	require.NoError(t, err)

	caller, err := verifier.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "root", caller.UserID)
	assert.True(t, caller.IsAdmin())
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("dropped")
	logger.With("component", "gateway").Warn("kept", "n", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "gateway", rec["component"])
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug"}, &buf)

	logger.With("component", "store").WithGroup("db").Debug("opened", "path", "x.db")

	line := buf.String()
	assert.Contains(t, line, "DBG opened")
	assert.Contains(t, line, "component=store")
	assert.Contains(t, line, "db.path=x.db")
}
