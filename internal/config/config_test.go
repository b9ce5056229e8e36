// ABOUTME: Tests for configuration loading
// ABOUTME: Covers YAML parsing, env expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9090"
database:
  path: "/tmp/chat.db"
auth:
  jwt_secret: "secret"
  token_ttl: "12h"
delivery:
  delivered_delay: "500ms"
  history_limit: 50
  rate_rps: 5
  rate_burst: 10
logging:
  level: "debug"
  format: "json"
metrics:
  enabled: true
cors:
  allowed_origins:
    - "http://localhost:3000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/chat.db", cfg.Database.Path)
	assert.Equal(t, "secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Delivery.DeliveredDelay)
	assert.Equal(t, 50, cfg.Delivery.HistoryLimit)
	assert.Equal(t, 5.0, cfg.Delivery.RateRPS)
	assert.Equal(t, 10, cfg.Delivery.RateBurst)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORS.AllowedOrigins)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/chat.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Delivery.DeliveredDelay)
	assert.Equal(t, 100, cfg.Delivery.HistoryLimit)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("TEST_CHAT_DB_PATH", "/var/lib/chat.db")
	t.Setenv("TEST_CHAT_SECRET", "from-env")

	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "${TEST_CHAT_DB_PATH}"
auth:
  jwt_secret: "${TEST_CHAT_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/chat.db", cfg.Database.Path)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/chat.db"
delivery:
  delivered_delay: "not-a-duration"
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "delivered_delay")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "server.http_addr",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "negative history limit",
			mutate:  func(c *Config) { c.Delivery.HistoryLimit = -1 },
			wantErr: "history_limit",
		},
		{
			name:    "negative rate",
			mutate:  func(c *Config) { c.Delivery.RateRPS = -1 },
			wantErr: "rate_rps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
