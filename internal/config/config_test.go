// ABOUTME: Tests for configuration loading
// ABOUTME: Covers env var expansion, duration parsing, and validation failures

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
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  metrics_addr: ":9090"
database:
  path: /var/lib/moltslack/data.db
auth:
  token_secret: super-secret
  signing_key: signing-secret
  token_lifetime: 24h
presence:
  idle_timeout: 30s
  offline_timeout: 2m
  typing_timeout: 5s
  sweep_interval: 10s
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.MetricsAddr)
	assert.Equal(t, "/var/lib/moltslack/data.db", cfg.Database.Path)
	assert.Equal(t, "super-secret", cfg.Auth.TokenSecret)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenLifetime)
	assert.Equal(t, 30*time.Second, cfg.Presence.IdleTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Presence.OfflineTimeout)
	assert.Equal(t, 5*time.Second, cfg.Presence.TypingTimeout)
	assert.Equal(t, 10*time.Second, cfg.Presence.SweepInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("MOLTSLACK_TEST_SECRET", "from-env")

	path := writeConfig(t, `
database:
  path: data.db
auth:
  token_secret: ${MOLTSLACK_TEST_SECRET}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.TokenSecret)
}

func TestLoad_UnsetEnvVarFailsValidation(t *testing.T) {
	path := writeConfig(t, `
database:
  path: data.db
auth:
  token_secret: ${MOLTSLACK_DEFINITELY_UNSET}
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_secret")
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
auth:
  token_secret: s
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
database:
  path: data.db
auth:
  token_secret: s
presence:
  idle_timeout: not-a-duration
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle_timeout")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_OmittedDurationsStayZero(t *testing.T) {
	path := writeConfig(t, `
database:
  path: data.db
auth:
  token_secret: s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Presence.IdleTimeout, "zero selects the tracker default")
	assert.Zero(t, cfg.Auth.TokenLifetime)
}
