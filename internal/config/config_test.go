package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Error(t, cfg.Validate(), "port is required")

	cfg.Port = 4000
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Minute, cfg.LoginTimeout)
	assert.Equal(t, 3, cfg.Login.MaxAttempts)
	assert.Equal(t, time.Second, cfg.ReadTimeout)
	assert.Equal(t, ":4000", cfg.Addr())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: 127.0.0.1
port: 5555
database: users.db
log:
  level: debug
  format: text
login:
  timeout: 30s
  max-attempts: 5
metrics:
  listen: ":9090"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:5555", cfg.Addr())
	assert.Equal(t, "users.db", cfg.Database)
	assert.Equal(t, 30*time.Second, cfg.LoginTimeout)
	assert.Equal(t, 5, cfg.Login.MaxAttempts)
	assert.Equal(t, "1s", cfg.Connection.ReadTimeout, "untouched keys keep defaults")
	assert.Equal(t, ":9090", cfg.Metrics.Listen)

	lvl, err := ParseLevel(cfg.Log.Level)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Port = 4000
	cfg.Login.Timeout = "soon"
	assert.ErrorContains(t, cfg.Validate(), "login.timeout")

	cfg = Default()
	cfg.Port = 4000
	cfg.Log.Level = "loud"
	assert.ErrorContains(t, cfg.Validate(), "log.level")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
