package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, time.Second, cfg.Bus.BaseDelay)
	assert.Equal(t, time.Minute, cfg.Bus.MaxDelay)
	assert.Equal(t, 30*time.Second, cfg.Bus.KeepAliveInterval)
	assert.Equal(t, 10*time.Minute, cfg.Driver.InactivityTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Driver.LoginTimeout)
	assert.Equal(t, 3, cfg.Driver.LoginAttempts)
	assert.Equal(t, 5, cfg.Updater.RecentLimit)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
nats:
  url: nats://bus.internal:4222
driver:
  login_attempts: 5
updater:
  user_id: user-42
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("GAMEUPDATER_DRIVER_LOGIN_TIMEOUT", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://bus.internal:4222", cfg.NATS.URL)
	assert.Equal(t, 5, cfg.Driver.LoginAttempts)
	assert.Equal(t, 45*time.Second, cfg.Driver.LoginTimeout)
	assert.Equal(t, "user-42", cfg.Updater.UserID)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
