package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, EnvLocal, cfg.Env)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, 3, cfg.Sync.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Sync.RetryDelay)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.Cron.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORESYNC_SYNC_BATCH_SIZE", "7")
	t.Setenv("STORESYNC_SYNC_RETRY_DELAY", "250ms")
	t.Setenv("STORESYNC_CRON_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sync.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.RetryDelay)
	assert.False(t, cfg.Cron.Enabled)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("STORESYNC_SERVER_ADDR=:9999\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("STORESYNC_SERVER_ADDR") })

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestLoad_MissingDotEnvIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	assert.NoError(t, err)
}

func TestValidate_ProdRequiresJWTSecret(t *testing.T) {
	t.Setenv("STORESYNC_ENV", "prod")
	_, err := Load("")
	assert.Error(t, err)
}
