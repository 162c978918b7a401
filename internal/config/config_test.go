package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/recoveryworks/update-engine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, models.CachePath, cfg.Paths.CacheDir)
	assert.Equal(t, models.CommandFileName, cfg.Paths.CommandFile)
	assert.Equal(t, models.DataRoot, cfg.Paths.DataRoot)
	assert.False(t, cfg.Update.SkipVerification)
	assert.True(t, cfg.Update.SwapEnabled)
	assert.Equal(t, 512, cfg.Update.SwapSizeMB)
}

func TestCommandFilePath(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join(models.CachePath, models.CommandFileName), cfg.CommandFilePath())

	cfg.Paths.CommandFile = "/tmp/elsewhere/ubuntu_command"
	assert.Equal(t, "/tmp/elsewhere/ubuntu_command", cfg.CommandFilePath())
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
paths:
  cache_dir: /mnt/cache
update:
  swap_enabled: false
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/mnt/cache", cfg.Paths.CacheDir)
	assert.False(t, cfg.Update.SwapEnabled)
	// Unset keys keep their defaults.
	assert.Equal(t, models.CommandFileName, cfg.Paths.CommandFile)
}
