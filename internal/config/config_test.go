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

	assert.Equal(t, 3333, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 7, cfg.Epg.PastDays)
	assert.Equal(t, 7, cfg.Epg.FutureDays)
	assert.Equal(t, 10*time.Minute, cfg.Epg.CacheTTL.Duration())
	assert.Equal(t, 21*24*time.Hour, cfg.Mirror.Retention.Duration())
	assert.Equal(t, 40, cfg.Mirror.KeepMax)
	assert.Empty(t, cfg.Jobs.RefreshCron)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 8090
storage:
  data_dir: /var/lib/epgviewer
logging:
  level: debug
mirror:
  retention: 3w
  keep_max: 10
jobs:
  refresh_cron: "*/30 * * * *"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "/var/lib/epgviewer", cfg.Storage.DataDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 3*7*24*time.Hour, cfg.Mirror.Retention.Duration())
	assert.Equal(t, 10, cfg.Mirror.KeepMax)
	assert.Equal(t, "*/30 * * * *", cfg.Jobs.RefreshCron)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EPGVIEWER_SERVER_HOST", "127.0.0.1")
	t.Setenv("EPGVIEWER_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadPortEnv(t *testing.T) {
	t.Setenv("PORT", "9000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)

	// The prefixed variable wins over bare PORT.
	t.Setenv("EPGVIEWER_SERVER_PORT", "9001")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("valid defaults", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := valid()
		cfg.Server.Port = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing data dir", func(t *testing.T) {
		cfg := valid()
		cfg.Storage.DataDir = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := valid()
		cfg.Logging.Level = "verbose"
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative window", func(t *testing.T) {
		cfg := valid()
		cfg.Epg.PastDays = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero retention", func(t *testing.T) {
		cfg := valid()
		cfg.Mirror.Retention = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestServerAddress(t *testing.T) {
	c := ServerConfig{Host: "localhost", Port: 3333}
	assert.Equal(t, "localhost:3333", c.Address())
}

func TestStoragePaths(t *testing.T) {
	c := StorageConfig{DataDir: "/data"}
	assert.Equal(t, "/data/mirror", c.MirrorPath())
	assert.Equal(t, "/data/settings.json", c.SettingsPath())
}
