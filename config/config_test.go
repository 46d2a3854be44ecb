package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gojostore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: /var/lib/gojostore
  pool_size: 8
  log_flush_interval: 250ms
logger:
  level: debug
telemetry:
  enabled: true
  prometheus_addr: ":9464"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/gojostore", cfg.Storage.DataDir)
	require.Equal(t, 8, cfg.Storage.PoolSize)
	require.Equal(t, 250*time.Millisecond, cfg.Storage.LogFlushInterval)
	require.Equal(t, 4096, cfg.Storage.PageSize, "page size keeps its default")
	require.Equal(t, "debug", cfg.Logger.Level)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, ":9464", cfg.Telemetry.PrometheusAddr)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
storage:
  page_size: 1000
  pool_size: 0
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "page_size")
	require.Contains(t, err.Error(), "pool_size")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "storage: [not, a, map"))
	require.Error(t, err)
}
