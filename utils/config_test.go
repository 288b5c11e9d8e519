package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `mysql_dsn: "user:pass@tcp(localhost:3306)/builder"`))
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, 2112, cfg.MetricsPort)
	assert.Equal(t, "localhost", cfg.PreviewHost)
	assert.Equal(t, "npm install", cfg.Build.InstallCommand)
	assert.Equal(t, "npm run dev", cfg.Build.StartCommand)
	assert.Equal(t, 3, cfg.Build.MaxConcurrent)
	assert.Equal(t, 10*time.Minute, cfg.Build.StepTimeout.D())
	assert.Equal(t, 60*time.Second, cfg.Build.StartupTimeout.D())
	assert.Equal(t, 4000, cfg.Ports.First)
	assert.Equal(t, 4999, cfg.Ports.Last)
	assert.Equal(t, 3*time.Hour, cfg.Reaper.Interval.D())
	assert.Equal(t, 24*time.Hour, cfg.Reaper.InactivityTimeout.D())
	assert.Equal(t, int64(10<<30), cfg.Reaper.DiskWarnBytes)
}

func TestLoadConfigParsesDurations(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
build:
  step_timeout: "5m"
  startup_timeout: 90
  stop_grace: "2s"
reaper:
  interval: "1h"
`))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Build.StepTimeout.D())
	// A bare number means seconds.
	assert.Equal(t, 90*time.Second, cfg.Build.StartupTimeout.D())
	assert.Equal(t, 2*time.Second, cfg.Build.StopGrace.D())
	assert.Equal(t, time.Hour, cfg.Reaper.Interval.D())
}

func TestLoadConfigRejectsBadPortRange(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
ports:
  first: 5000
  last: 4000
`))
	assert.Error(t, err)
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
build:
  step_timeout: "soon"
`))
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
