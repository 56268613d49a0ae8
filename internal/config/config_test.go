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

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
  name: scenewatch
  user: sw
  password: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 500.0, cfg.Cluster.RadiusMeters)
	assert.Equal(t, 2*time.Hour, cfg.Cluster.TimeWindow)
	assert.Equal(t, 3, cfg.Batch.MinSize)
	assert.Equal(t, 10, cfg.Batch.MaxSize)
	assert.Equal(t, 30*time.Second, cfg.Batch.Window)
	assert.Equal(t, 25*time.Second, cfg.Hub.KeepaliveInterval)
	assert.Equal(t, 64, cfg.Hub.ClientBuffer)
	assert.Equal(t, 64*1024, cfg.Analysis.MaxInlinePayload)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadReadsYAMLValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
cluster:
  radius_meters: 250
  time_window: 1h
batch:
  min_size: 5
  max_size: 20
  window: 10s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 250.0, cfg.Cluster.RadiusMeters)
	assert.Equal(t, time.Hour, cfg.Cluster.TimeWindow)
	assert.Equal(t, 5, cfg.Batch.MinSize)
	assert.Equal(t, 20, cfg.Batch.MaxSize)
	assert.Equal(t, 10*time.Second, cfg.Batch.Window)
}

func TestLoadEnvOverridesWinOverYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
cluster:
  radius_meters: 250
`)

	t.Setenv("SW_SERVER_PORT", "7070")
	t.Setenv("SW_CLUSTER_RADIUS_METERS", "1000")
	t.Setenv("SW_CLUSTER_TIME_WINDOW", "30m")
	t.Setenv("SW_API_KEY", "env-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 1000.0, cfg.Cluster.RadiusMeters)
	assert.Equal(t, 30*time.Minute, cfg.Cluster.TimeWindow)
	assert.Equal(t, "env-key", cfg.Server.APIKey)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5432, Name: "scenewatch", User: "sw", Password: "pw",
	}
	assert.Equal(t, "postgres://sw:pw@db:5432/scenewatch?sslmode=disable", d.DSN())
}
