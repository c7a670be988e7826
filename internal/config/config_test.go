package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 50051, cfg.GRPC.Port)
	assert.Equal(t, 60000, cfg.Snapshot.MaxItems)
	assert.Equal(t, 30*24*time.Hour, cfg.Snapshot.DefaultRetention)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, "cfgstore.yaml", `
grpc:
  port: 7000
storage:
  wal_path: /var/lib/cfgstore/cfgstore.wal
  checkpoint_interval: 30s
snapshot:
  max_items: 10
events:
  sink: redis
  redis:
    addr: localhost:6379
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.GRPC.Port)
	assert.Equal(t, 8080, cfg.REST.Port, "untouched sections keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Storage.CheckpointInterval)
	assert.Equal(t, 10, cfg.Snapshot.MaxItems)
	assert.Equal(t, "cfgstore.changes", cfg.Events.Redis.Channel)
}

func TestLoadOverlay(t *testing.T) {
	base := writeFile(t, "base.yaml", "log:\n  level: debug\n")
	env := writeFile(t, "prod.yaml", "log:\n  level: warn\napp:\n  environment: prod\n")

	cfg, err := Load(base, env)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "prod", cfg.App.Environment)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.GRPC.Port = 0
	cfg.Log.Level = "loud"
	cfg.Snapshot.MaxItems = 0
	cfg.Events.Sink = "kafka"

	err := cfg.Validate()
	require.Error(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	assert.Len(t, merr.Errors, 4)
}

func TestValidatePageSizeCeiling(t *testing.T) {
	cfg := Default()
	cfg.Query.MaxPageSize = 5000
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query.max_page_size")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "grpc: [\n"))
	assert.Error(t, err)
}
