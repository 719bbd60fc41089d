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
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "localhost:7233", cfg.Temporal.HostPort)
	assert.Equal(t, "research", cfg.Temporal.TaskQueue)
	assert.Equal(t, 10, cfg.Research.MaxIterations)
	assert.Equal(t, 20, cfg.Research.MaxCitations)
	assert.Equal(t, 0.8, cfg.Research.NormalConfidence)
	assert.Equal(t, 0.6, cfg.Research.ForcedConfidence)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "research.yaml")
	content := []byte(`
server:
  http_port: 9090
research:
  max_iterations: 5
llm:
  model: "other-model"
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, 5, cfg.Research.MaxIterations)
	assert.Equal(t, "other-model", cfg.LLM.Model)
	// Untouched keys keep their defaults.
	assert.Equal(t, 2112, cfg.Server.MetricsPort)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("TEMPORAL_HOST_PORT", "temporal:7233")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("HTTP_PORT", "8181")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "temporal:7233", cfg.Temporal.HostPort)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 8181, cfg.Server.HTTPPort)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "research.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))
	t.Setenv("CONFIG_PATH", path)

	_, err := Load()
	assert.Error(t, err)
}
