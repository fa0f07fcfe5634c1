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

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Engine.MaxParallel)
	assert.Equal(t, 5*time.Minute, cfg.Engine.DefaultNodeTimeout.Std())
	assert.Equal(t, "standard", cfg.Validation.Depth)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
engine:
  max_parallel: 4
  default_node_timeout: 90s
validation:
  depth: strict
  max_nodes: 100
history:
  enabled: true
  path: /tmp/runs.db
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Engine.MaxParallel)
	assert.Equal(t, 90*time.Second, cfg.Engine.DefaultNodeTimeout.Std())
	assert.Equal(t, "strict", cfg.Validation.Depth)
	assert.Equal(t, 100, cfg.Validation.MaxNodes)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "/tmp/runs.db", cfg.History.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: warn\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Engine.MaxParallel, "unset sections keep their defaults")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"max_parallel out of range", "engine:\n  max_parallel: 0\n"},
		{"unknown validation depth", "validation:\n  depth: exhaustive\n"},
		{"unknown log level", "logging:\n  level: loud\n"},
		{"bad duration", "engine:\n  max_parallel: 4\n  default_node_timeout: sometime\n"},
		{"not yaml", "[ unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", out)
}
