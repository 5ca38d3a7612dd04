package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, uint64(1000), cfg.Control.CycleTimeMicros)
	assert.Equal(t, 3000.0, cfg.Control.MaxSpeedRPM)
	assert.Equal(t, "simulator", cfg.HAL.Backend)
	assert.Equal(t, ":7400", cfg.Bridge.ListenAddr)
	assert.Equal(t, "text", cfg.Bridge.Framing)
	assert.Equal(t, 5, cfg.Bridge.ClockSkewToleranceSec)
	assert.Equal(t, 24, cfg.Auth.RotationGraceHours)
	assert.Equal(t, 300, cfg.Auth.MaxTokenAgeSec)
	assert.Equal(t, 4096, cfg.Auth.ReplayWindowSize)
	assert.Equal(t, ":9090", cfg.Metrics.ListenAddr)
	assert.Equal(t, "spine-audit.log", cfg.Audit.LogPath)
	assert.Equal(t, ":7500", cfg.Visualizer.ListenAddr)
	assert.False(t, cfg.Bridge.SkipHandshake, "handshake is required by default")
	assert.False(t, cfg.Auth.Disabled, "auth is mandatory by default")
	assert.Empty(t, cfg.Auth.RequiredScope)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "simulator", cfg.HAL.Backend)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spine.yaml")
	yamlContent := `
control:
  max_speed_rpm: 5000
hal:
  backend: fieldbus
bridge:
  framing: binary
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, cfg.Control.MaxSpeedRPM)
	assert.Equal(t, "fieldbus", cfg.HAL.Backend)
	assert.Equal(t, "binary", cfg.Bridge.Framing)
	// Unset fields still pick up defaults.
	assert.Equal(t, uint64(1000), cfg.Control.CycleTimeMicros)
}

func TestLoad_MalformedYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("control: [this is not a mapping"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesTakePrecedenceOverYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bridge:\n  listen_addr: \":1234\"\n"), 0o644))

	t.Setenv("SPINE_BRIDGE_LISTEN_ADDR", ":9999")
	t.Setenv("SPINE_MAX_SPEED_RPM", "2500")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Bridge.ListenAddr)
	assert.Equal(t, 2500.0, cfg.Control.MaxSpeedRPM)
}

func TestLoad_InvalidEnvFloatIsIgnored(t *testing.T) {
	t.Setenv("SPINE_MAX_SPEED_RPM", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3000.0, cfg.Control.MaxSpeedRPM, "an unparsable override falls back to the default")
}
