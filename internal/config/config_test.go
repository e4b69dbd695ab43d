package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 1, cfg.Pipeline.MaxRetries)
	require.False(t, cfg.Pipeline.DeepMode)
	require.NotEmpty(t, cfg.Provider.Patterns)
	require.Contains(t, cfg.Provider.Patterns, "429")
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Pipeline.MaxRetries, cfg.Pipeline.MaxRetries)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Pipeline.MaxRetries = 5
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, loaded.Pipeline.MaxRetries)
}

func TestEnvOverrideDeepMode(t *testing.T) {
	t.Setenv("PATCHFORGE_DEEP_MODE", "true")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.True(t, cfg.Pipeline.DeepMode)
}
