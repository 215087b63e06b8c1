package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadMissingUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"), false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "absent.toml"), true)
	assert.Error(t, err)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	p := writeConfig(t, `
version = "1.0.0"

[archive]
compression_level = 9
volume_size = "250M"
workers = 2

[copy]
follow_dirlinks = true

[log]
level = "debug"
`)
	cfg, err := Load(p, true)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Archive.CompressionLevel)
	assert.Equal(t, "250M", cfg.Archive.VolumeSize)
	assert.Equal(t, 2, cfg.Archive.Workers)
	assert.True(t, cfg.Copy.FollowDirLinks)
	assert.True(t, cfg.Unpack.Verify, "unset keys keep their defaults")

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadRejects(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"level":    "[archive]\ncompression_level = 12\n",
		"size":     "[archive]\nvolume_size = \"huge\"\n",
		"workers":  "[archive]\nworkers = -1\n",
		"unknown":  "[archive]\nvolume = \"1G\"\n",
		"log":      "[log]\nlevel = \"loud\"\n",
		"version":  "version = \"99.0.0\"\n",
		"not toml": "[archive\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, body), true)
			assert.Error(t, err)
		})
	}
}

func TestPath(t *testing.T) {
	assert.Equal(t, "/explicit.toml", Path("/explicit.toml"))

	t.Setenv(EnvPath, "/from/env.toml")
	assert.Equal(t, "/from/env.toml", Path(""))
}
