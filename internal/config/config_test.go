package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesSomeFieldsKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("pools:\n  link: 1\nignored_paths:\n  - /var/cache/shk\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"link": 1}, cfg.Pools)
	require.Equal(t, []string{"/var/cache/shk"}, cfg.IgnoredPaths)
	require.Equal(t, 1, cfg.FailuresAllowed, "unset field should keep the default")
	require.Equal(t, "shk-trace", cfg.TracerBinary, "unset field should keep the default")
}

func TestMergePoolsManifestWins(t *testing.T) {
	cfg := Config{Pools: map[string]int{"link": 1, "compile": 4}}
	merged := cfg.MergePools(map[string]int{"link": 2})
	require.Equal(t, map[string]int{"link": 2, "compile": 4}, merged)
}
