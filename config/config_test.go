package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 50.0, cfg.Cluster.Radius)
	assert.Equal(t, 14, cfg.Cluster.MaxZoom)
	assert.Contains(t, cfg.Map.SupportedRegions, "United Kingdom")
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFile)

	content := `
[server]
addr = ":9090"

[cluster]
radius = 75.0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 75.0, cfg.Cluster.Radius)
	// Untouched sections keep defaults.
	assert.Equal(t, 14, cfg.Cluster.MaxZoom)
	assert.Equal(t, 64, cfg.Sessions.Max)
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte("[server\naddr = "), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MAPKIT_ADDR", ":7777")
	t.Setenv("MAPKIT_MAX_SESSIONS", "8")
	t.Setenv("MAPKIT_BOOTSTRAP_SHOPS", "not-a-number")

	cfg := Default()
	cfg.applyEnv()

	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Sessions.Max)
	// Unparseable values are ignored.
	assert.Equal(t, 500, cfg.Server.BootstrapShops)
}

func TestFindRootWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFile), []byte(""), 0644))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(cwd) })
	require.NoError(t, os.Chdir(nested))

	found, err := FindRoot()
	require.NoError(t, err)
	// Resolve symlinks so macOS /private/var temp dirs compare equal.
	wantDir, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	gotDir, err := filepath.EvalSymlinks(filepath.Dir(found))
	require.NoError(t, err)
	assert.Equal(t, wantDir, gotDir)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFile)

	cfg := Default()
	cfg.Server.Addr = ":4242"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":4242", loaded.Server.Addr)
	assert.Equal(t, cfg.Map.SupportedRegions, loaded.Map.SupportedRegions)
}
