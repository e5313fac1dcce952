package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigDirName, ConfigFileName)

	cfg := DefaultConfig()
	cfg.Root = dir
	cfg.URL = "https://example.com"
	cfg.User = "alice"
	cfg.AppPassword = "secret"

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, cfg.Root, loaded.Root)
	require.Equal(t, cfg.URL, loaded.URL)
	require.Contains(t, loaded.Ignore, ".wpdrive/**")
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigDirName, ConfigFileName)

	cfg := DefaultConfig()
	cfg.Root = dir

	require.NoError(t, Save(path, cfg))

	_, err := Load(path, nil)
	require.Error(t, err)
}

func TestDiscoverWalksUpToRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	cfg := DefaultConfig()
	cfg.Root = root
	cfg.URL = "https://example.com"
	cfg.User = "alice"
	cfg.AppPassword = "secret"

	path := filepath.Join(root, ConfigDirName, ConfigFileName)
	require.NoError(t, Save(path, cfg))

	found, err := Discover(nested)
	require.NoError(t, err)
	require.Equal(t, path, found)
}

func TestDiscoverReturnsNotFound(t *testing.T) {
	dir := t.TempDir()

	_, err := Discover(dir)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestValidateRejectsChunkSizeMismatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Root = "/tmp/root"
	cfg.URL = "https://example.com"
	cfg.User = "alice"
	cfg.AppPassword = "secret"
	cfg.ChunkSizeMB = 4
	cfg.MinChunkSizeMB = 8

	require.Error(t, Validate(cfg))
}
