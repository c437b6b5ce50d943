package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Storage.Type)
	assert.Equal(t, "origin", cfg.Sync.RemoteName)
	assert.Equal(t, []string{".idea", ".vscode", ".envs", "__pycache__", "node_modules", "o.md"}, cfg.Sync.PersistentIgnores)
	assert.Empty(t, cfg.Sync.UserID)
	assert.Empty(t, cfg.ListFiles.IgnorePatterns)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	yml := `
storage:
  type: sqlite
sync:
  user_id: alice-1a2b3c4d
  subscriptions: [bob-00000000]
list_files:
  ignore_patterns:
    - "*.log"
    - build
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(yml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, StorageSQLite, cfg.Storage.Type)
	assert.Equal(t, "origin", cfg.Sync.RemoteName)
	assert.Equal(t, "alice-1a2b3c4d", cfg.Sync.UserID)
	assert.Equal(t, []string{"bob-00000000"}, cfg.Sync.Subscriptions)
	assert.Equal(t, DefaultPersistentIgnores, cfg.Sync.PersistentIgnores)
	assert.Equal(t, []string{"*.log", "build"}, cfg.ListFiles.IgnorePatterns)
}

func TestLoadRejectsUnknownStorage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("storage:\n  type: postgres\n"), 0o644))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("sync: [unclosed"), 0o644))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".quipu")
	cfg := DefaultConfig()
	cfg.Sync.UserID = "dev-12345678"
	cfg.Storage.Type = StorageGitObject
	require.NoError(t, Save(dir, cfg))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestDefaultsAreNotShared(t *testing.T) {
	a := DefaultConfig()
	a.Sync.PersistentIgnores[0] = "changed"
	assert.Equal(t, ".idea", DefaultConfig().Sync.PersistentIgnores[0])
}
