// Package config reads and writes .quipu/config.yml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the config file under .quipu/.
const FileName = "config.yml"

// Storage backends.
const (
	StorageGitObject = "git_object"
	StorageSQLite    = "sqlite"
)

// Config holds every recognized key of config.yml.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Sync      SyncConfig      `yaml:"sync"`
	ListFiles ListFilesConfig `yaml:"list_files"`
}

// StorageConfig selects the history backend.
type StorageConfig struct {
	// Type is git_object or sqlite. Empty means auto-detect.
	Type string `yaml:"type,omitempty"`
}

// SyncConfig drives ref sharing and the managed exclude block.
type SyncConfig struct {
	RemoteName        string   `yaml:"remote_name"`
	UserID            string   `yaml:"user_id,omitempty"`
	Subscriptions     []string `yaml:"subscriptions,omitempty"`
	PersistentIgnores []string `yaml:"persistent_ignores"`
}

// ListFilesConfig filters snapshot listings.
type ListFilesConfig struct {
	IgnorePatterns []string `yaml:"ignore_patterns,omitempty"`
}

// DefaultPersistentIgnores seeds the managed block of .git/info/exclude.
var DefaultPersistentIgnores = []string{".idea", ".vscode", ".envs", "__pycache__", "node_modules", "o.md"}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			RemoteName:        "origin",
			PersistentIgnores: append([]string(nil), DefaultPersistentIgnores...),
		},
	}
}

// Path returns the config path inside quipuDir.
func Path(quipuDir string) string {
	return filepath.Join(quipuDir, FileName)
}

// Load reads config.yml from quipuDir, overlaying it on the defaults. A
// missing file yields the defaults.
func Load(quipuDir string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(Path(quipuDir))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	if cfg.Sync.RemoteName == "" {
		cfg.Sync.RemoteName = "origin"
	}
	if cfg.Storage.Type != "" && cfg.Storage.Type != StorageGitObject && cfg.Storage.Type != StorageSQLite {
		return nil, fmt.Errorf("unknown storage.type %q", cfg.Storage.Type)
	}
	return cfg, nil
}

// Save writes cfg to quipuDir/config.yml.
func Save(quipuDir string, cfg *Config) error {
	if err := os.MkdirAll(quipuDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", quipuDir, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(Path(quipuDir), data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
