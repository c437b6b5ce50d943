// Package factory selects a storage backend for a workspace and wires the
// engine around it.
package factory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"quipu/internal/cache"
	"quipu/internal/config"
	"quipu/internal/engine"
	"quipu/internal/gitio"
	"quipu/internal/gitstore"
	"quipu/internal/identity"
	"quipu/internal/ignore"
	"quipu/internal/logging"
	"quipu/internal/plumbing"
)

// Workspace bundles an engine with the pieces commands need alongside it.
type Workspace struct {
	Engine *engine.Engine
	Git    *plumbing.Git
	Config *config.Config
	// Store is the SQLite cache, nil for the git_object backend.
	Store       *cache.Store
	StorageType string
	UserID      string
}

// Close releases the engine and its store.
func (w *Workspace) Close() error {
	return w.Engine.Close()
}

// Hydrator returns a hydrator for the cache, or nil for the git_object
// backend.
func (w *Workspace) Hydrator() *cache.Hydrator {
	if w.Store == nil {
		return nil
	}
	return cache.NewHydrator(w.Store, w.Git)
}

type options struct {
	logger  *slog.Logger
	version string
}

// Option configures CreateEngine.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = logging.OrDiscard(l) }
}

// WithVersion sets the version stamped into node metadata.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// DetectStorageType returns the configured backend; without one, an existing
// history.sqlite selects sqlite and anything else git_object.
func DetectStorageType(quipuDir string, cfg *config.Config) string {
	if cfg != nil && cfg.Storage.Type != "" {
		return cfg.Storage.Type
	}
	if _, err := os.Stat(filepath.Join(quipuDir, cache.FileName)); err == nil {
		return config.StorageSQLite
	}
	return config.StorageGitObject
}

// CreateEngine opens the workspace containing workDir and builds its engine.
// The caller must Close the returned workspace.
func CreateEngine(ctx context.Context, workDir string, opts ...Option) (*Workspace, error) {
	o := options{logger: logging.Discard(), version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	g, err := plumbing.New(ctx, workDir, plumbing.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(g.QuipuDir())
	if err != nil {
		return nil, err
	}
	userID := identity.Resolve(ctx, cfg.Sync.UserID, g)

	if err := ignore.SyncExcludeBlock(g.GitDir(), cfg.Sync.PersistentIgnores); err != nil {
		logger.Warn("could not update .git/info/exclude", "error", err)
	}

	gitOpts := []gitstore.Option{gitstore.WithLogger(logger), gitstore.WithVersion(o.version)}
	gitReader := gitstore.NewReader(g, userID, gitOpts...)
	gitWriter := gitstore.NewWriter(g, gitOpts...)

	ws := &Workspace{
		Git:         g,
		Config:      cfg,
		StorageType: DetectStorageType(g.QuipuDir(), cfg),
		UserID:      userID,
	}
	deps := engine.Deps{
		Git:         g,
		Reader:      gitReader,
		Writer:      gitWriter,
		UserID:      userID,
		ListIgnores: cfg.ListFiles.IgnorePatterns,
		Logger:      logger,
	}

	switch ws.StorageType {
	case config.StorageGitObject:
	case config.StorageSQLite:
		store, err := cache.Open(filepath.Join(g.QuipuDir(), cache.FileName), cache.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		ws.Store = store
		deps.Reader = cache.NewReader(store, gitReader)
		deps.Writer = cache.NewWriter(store, gitWriter)
		deps.Hydrator = cache.NewHydrator(store, g)
		deps.Closer = store
	default:
		return nil, fmt.Errorf("unknown storage type %q", ws.StorageType)
	}

	if repo, err := gitio.Open(g.Root()); err == nil {
		deps.Repo = repo
	} else {
		logger.Debug("go-git could not open repository; listing falls back to lazy open", "error", err)
	}

	eng, err := engine.New(deps)
	if err != nil {
		if ws.Store != nil {
			ws.Store.Close()
		}
		return nil, err
	}
	ws.Engine = eng
	return ws, nil
}
