// Package engine is the history state machine. It aligns the workspace with
// the node graph, records plan and capture nodes, moves the work tree between
// snapshots and keeps the HEAD pointer and visit log under .quipu.
//
// An Engine is not safe for concurrent use, and two engines must not share a
// workspace.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"quipu/internal/gitio"
	"quipu/internal/history"
	"quipu/internal/ignore"
	"quipu/internal/logging"
	"quipu/internal/plumbing"
)

// Hydrator mirrors Git history into a secondary store before reads.
type Hydrator interface {
	Sync(ctx context.Context, localUserID string) (int, error)
}

// Deps are the collaborators of an Engine. Git, Reader and Writer are
// required.
type Deps struct {
	Git    *plumbing.Git
	Reader history.Reader
	Writer history.Writer
	// Hydrator runs at the start of Align when set.
	Hydrator Hydrator
	// Repo backs ListFiles; it is opened on demand when nil.
	Repo   *gitio.Repository
	UserID string
	// ListIgnores filters ListFiles results.
	ListIgnores []string
	Logger      *slog.Logger
	// Closer is released by Close, typically the cache store.
	Closer io.Closer
}

// Engine drives one workspace.
type Engine struct {
	git      *plumbing.Git
	reader   history.Reader
	writer   history.Writer
	hydrator Hydrator
	repo     *gitio.Repository
	userID   string
	ignores  *ignore.Matcher
	logger   *slog.Logger
	closer   io.Closer

	quipuDir string

	nodes    []*history.Node
	byCommit map[string]*history.Node
	// byTree maps an output tree to the latest node producing it.
	byTree  map[string]*history.Node
	current *history.Node
}

// New builds an engine and prepares the .quipu directory.
func New(deps Deps) (*Engine, error) {
	if deps.Git == nil || deps.Reader == nil || deps.Writer == nil {
		return nil, fmt.Errorf("engine: git, reader and writer are required")
	}
	e := &Engine{
		git:      deps.Git,
		reader:   deps.Reader,
		writer:   deps.Writer,
		hydrator: deps.Hydrator,
		repo:     deps.Repo,
		userID:   deps.UserID,
		ignores:  ignore.Compile(deps.ListIgnores),
		logger:   logging.OrDiscard(deps.Logger),
		closer:   deps.Closer,
		quipuDir: deps.Git.QuipuDir(),
		byCommit: map[string]*history.Node{},
		byTree:   map[string]*history.Node{},
	}
	if err := e.ensureQuipuDir(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) ensureQuipuDir() error {
	if err := os.MkdirAll(e.quipuDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", e.quipuDir, err)
	}
	gi := filepath.Join(e.quipuDir, ".gitignore")
	if _, err := os.Stat(gi); os.IsNotExist(err) {
		if err := os.WriteFile(gi, []byte("*\n"), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", gi, err)
		}
	}
	return nil
}

// Close releases the engine's resources. It is safe to call more than once.
func (e *Engine) Close() error {
	if e.closer == nil {
		return nil
	}
	c := e.closer
	e.closer = nil
	return c.Close()
}

// Git returns the plumbing layer.
func (e *Engine) Git() *plumbing.Git { return e.git }

// Reader returns the history reader.
func (e *Engine) Reader() history.Reader { return e.reader }

// Root returns the work tree root.
func (e *Engine) Root() string { return e.git.Root() }

// UserID returns the id stamped on new nodes.
func (e *Engine) UserID() string { return e.userID }

// Nodes returns the graph loaded by the last Align, oldest first.
func (e *Engine) Nodes() []*history.Node { return e.nodes }

// Current returns the node whose output matches the work tree, or nil.
func (e *Engine) Current() *history.Node { return e.current }

// Align loads the graph and classifies the work tree against it. A clean
// match re-points HEAD at the matching tree.
func (e *Engine) Align(ctx context.Context) (history.AlignStatus, error) {
	if e.hydrator != nil {
		if n, err := e.hydrator.Sync(ctx, e.userID); err != nil {
			e.logger.Warn("hydration failed; reading the cache as is", "error", err)
		} else if n > 0 {
			e.logger.Debug("hydrated nodes", "count", n)
		}
	}

	nodes, err := e.reader.LoadAllNodes(ctx)
	if err != nil {
		return "", fmt.Errorf("loading history: %w", err)
	}
	e.setGraph(nodes)

	tree, err := e.git.TreeHash(ctx)
	if err != nil {
		return "", err
	}

	if n := e.byTree[tree]; n != nil {
		e.current = n
		if err := e.writeHead(tree); err != nil {
			return "", err
		}
		return history.StatusClean, nil
	}
	e.current = nil
	if len(nodes) == 0 {
		if tree == history.EmptyTree {
			return history.StatusClean, nil
		}
		return history.StatusOrphan, nil
	}
	return history.StatusDirty, nil
}

func (e *Engine) setGraph(nodes []*history.Node) {
	e.nodes = nodes
	e.byCommit = make(map[string]*history.Node, len(nodes))
	e.byTree = make(map[string]*history.Node, len(nodes))
	for _, n := range nodes {
		e.byCommit[n.CommitHash] = n
		e.byTree[n.OutputTree] = n
	}
}

// addNode links a freshly written node into the in-memory graph, replacing
// the writer's stub parent with the loaded one.
func (e *Engine) addNode(n *history.Node) {
	if n.Parent != nil {
		if parent := e.byCommit[n.Parent.CommitHash]; parent != nil {
			parent.AddChild(n)
		}
	}
	e.nodes = append(e.nodes, n)
	e.byCommit[n.CommitHash] = n
	e.byTree[n.OutputTree] = n
}
