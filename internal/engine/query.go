package engine

import (
	"context"
	"fmt"
	"strings"

	"quipu/internal/gitio"
	"quipu/internal/history"
)

const minRefLength = 4

// ListFiles lists the files of a snapshot, skipping list_files ignore
// patterns. An empty tree argument means HEAD, or the live work tree when
// HEAD is unset.
func (e *Engine) ListFiles(ctx context.Context, tree string) ([]string, error) {
	if tree == "" {
		tree = e.Head()
	}
	if tree == "" {
		var err error
		if tree, err = e.git.TreeHash(ctx); err != nil {
			return nil, err
		}
	}
	repo, err := e.inspector()
	if err != nil {
		return nil, err
	}
	return repo.SnapshotFiles(tree, e.ignores)
}

// ReadSnapshotFile returns the content of path in a snapshot tree.
func (e *Engine) ReadSnapshotFile(tree, path string) ([]byte, error) {
	repo, err := e.inspector()
	if err != nil {
		return nil, err
	}
	return repo.ReadFile(tree, path)
}

// NodeEntries returns the top-level entries of a node's commit tree.
func (e *Engine) NodeEntries(commit string) ([]gitio.Entry, error) {
	repo, err := e.inspector()
	if err != nil {
		return nil, err
	}
	return repo.CommitEntries(commit)
}

func (e *Engine) inspector() (*gitio.Repository, error) {
	if e.repo == nil {
		repo, err := gitio.Open(e.git.Root())
		if err != nil {
			return nil, err
		}
		e.repo = repo
	}
	return e.repo, nil
}

// ResolveNode finds the node named by a commit-hash or output-tree prefix.
// Commit matches win; a tree shared by several nodes resolves to its latest
// node.
func (e *Engine) ResolveNode(ref string) (*history.Node, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if len(ref) < minRefLength {
		return nil, fmt.Errorf("reference %q is shorter than %d characters", ref, minRefLength)
	}

	var byCommit []*history.Node
	trees := map[string]bool{}
	for _, n := range e.nodes {
		if strings.HasPrefix(n.CommitHash, ref) {
			byCommit = append(byCommit, n)
		}
		if strings.HasPrefix(n.OutputTree, ref) {
			trees[n.OutputTree] = true
		}
	}

	switch {
	case len(byCommit) == 1:
		return byCommit[0], nil
	case len(byCommit) > 1:
		return nil, fmt.Errorf("%q matches %d commits: %w", ref, len(byCommit), history.ErrAmbiguous)
	case len(trees) == 1:
		for tree := range trees {
			return e.byTree[tree], nil
		}
	case len(trees) > 1:
		return nil, fmt.Errorf("%q matches %d trees: %w", ref, len(trees), history.ErrAmbiguous)
	}
	return nil, fmt.Errorf("%q: %w", ref, history.ErrNodeNotFound)
}

// Log returns a page of nodes, newest first.
func (e *Engine) Log(ctx context.Context, limit, offset int) ([]*history.Node, error) {
	return e.reader.LoadNodesPaginated(ctx, limit, offset)
}

// Find filters nodes by summary and type.
func (e *Engine) Find(ctx context.Context, q history.FindQuery) ([]*history.Node, error) {
	return e.reader.FindNodes(ctx, q)
}

// NodeContent returns the content.md body of n.
func (e *Engine) NodeContent(ctx context.Context, n *history.Node) (string, error) {
	return e.reader.NodeContent(ctx, n)
}

// NodeBlobs returns the metadata.json and content.md blobs of a commit.
func (e *Engine) NodeBlobs(ctx context.Context, commit string) (map[string][]byte, error) {
	return e.reader.NodeBlobs(ctx, commit)
}
