// Package gitio reads snapshot trees and node commits through go-git, without
// spawning git processes.
package gitio

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"quipu/internal/history"
	"quipu/internal/ignore"
)

// Entry is one entry of a tree object.
type Entry struct {
	Name string
	Mode filemode.FileMode
	Hash string
}

// IsDir reports whether the entry is a subtree.
func (e Entry) IsDir() bool { return e.Mode == filemode.Dir }

// Repository wraps a go-git repository.
type Repository struct {
	repo *git.Repository
	path string
}

// Open opens the repository containing path.
func Open(path string) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("opening repository %s: %w", path, history.ErrNotARepo)
		}
		return nil, fmt.Errorf("opening repository %s: %w", path, err)
	}
	return &Repository{repo: repo, path: path}, nil
}

func (r *Repository) tree(hash string) (*object.Tree, error) {
	tree, err := r.repo.TreeObject(plumbing.NewHash(hash))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("tree %s: %w", hash, history.ErrNodeNotFound)
		}
		return nil, fmt.Errorf("reading tree %s: %w", hash, err)
	}
	return tree, nil
}

// SnapshotFiles lists the file paths of a snapshot tree in sorted order,
// dropping every path m ignores.
func (r *Repository) SnapshotFiles(treeHash string, m *ignore.Matcher) ([]string, error) {
	if treeHash == history.EmptyTree {
		return nil, nil
	}
	tree, err := r.tree(treeHash)
	if err != nil {
		return nil, err
	}

	var files []string
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("walking tree %s: %w", treeHash, err)
		}
		if entry.Mode == filemode.Dir || entry.Mode == filemode.Submodule {
			continue
		}
		if m.Match(name, false) {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files, nil
}

// CommitEntries returns the top-level entries of a commit's tree.
func (r *Repository) CommitEntries(commitHash string) ([]Entry, error) {
	commit, err := r.repo.CommitObject(plumbing.NewHash(commitHash))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("commit %s: %w", commitHash, history.ErrNodeNotFound)
		}
		return nil, fmt.Errorf("reading commit %s: %w", commitHash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree of %s: %w", commitHash, err)
	}

	entries := make([]Entry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		entries = append(entries, Entry{Name: e.Name, Mode: e.Mode, Hash: e.Hash.String()})
	}
	return entries, nil
}

// ReadFile returns the content of path inside a snapshot tree.
func (r *Repository) ReadFile(treeHash, path string) ([]byte, error) {
	tree, err := r.tree(treeHash)
	if err != nil {
		return nil, err
	}
	f, err := tree.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, fmt.Errorf("%s in %s: %w", path, treeHash, history.ErrNodeNotFound)
		}
		return nil, fmt.Errorf("getting file %s: %w", path, err)
	}

	reader, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("opening file %s: %w", path, err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return content, nil
}
