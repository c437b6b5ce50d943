package gitstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"quipu/internal/history"
	"quipu/internal/plumbing"
)

// Record is one decoded node commit.
type Record struct {
	Commit     string
	Parents    []string
	Timestamp  time.Time
	OutputTree string
	OwnerID    string
	Meta       history.Metadata
	MetaJSON   []byte
}

// Scanner decodes every commit reachable from refs/quipu/.
type Scanner struct {
	git         *plumbing.Git
	localUserID string
	logger      *slog.Logger
}

// NewScanner returns a scanner attributing local heads to localUserID.
func NewScanner(g *plumbing.Git, localUserID string, opts ...Option) *Scanner {
	o := buildOptions(opts)
	return &Scanner{git: g, localUserID: localUserID, logger: o.logger}
}

// Scan walks refs/quipu/ and decodes the commits accepted by want (all when
// want is nil). Commits without a trailer or a readable metadata.json are
// skipped with a warning. Records are returned newest first.
func (s *Scanner) Scan(ctx context.Context, want func(commit string) bool) ([]Record, error) {
	heads, err := s.git.RefHeads(ctx, plumbing.RefPrefix)
	if err != nil {
		return nil, err
	}
	if len(heads) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(heads))
	var revs []string
	for _, h := range heads {
		if !seen[h.Commit] {
			seen[h.Commit] = true
			revs = append(revs, h.Commit)
		}
	}
	commits, err := s.git.LogCommits(ctx, revs)
	if err != nil {
		return nil, err
	}
	owners := assignOwners(heads, commits, s.localUserID)

	type pending struct {
		rec  plumbing.CommitRecord
		tree string
	}
	var todo []pending
	var trees []string
	for _, c := range commits {
		if want != nil && !want(c.Hash) {
			continue
		}
		out := plumbing.ParseOutputTreeTrailer(c.Body)
		if out == "" {
			s.logger.Warn("skipping commit without output tree trailer", "commit", c.Hash)
			continue
		}
		todo = append(todo, pending{rec: c, tree: out})
		trees = append(trees, c.Tree)
	}
	if len(todo) == 0 {
		return nil, nil
	}

	treeObjs, err := s.git.BatchCatFile(ctx, trees)
	if err != nil {
		return nil, err
	}
	metaBlobOf := make(map[string]string, len(todo))
	var blobs []string
	for _, p := range todo {
		obj, ok := treeObjs[p.rec.Tree]
		if !ok {
			s.logger.Warn("skipping commit with missing tree", "commit", p.rec.Hash, "tree", p.rec.Tree)
			continue
		}
		entries, err := plumbing.ParseTree(obj.Data)
		if err != nil {
			s.logger.Warn("skipping commit with unreadable tree", "commit", p.rec.Hash, "error", err)
			continue
		}
		for _, e := range entries {
			if e.Name == MetadataFile {
				metaBlobOf[p.rec.Hash] = e.Hash
				blobs = append(blobs, e.Hash)
				break
			}
		}
	}

	metaObjs, err := s.git.BatchCatFile(ctx, blobs)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(todo))
	for _, p := range todo {
		blob, ok := metaBlobOf[p.rec.Hash]
		if !ok {
			if _, hadTree := treeObjs[p.rec.Tree]; hadTree {
				s.logger.Warn("skipping commit without metadata.json", "commit", p.rec.Hash)
			}
			continue
		}
		obj, ok := metaObjs[blob]
		if !ok {
			s.logger.Warn("skipping commit with missing metadata blob", "commit", p.rec.Hash)
			continue
		}
		var meta history.Metadata
		if err := json.Unmarshal(obj.Data, &meta); err != nil {
			s.logger.Warn("skipping commit with invalid metadata", "commit", p.rec.Hash, "error", err)
			continue
		}
		if meta.Summary == "" {
			meta.Summary = plumbing.FirstLine(p.rec.Body)
		}
		owner := owners[p.rec.Hash]
		if owner == "" {
			owner = meta.OwnerID
		}
		records = append(records, Record{
			Commit:     p.rec.Hash,
			Parents:    p.rec.Parents,
			Timestamp:  p.rec.Timestamp,
			OutputTree: p.tree,
			OwnerID:    owner,
			Meta:       meta,
			MetaJSON:   obj.Data,
		})
	}
	return records, nil
}

// assignOwners walks each head's ancestry in ref order; the first head to
// reach a commit owns it.
func assignOwners(heads []plumbing.RefHead, commits []plumbing.CommitRecord, localUserID string) map[string]string {
	parentsOf := make(map[string][]string, len(commits))
	for _, c := range commits {
		parentsOf[c.Hash] = c.Parents
	}

	owners := make(map[string]string, len(commits))
	for _, h := range heads {
		owner := plumbing.OwnerFromRef(h.Name, localUserID)
		if owner == "" {
			continue
		}
		stack := []string{h.Commit}
		for len(stack) > 0 {
			c := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, done := owners[c]; done {
				continue
			}
			if _, known := parentsOf[c]; !known {
				continue
			}
			owners[c] = owner
			stack = append(stack, parentsOf[c]...)
		}
	}
	return owners
}
