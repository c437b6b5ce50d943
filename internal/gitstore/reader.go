package gitstore

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"quipu/internal/history"
	"quipu/internal/plumbing"
)

// Reader loads the graph straight from Git objects. Pagination and graph
// queries load everything and work in memory.
type Reader struct {
	git     *plumbing.Git
	scanner *Scanner
}

// NewReader returns a reader attributing local heads to localUserID.
func NewReader(g *plumbing.Git, localUserID string, opts ...Option) *Reader {
	return &Reader{git: g, scanner: NewScanner(g, localUserID, opts...)}
}

var _ history.Reader = (*Reader)(nil)

// LoadAllNodes materializes every decodable commit. A child whose parent was
// skipped becomes a root with the empty tree as input.
func (r *Reader) LoadAllNodes(ctx context.Context) ([]*history.Node, error) {
	records, err := r.scanner.Scan(ctx, nil)
	if err != nil {
		return nil, err
	}
	return BuildGraph(records), nil
}

// BuildGraph links records, given newest first, into a forest ordered by
// timestamp ascending. Nodes sharing a timestamp keep parent-before-child
// order.
func BuildGraph(records []Record) []*history.Node {
	byCommit := make(map[string]*history.Node, len(records))
	nodes := make([]*history.Node, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		rec := &records[i]
		meta := rec.Meta
		n := &history.Node{
			CommitHash: rec.Commit,
			InputTree:  history.EmptyTree,
			OutputTree: rec.OutputTree,
			Timestamp:  rec.Timestamp,
			Type:       meta.Type,
			Summary:    meta.Summary,
			OwnerID:    rec.OwnerID,
			Filename:   FilenamePrefix + rec.Commit,
			Meta:       &meta,
		}
		byCommit[rec.Commit] = n
		nodes = append(nodes, n)
	}

	for i := len(records) - 1; i >= 0; i-- {
		rec := &records[i]
		if len(rec.Parents) == 0 {
			continue
		}
		parent, ok := byCommit[rec.Parents[0]]
		if !ok {
			continue
		}
		child := byCommit[rec.Commit]
		child.InputTree = parent.OutputTree
		parent.AddChild(child)
	}

	history.SortByTime(nodes)
	return nodes
}

// NodeCount returns the number of decodable nodes.
func (r *Reader) NodeCount(ctx context.Context) (int, error) {
	records, err := r.scanner.Scan(ctx, nil)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// LoadNodesPaginated returns nodes newest first.
func (r *Reader) LoadNodesPaginated(ctx context.Context, limit, offset int) ([]*history.Node, error) {
	nodes, err := r.LoadAllNodes(ctx)
	if err != nil {
		return nil, err
	}
	return paginate(newestFirst(nodes), limit, offset), nil
}

func newestFirst(nodes []*history.Node) []*history.Node {
	out := make([]*history.Node, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		out = append(out, nodes[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func paginate(nodes []*history.Node, limit, offset int) []*history.Node {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(nodes) {
		return nil
	}
	nodes = nodes[offset:]
	if limit > 0 && limit < len(nodes) {
		nodes = nodes[:limit]
	}
	return nodes
}

// AncestorOutputTrees returns the output trees of every ancestor of the nodes
// producing tree, nearest first.
func (r *Reader) AncestorOutputTrees(ctx context.Context, tree string) ([]string, error) {
	nodes, err := r.LoadAllNodes(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	seen := map[string]bool{}
	for _, n := range nodes {
		if n.OutputTree != tree {
			continue
		}
		for p := n.Parent; p != nil; p = p.Parent {
			if !seen[p.CommitHash] {
				seen[p.CommitHash] = true
				out = appendUnique(out, p.OutputTree)
			}
		}
	}
	return out, nil
}

// DescendantOutputTrees returns the output trees of every descendant of the
// nodes producing tree, breadth first.
func (r *Reader) DescendantOutputTrees(ctx context.Context, tree string) ([]string, error) {
	nodes, err := r.LoadAllNodes(ctx)
	if err != nil {
		return nil, err
	}
	var queue []*history.Node
	for _, n := range nodes {
		if n.OutputTree == tree {
			queue = append(queue, n.Children...)
		}
	}
	var out []string
	seen := map[string]bool{}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n.CommitHash] {
			continue
		}
		seen[n.CommitHash] = true
		out = appendUnique(out, n.OutputTree)
		queue = append(queue, n.Children...)
	}
	return out, nil
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// NodeContent returns content.md of the node, memoizing it.
func (r *Reader) NodeContent(ctx context.Context, node *history.Node) (string, error) {
	if content, ok := node.Content(); ok {
		return content, nil
	}
	blobs, err := r.NodeBlobs(ctx, node.CommitHash)
	if err != nil {
		return "", err
	}
	content := string(blobs[ContentFile])
	node.SetContent(content)
	return content, nil
}

// NodeBlobs returns the blob entries of a node commit's tree keyed by name.
// The snapshot subtree is not included.
func (r *Reader) NodeBlobs(ctx context.Context, commit string) (map[string][]byte, error) {
	objs, err := r.git.BatchCatFile(ctx, []string{commit})
	if err != nil {
		return nil, err
	}
	c, ok := objs[commit]
	if !ok || c.Type != "commit" {
		return nil, fmt.Errorf("%w: %s", history.ErrNodeNotFound, commit)
	}
	tree, _, err := plumbing.ParseCommitHeader(c.Data)
	if err != nil {
		return nil, err
	}

	objs, err = r.git.BatchCatFile(ctx, []string{tree})
	if err != nil {
		return nil, err
	}
	t, ok := objs[tree]
	if !ok {
		return nil, fmt.Errorf("%w: tree %s of %s missing", history.ErrObjectCorrupt, tree, commit)
	}
	entries, err := plumbing.ParseTree(t.Data)
	if err != nil {
		return nil, err
	}

	var hashes []string
	for _, e := range entries {
		if e.Type() == "blob" {
			hashes = append(hashes, e.Hash)
		}
	}
	objs, err = r.git.BatchCatFile(ctx, hashes)
	if err != nil {
		return nil, err
	}
	blobs := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if obj, ok := objs[e.Hash]; ok && e.Type() == "blob" {
			blobs[e.Name] = obj.Data
		}
	}
	return blobs, nil
}

// FindNodes filters nodes by type and a case-insensitive summary regular
// expression, newest first.
func (r *Reader) FindNodes(ctx context.Context, q history.FindQuery) ([]*history.Node, error) {
	var re *regexp.Regexp
	if q.SummaryPattern != "" {
		var err error
		re, err = regexp.Compile("(?i)" + q.SummaryPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid summary pattern: %w", err)
		}
	}

	nodes, err := r.LoadAllNodes(ctx)
	if err != nil {
		return nil, err
	}
	var out []*history.Node
	for _, n := range newestFirst(nodes) {
		if q.Type != "" && n.Type != q.Type {
			continue
		}
		if re != nil && !re.MatchString(n.Summary) {
			continue
		}
		out = append(out, n)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}
