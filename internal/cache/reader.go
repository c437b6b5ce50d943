package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"quipu/internal/gitstore"
	"quipu/internal/history"
)

// Reader serves the history contract from SQL. Content and raw blobs come
// from Git on a cache miss.
type Reader struct {
	store *Store
	git   *gitstore.Reader
}

// NewReader returns a reader over store falling back to git for content.
func NewReader(store *Store, git *gitstore.Reader) *Reader {
	return &Reader{store: store, git: git}
}

var _ history.Reader = (*Reader)(nil)

const nodeColumns = "commit_hash, owner_id, output_tree, node_type, timestamp, summary, meta_json"

func scanNode(rows *sql.Rows) (*history.Node, error) {
	var (
		n        history.Node
		nodeType string
		ts       float64
		metaJSON string
	)
	if err := rows.Scan(&n.CommitHash, &n.OwnerID, &n.OutputTree, &nodeType, &ts, &n.Summary, &metaJSON); err != nil {
		return nil, fmt.Errorf("scanning node: %w", err)
	}
	n.Type = history.NodeType(nodeType)
	n.Timestamp = fromUnixFloat(ts)
	n.InputTree = history.EmptyTree
	n.Filename = gitstore.FilenamePrefix + n.CommitHash

	var meta history.Metadata
	if json.Unmarshal([]byte(metaJSON), &meta) == nil {
		n.Meta = &meta
	}
	return &n, nil
}

func (r *Reader) queryNodes(ctx context.Context, query string, args ...any) ([]*history.Node, error) {
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*history.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

type edge struct {
	child, parent string
}

func (r *Reader) allEdges(ctx context.Context) ([]edge, error) {
	rows, err := r.store.db.QueryContext(ctx, "SELECT child_hash, parent_hash FROM edges ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	var edges []edge
	for rows.Next() {
		var e edge
		if err := rows.Scan(&e.child, &e.parent); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// LoadAllNodes returns every cached node linked into a forest, oldest first.
// Edges to parents missing from the cache leave the child a root.
func (r *Reader) LoadAllNodes(ctx context.Context) ([]*history.Node, error) {
	nodes, err := r.queryNodes(ctx, "SELECT "+nodeColumns+" FROM nodes ORDER BY timestamp ASC, rowid ASC")
	if err != nil {
		return nil, err
	}
	edges, err := r.allEdges(ctx)
	if err != nil {
		return nil, err
	}

	byCommit := make(map[string]*history.Node, len(nodes))
	for _, n := range nodes {
		byCommit[n.CommitHash] = n
	}
	for _, e := range edges {
		if e.child == e.parent {
			r.store.logger.Warn("skipping self edge", "commit", e.child,
				"error", history.ErrInvariantViolation)
			continue
		}
		child, parent := byCommit[e.child], byCommit[e.parent]
		if child == nil || parent == nil || child.Parent != nil {
			continue
		}
		child.InputTree = parent.OutputTree
		parent.AddChild(child)
	}
	return nodes, nil
}

// NodeCount returns the number of cached nodes.
func (r *Reader) NodeCount(ctx context.Context) (int, error) {
	var n int
	if err := r.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting nodes: %w", err)
	}
	return n, nil
}

// LoadNodesPaginated returns one page of nodes, newest first. Each node's
// Parent is a stub carrying the parent's commit and output tree.
func (r *Reader) LoadNodesPaginated(ctx context.Context, limit, offset int) ([]*history.Node, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	nodes, err := r.queryNodes(ctx,
		"SELECT "+nodeColumns+" FROM nodes ORDER BY timestamp DESC, rowid DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil || len(nodes) == 0 {
		return nodes, err
	}

	byCommit := make(map[string]*history.Node, len(nodes))
	args := make([]any, 0, len(nodes))
	for _, n := range nodes {
		byCommit[n.CommitHash] = n
		args = append(args, n.CommitHash)
	}
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT e.child_hash, p.commit_hash, p.output_tree
		FROM edges e JOIN nodes p ON p.commit_hash = e.parent_hash
		WHERE e.child_hash IN (`+placeholders(len(args))+`) AND e.child_hash != e.parent_hash`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying parents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var child, parent, parentTree string
		if err := rows.Scan(&child, &parent, &parentTree); err != nil {
			return nil, fmt.Errorf("scanning parent: %w", err)
		}
		n := byCommit[child]
		if n == nil || n.Parent != nil {
			continue
		}
		n.Parent = &history.Node{CommitHash: parent, OutputTree: parentTree}
		n.InputTree = parentTree
	}
	return nodes, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

const ancestorsQuery = `
WITH RECURSIVE
	start(hash) AS (SELECT commit_hash FROM nodes WHERE output_tree = ?),
	ancestors(hash) AS (
		SELECT e.parent_hash FROM edges e JOIN start s ON e.child_hash = s.hash
		UNION
		SELECT e.parent_hash FROM edges e JOIN ancestors a ON e.child_hash = a.hash
	)
SELECT n.output_tree FROM nodes n JOIN ancestors a ON n.commit_hash = a.hash
GROUP BY n.output_tree
ORDER BY MAX(n.timestamp) DESC`

const descendantsQuery = `
WITH RECURSIVE
	start(hash) AS (SELECT commit_hash FROM nodes WHERE output_tree = ?),
	descendants(hash) AS (
		SELECT e.child_hash FROM edges e JOIN start s ON e.parent_hash = s.hash
		UNION
		SELECT e.child_hash FROM edges e JOIN descendants d ON e.parent_hash = d.hash
	)
SELECT n.output_tree FROM nodes n JOIN descendants d ON n.commit_hash = d.hash
GROUP BY n.output_tree
ORDER BY MIN(n.timestamp) ASC`

// AncestorOutputTrees returns the output trees of every ancestor of the nodes
// producing tree, nearest first.
func (r *Reader) AncestorOutputTrees(ctx context.Context, tree string) ([]string, error) {
	return r.trees(ctx, ancestorsQuery, tree)
}

// DescendantOutputTrees returns the output trees of every descendant of the
// nodes producing tree, oldest first.
func (r *Reader) DescendantOutputTrees(ctx context.Context, tree string) ([]string, error) {
	return r.trees(ctx, descendantsQuery, tree)
}

func (r *Reader) trees(ctx context.Context, query, tree string) ([]string, error) {
	rows, err := r.store.db.QueryContext(ctx, query, tree)
	if err != nil {
		return nil, fmt.Errorf("walking graph from %s: %w", tree, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scanning tree: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// NodeContent returns content.md, reading plan_md_cache first and filling
// it from Git on a miss.
func (r *Reader) NodeContent(ctx context.Context, node *history.Node) (string, error) {
	if content, ok := node.Content(); ok {
		return content, nil
	}

	var cached sql.NullString
	err := r.store.db.QueryRowContext(ctx,
		"SELECT plan_md_cache FROM nodes WHERE commit_hash = ?", node.CommitHash).Scan(&cached)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("reading cached content: %w", err)
	}
	if cached.Valid {
		node.SetContent(cached.String)
		return cached.String, nil
	}

	content, err := r.git.NodeContent(ctx, node)
	if err != nil {
		return "", err
	}
	if _, err := r.store.db.ExecContext(ctx,
		"UPDATE nodes SET plan_md_cache = ? WHERE commit_hash = ?", content, node.CommitHash); err != nil {
		r.store.logger.Warn("caching node content", "commit", node.CommitHash, "error", err)
	}
	return content, nil
}

// NodeBlobs reads the node's blobs from Git.
func (r *Reader) NodeBlobs(ctx context.Context, commit string) (map[string][]byte, error) {
	return r.git.NodeBlobs(ctx, commit)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// FindNodes filters by type and a summary substring, newest first.
func (r *Reader) FindNodes(ctx context.Context, q history.FindQuery) ([]*history.Node, error) {
	var where []string
	var args []any
	if q.Type != "" {
		where = append(where, "node_type = ?")
		args = append(args, string(q.Type))
	}
	if q.SummaryPattern != "" {
		where = append(where, `summary LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likeEscaper.Replace(q.SummaryPattern)+"%")
	}

	query := "SELECT " + nodeColumns + " FROM nodes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, rowid DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	return r.queryNodes(ctx, query, args...)
}
