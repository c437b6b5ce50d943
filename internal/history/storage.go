package history

import (
	"context"
	"time"
)

// NodeSpec describes a node to record.
type NodeSpec struct {
	Type       NodeType
	InputTree  string
	OutputTree string
	Content    string
	// SummaryOverride replaces the generated summary when set.
	SummaryOverride string
	// Message is the user's note for a capture.
	Message string
	// StartTime is when the recorded operation began; zero means now.
	StartTime time.Time
	OwnerID   string
	// ParentCommit pins the parent; empty means resolve by InputTree.
	ParentCommit string
	// Intent is private plan context kept only in the local cache.
	Intent string
}

// FindQuery filters nodes. Zero fields do not filter.
type FindQuery struct {
	SummaryPattern string
	Type           NodeType
	Limit          int
}

// Reader loads the node graph from a backend.
type Reader interface {
	// LoadAllNodes returns every node, linked into a forest, ordered by
	// timestamp ascending.
	LoadAllNodes(ctx context.Context) ([]*Node, error)
	NodeCount(ctx context.Context) (int, error)
	// LoadNodesPaginated returns nodes newest first.
	LoadNodesPaginated(ctx context.Context, limit, offset int) ([]*Node, error)
	AncestorOutputTrees(ctx context.Context, tree string) ([]string, error)
	DescendantOutputTrees(ctx context.Context, tree string) ([]string, error)
	NodeContent(ctx context.Context, node *Node) (string, error)
	NodeBlobs(ctx context.Context, commit string) (map[string][]byte, error)
	FindNodes(ctx context.Context, q FindQuery) ([]*Node, error)
}

// Writer records new nodes.
type Writer interface {
	CreateNode(ctx context.Context, spec NodeSpec) (*Node, error)
}

// AlignStatus classifies the workspace against the graph.
type AlignStatus string

const (
	StatusClean  AlignStatus = "CLEAN"
	StatusDirty  AlignStatus = "DIRTY"
	StatusOrphan AlignStatus = "ORPHAN"
)
