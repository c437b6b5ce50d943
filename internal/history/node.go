// Package history defines the node graph shared by every storage backend:
// node and metadata types, the reader/writer contracts and the error kinds.
package history

import (
	"sort"
	"time"
)

// EmptyTree is the hash of the empty Git tree. It is the input tree of every
// root node.
const EmptyTree = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// MetaVersion is stamped into every metadata.json.
const MetaVersion = "1.0"

// OutputTreeTrailer is the commit-message trailer carrying a node's output tree.
const OutputTreeTrailer = "X-Quipu-Output-Tree"

// NodeType distinguishes plan nodes from drift captures.
type NodeType string

const (
	NodePlan    NodeType = "plan"
	NodeCapture NodeType = "capture"
)

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	return t == NodePlan || t == NodeCapture
}

// Node is one recorded workspace state.
type Node struct {
	CommitHash string
	InputTree  string
	OutputTree string
	Timestamp  time.Time
	Type       NodeType
	Summary    string
	OwnerID    string
	// Filename is an opaque locator, e.g. ".quipu/git_objects/<commit>".
	Filename string
	// Meta is the decoded metadata.json when the backend has it at hand.
	Meta *Metadata

	Parent   *Node
	Children []*Node

	content       string
	contentLoaded bool
}

// ShortHash returns the first 7 hex digits of the commit hash.
func (n *Node) ShortHash() string {
	if len(n.CommitHash) < 7 {
		return n.CommitHash
	}
	return n.CommitHash[:7]
}

// Siblings returns the children of the node's parent, including the node
// itself. A root is its own only sibling.
func (n *Node) Siblings() []*Node {
	if n.Parent == nil || len(n.Parent.Children) == 0 {
		return []*Node{n}
	}
	return n.Parent.Children
}

// Content returns the memoized plan text and whether it has been loaded.
func (n *Node) Content() (string, bool) {
	return n.content, n.contentLoaded
}

// SetContent memoizes the node's content.md body.
func (n *Node) SetContent(content string) {
	n.content = content
	n.contentLoaded = true
}

// IsStub reports whether n is a placeholder carrying only a commit hash and
// output tree, as returned for parents by writers.
func (n *Node) IsStub() bool {
	return n.Type == "" && n.Summary == ""
}

// AddChild links child under n, keeping children in chronological order.
func (n *Node) AddChild(child *Node) {
	child.Parent = n
	n.Children = append(n.Children, child)
	SortByTime(n.Children)
}

// SortByTime sorts nodes by timestamp ascending. Ties keep their order.
func SortByTime(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Timestamp.Before(nodes[j].Timestamp)
	})
}

// Latest returns the most recent node, or nil for an empty slice.
func Latest(nodes []*Node) *Node {
	var latest *Node
	for _, n := range nodes {
		if latest == nil || !n.Timestamp.Before(latest.Timestamp) {
			latest = n
		}
	}
	return latest
}

// Metadata is the body of metadata.json. Field order is fixed by the struct
// and must not change once nodes exist.
type Metadata struct {
	MetaVersion string    `json:"meta_version"`
	Type        NodeType  `json:"type"`
	Summary     string    `json:"summary"`
	Generator   Generator `json:"generator"`
	Env         Env       `json:"env"`
	Exec        Exec      `json:"exec"`
	OwnerID     string    `json:"owner_id,omitempty"`
}

// Generator identifies who produced a node.
type Generator struct {
	ID   string `json:"id"`
	Tool string `json:"tool"`
}

// Env is a best-effort fingerprint of the recording environment.
type Env struct {
	Quipu    string `json:"quipu"`
	Language string `json:"language"`
	OS       string `json:"os"`
}

// Exec records when the operation started (unix seconds) and how long it took.
type Exec struct {
	Start      float64 `json:"start"`
	DurationMS int64   `json:"duration_ms"`
}
