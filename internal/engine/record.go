package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quipu/internal/history"
	"quipu/internal/plumbing"
)

// CaptureDrift records the work tree at current as a capture node. The parent
// is the node HEAD points at; when HEAD is unknown the most recent node is
// used instead, and with no history the capture becomes a root.
//
// Capturing a tree that already has a node and equals the resolved input is a
// no-op returning that node.
func (e *Engine) CaptureDrift(ctx context.Context, current, message string) (*history.Node, error) {
	prevHead := e.Head()
	input, parent := e.captureBase(prevHead)

	if input == current {
		if n := e.byTree[current]; n != nil {
			e.logger.Debug("nothing to capture", "tree", current)
			return n, nil
		}
	}

	stat, err := e.git.DiffStat(ctx, input, current, plumbing.DefaultDiffStatLines)
	if err != nil {
		return nil, fmt.Errorf("computing capture diff: %w", err)
	}

	spec := history.NodeSpec{
		Type:       history.NodeCapture,
		InputTree:  input,
		OutputTree: current,
		Content:    CaptureBody(message, stat),
		Message:    message,
		OwnerID:    e.userID,
	}
	if parent != nil {
		spec.ParentCommit = parent.CommitHash
	}
	return e.record(ctx, spec, prevHead)
}

// captureBase resolves the input tree and parent node of a capture.
func (e *Engine) captureBase(head string) (string, *history.Node) {
	if head != "" {
		if n := e.byTree[head]; n != nil {
			return head, n
		}
	}
	if latest := history.Latest(e.nodes); latest != nil {
		e.logger.Warn("HEAD does not match any node; capturing on top of the most recent node",
			"head", head, "fallback", latest.OutputTree, "commit", latest.ShortHash())
		return latest.OutputTree, latest
	}
	return history.EmptyTree, nil
}

// CaptureBody renders the content.md of a capture node.
func CaptureBody(message, stat string) string {
	var b strings.Builder
	b.WriteString("# Snapshot Capture\n\n")
	if msg := strings.TrimSpace(message); msg != "" {
		b.WriteString("### Message\n\n")
		b.WriteString(msg)
		b.WriteString("\n\n")
	}
	b.WriteString("Detected changes in the workspace:\n\n```\n")
	if s := strings.TrimRight(stat, "\n"); s != "" {
		b.WriteString(s)
	} else {
		b.WriteString("(no file changes)")
	}
	b.WriteString("\n```\n")
	return b.String()
}

// PlanOption customizes a plan node.
type PlanOption func(*history.NodeSpec)

// WithSummary overrides the summary derived from the plan text.
func WithSummary(s string) PlanOption {
	return func(spec *history.NodeSpec) { spec.SummaryOverride = s }
}

// WithIntent attaches private context kept only in the local cache.
func WithIntent(s string) PlanOption {
	return func(spec *history.NodeSpec) { spec.Intent = s }
}

// WithStartTime sets when the plan started executing.
func WithStartTime(t time.Time) PlanOption {
	return func(spec *history.NodeSpec) { spec.StartTime = t }
}

// CreatePlanNode records a plan execution that took the work tree from input
// to output. A node is written even when the trees are equal.
func (e *Engine) CreatePlanNode(ctx context.Context, input, output, content string, opts ...PlanOption) (*history.Node, error) {
	if input == "" {
		input = history.EmptyTree
	}
	spec := history.NodeSpec{
		Type:       history.NodePlan,
		InputTree:  input,
		OutputTree: output,
		Content:    content,
		OwnerID:    e.userID,
	}
	for _, opt := range opts {
		opt(&spec)
	}
	if n := e.byTree[input]; n != nil && spec.ParentCommit == "" {
		spec.ParentCommit = n.CommitHash
	}
	return e.record(ctx, spec, e.Head())
}

// record writes a node and advances HEAD and the visit log to its output.
func (e *Engine) record(ctx context.Context, spec history.NodeSpec, prevHead string) (*history.Node, error) {
	node, err := e.writer.CreateNode(ctx, spec)
	if err != nil {
		return nil, err
	}
	e.addNode(node)
	e.current = node

	if err := e.writeHead(node.OutputTree); err != nil {
		return node, err
	}
	if err := e.appendNav(prevHead, node.OutputTree); err != nil {
		return node, err
	}
	e.logger.Info("recorded node", "type", node.Type, "commit", node.ShortHash(), "summary", node.Summary)
	return node, nil
}
