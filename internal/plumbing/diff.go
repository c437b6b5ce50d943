package plumbing

import (
	"context"
	"fmt"
	"strings"
)

// DefaultDiffStatLines bounds DiffStat output.
const DefaultDiffStatLines = 30

// NameStatus is one changed path between two trees.
type NameStatus struct {
	Status string
	Path   string
}

// DiffStat returns `git diff --stat` between two trees, keeping at most
// maxLines lines. The final summary line is always kept.
func (g *Git) DiffStat(ctx context.Context, oldTree, newTree string, maxLines int) (string, error) {
	if maxLines <= 0 {
		maxLines = DefaultDiffStatLines
	}
	out, err := g.run(ctx, "diff", "--stat", oldTree, newTree)
	if err != nil {
		return "", fmt.Errorf("diff --stat %s %s: %w", short(oldTree), short(newTree), err)
	}
	return truncateStat(strings.TrimRight(string(out), "\n"), maxLines), nil
}

func truncateStat(stat string, maxLines int) string {
	if stat == "" {
		return ""
	}
	if maxLines < 3 {
		maxLines = 3
	}
	lines := strings.Split(stat, "\n")
	if len(lines) <= maxLines {
		return stat
	}
	summary := lines[len(lines)-1]
	kept := lines[:maxLines-2]
	omitted := len(lines) - 1 - len(kept)
	return strings.Join(kept, "\n") +
		fmt.Sprintf("\n ... %d more files\n", omitted) +
		summary
}

// DiffNameStatus lists changed paths between two trees with their status
// letter (A, M, D, T, ...).
func (g *Git) DiffNameStatus(ctx context.Context, oldTree, newTree string) ([]NameStatus, error) {
	out, err := g.run(ctx, "diff-tree", "-r", "-z", "--no-renames", "--name-status", oldTree, newTree)
	if err != nil {
		return nil, fmt.Errorf("diff-tree %s %s: %w", short(oldTree), short(newTree), err)
	}

	fields := strings.Split(strings.TrimRight(string(out), "\x00"), "\x00")
	var changes []NameStatus
	for i := 0; i+1 < len(fields); i += 2 {
		changes = append(changes, NameStatus{Status: fields[i], Path: fields[i+1]})
	}
	return changes, nil
}

func short(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
