package gitstore

import (
	"context"

	"quipu/internal/plumbing"
)

// PruneRedundantHeads deletes local heads whose commit is an ancestor of
// another local head. Every commit stays reachable. It returns the number of
// refs deleted.
func PruneRedundantHeads(ctx context.Context, g *plumbing.Git) (int, error) {
	heads, err := g.RefHeads(ctx, plumbing.LocalHeadsPrefix)
	if err != nil || len(heads) < 2 {
		return 0, err
	}

	revs := make([]string, 0, len(heads))
	for _, h := range heads {
		revs = append(revs, h.Commit)
	}
	commits, err := g.LogCommits(ctx, revs)
	if err != nil {
		return 0, err
	}

	covered := make(map[string]bool, len(commits))
	for _, c := range commits {
		for _, p := range c.Parents {
			covered[p] = true
		}
	}

	pruned := 0
	for _, h := range heads {
		if !covered[h.Commit] {
			continue
		}
		if err := g.DeleteRef(ctx, h.Name); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}
