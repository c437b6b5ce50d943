package plumbing

import (
	"context"
	"fmt"
)

// CheckoutTree makes the index and work tree match tree. Uncommitted changes
// are overwritten; callers capture drift first if they want to keep it.
// Untracked files are removed except under .quipu.
func (g *Git) CheckoutTree(ctx context.Context, tree string) error {
	if _, err := g.run(ctx, "read-tree", "--reset", "-u", tree); err != nil {
		return fmt.Errorf("reading tree %s: %w", short(tree), err)
	}
	if _, err := g.run(ctx, "clean", "-df", "-e", QuipuDirName); err != nil {
		return fmt.Errorf("cleaning work tree: %w", err)
	}
	return nil
}
