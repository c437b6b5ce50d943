package plumbing

import (
	"context"
	"fmt"
	"strings"
)

// PushQuipuRefs publishes local heads to refs/quipu/users/<userID>/heads on
// the remote.
func (g *Git) PushQuipuRefs(ctx context.Context, remote, userID string) error {
	refspec := fmt.Sprintf("+%s*:%s*", LocalHeadsPrefix, UserHeadsPrefix(userID))
	if _, err := g.run(ctx, "push", remote, refspec); err != nil {
		return fmt.Errorf("pushing quipu refs to %s: %w", remote, err)
	}
	return nil
}

// FetchQuipuRefs mirrors the heads of each user into
// refs/quipu/remotes/<remote>/<user>/heads, pruning heads deleted remotely.
func (g *Git) FetchQuipuRefs(ctx context.Context, remote string, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	args := []string{"fetch", "--prune", remote}
	for _, u := range userIDs {
		args = append(args, fmt.Sprintf("+%s*:%s*", UserHeadsPrefix(u), RemoteHeadsPrefix(remote, u)))
	}
	if _, err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("fetching quipu refs from %s: %w", remote, err)
	}
	return nil
}

// ReconcileLocalWithRemote adds a local head for every head the remote holds
// for userID, so work pushed from another machine becomes local. It returns
// the number of heads created.
func (g *Git) ReconcileLocalWithRemote(ctx context.Context, remote, userID string) (int, error) {
	local, err := g.headCommits(ctx, LocalHeadsPrefix)
	if err != nil {
		return 0, err
	}
	remoteHeads, err := g.RefHeads(ctx, RemoteHeadsPrefix(remote, userID))
	if err != nil {
		return 0, err
	}

	added := 0
	for _, h := range remoteHeads {
		if local[h.Commit] {
			continue
		}
		if err := g.UpdateRef(ctx, LocalHeadRef(h.Commit), h.Commit); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// PruneLocalFromRemote deletes local heads absent from the remote mirror of
// userID. Call it only after a fetch so the mirror is current.
func (g *Git) PruneLocalFromRemote(ctx context.Context, remote, userID string) (int, error) {
	mirrored, err := g.headCommits(ctx, RemoteHeadsPrefix(remote, userID))
	if err != nil {
		return 0, err
	}
	localHeads, err := g.RefHeads(ctx, LocalHeadsPrefix)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, h := range localHeads {
		if mirrored[h.Commit] {
			continue
		}
		if err := g.DeleteRef(ctx, h.Name); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// headCommits returns the set of commits pointed at by refs under prefix.
func (g *Git) headCommits(ctx context.Context, prefix string) (map[string]bool, error) {
	heads, err := g.RefHeads(ctx, prefix)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(heads))
	for _, h := range heads {
		set[h.Commit] = true
	}
	return set, nil
}

// RemoteExists reports whether remote is configured.
func (g *Git) RemoteExists(ctx context.Context, remote string) (bool, error) {
	out, err := g.text(ctx, "remote")
	if err != nil {
		return false, err
	}
	for _, name := range strings.Fields(out) {
		if name == remote {
			return true, nil
		}
	}
	return false, nil
}
