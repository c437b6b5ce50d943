package plumbing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quipu/internal/gittest"
	"quipu/internal/history"
)

func newGit(t *testing.T) (*Git, string) {
	t.Helper()
	root := gittest.Init(t)
	g, err := New(context.Background(), root)
	require.NoError(t, err)
	return g, root
}

func TestNewNotARepo(t *testing.T) {
	gittest.RequireGit(t)
	_, err := New(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, history.ErrNotARepo)
}

func TestNewFromSubdirectory(t *testing.T) {
	root := gittest.Init(t)
	gittest.WriteFile(t, root, "sub/dir/file.txt", "x")

	g, err := New(context.Background(), filepath.Join(root, "sub", "dir"))
	require.NoError(t, err)
	assert.Equal(t, root, g.Root())
	assert.Equal(t, filepath.Join(root, ".git"), g.GitDir())
	assert.Equal(t, filepath.Join(root, ".quipu"), g.QuipuDir())
}

func TestTreeHashEmptyWorkspace(t *testing.T) {
	g, _ := newGit(t)
	h, err := g.TreeHash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, history.EmptyTree, h)
}

func TestTreeHashIsPure(t *testing.T) {
	ctx := context.Background()
	g, root := newGit(t)
	gittest.WriteFile(t, root, "README.md", "hello")
	gittest.WriteFile(t, root, "src/main.go", "package main")
	gittest.Run(t, root, "add", "README.md")

	statusBefore := gittest.Run(t, root, "status", "--porcelain")

	h1, err := g.TreeHash(ctx)
	require.NoError(t, err)
	h2, err := g.TreeHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	assert.Equal(t, statusBefore, gittest.Run(t, root, "status", "--porcelain"))
	_, err = os.Stat(filepath.Join(root, ".quipu", shadowIndexName))
	assert.True(t, os.IsNotExist(err), "shadow index must be removed")

	// The snapshot carries untracked files too.
	listing := gittest.Run(t, root, "ls-tree", "-r", "--name-only", h1)
	assert.Equal(t, "README.md\nsrc/main.go", listing)
}

func TestTreeHashIgnoresQuipuDir(t *testing.T) {
	ctx := context.Background()
	g, root := newGit(t)
	gittest.WriteFile(t, root, "a.txt", "a")

	before, err := g.TreeHash(ctx)
	require.NoError(t, err)

	gittest.WriteFile(t, root, ".quipu/HEAD", history.EmptyTree)
	gittest.WriteFile(t, root, ".quipu/nested/state", "x")

	after, err := g.TreeHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestObjectRoundTrip(t *testing.T) {
	ctx := context.Background()
	g, root := newGit(t)
	gittest.WriteFile(t, root, "README.md", "hello")
	snapshot, err := g.TreeHash(ctx)
	require.NoError(t, err)

	blob, err := g.HashObject(ctx, []byte("# plan\n"), "blob")
	require.NoError(t, err)
	require.True(t, IsHash(blob))

	tree, err := g.MkTree(ctx, TreeDescriptor([]TreeEntry{
		{Mode: "100444", Name: "content.md", Hash: blob},
		{Mode: "040000", Name: "snapshot", Hash: snapshot},
	}))
	require.NoError(t, err)

	commit, err := g.CommitTree(ctx, tree, nil, "plan\n\nX-Quipu-Output-Tree: "+snapshot+"\n")
	require.NoError(t, err)

	objs, err := g.BatchCatFile(ctx, []string{commit, blob, blob, history.EmptyTree[:39] + "0"})
	require.NoError(t, err)
	require.Len(t, objs, 2, "missing objects are omitted")

	assert.Equal(t, "blob", objs[blob].Type)
	assert.Equal(t, "# plan\n", string(objs[blob].Data))

	gotTree, parents, err := ParseCommitHeader(objs[commit].Data)
	require.NoError(t, err)
	assert.Equal(t, tree, gotTree)
	assert.Empty(t, parents)

	trees, err := g.BatchCatFile(ctx, []string{tree})
	require.NoError(t, err)
	entries, err := ParseTree(trees[tree].Data)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "content.md", entries[0].Name)
	assert.Equal(t, "snapshot", entries[1].Name)
	assert.Equal(t, snapshot, entries[1].Hash)
}

func TestBatchCatFileEmpty(t *testing.T) {
	g, _ := newGit(t)
	objs, err := g.BatchCatFile(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func commitSnapshot(t *testing.T, g *Git, parents []string) (commit, tree string) {
	t.Helper()
	ctx := context.Background()
	tree, err := g.TreeHash(ctx)
	require.NoError(t, err)
	commit, err = g.CommitTree(ctx, tree, parents, "node\n\n"+history.OutputTreeTrailer+": "+tree+"\n")
	require.NoError(t, err)
	require.NoError(t, g.UpdateRef(ctx, LocalHeadRef(commit), commit))
	return commit, tree
}

func TestRefsAndLog(t *testing.T) {
	ctx := context.Background()
	g, root := newGit(t)

	has, err := g.HasQuipuRef(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	found, err := g.CommitByOutputTree(ctx, history.EmptyTree)
	require.NoError(t, err)
	assert.Empty(t, found)

	gittest.WriteFile(t, root, "a.txt", "1")
	c1, t1 := commitSnapshot(t, g, nil)
	gittest.WriteFile(t, root, "a.txt", "2")
	c2, t2 := commitSnapshot(t, g, []string{c1})

	heads, err := g.RefHeads(ctx, RefPrefix)
	require.NoError(t, err)
	assert.Len(t, heads, 2)

	found, err = g.CommitByOutputTree(ctx, t1)
	require.NoError(t, err)
	assert.Equal(t, c1, found)

	records, err := g.LogCommits(ctx, []string{c2})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, c2, records[0].Hash)
	assert.Equal(t, []string{c1}, records[0].Parents)
	assert.Equal(t, t2, ParseOutputTreeTrailer(records[0].Body))

	require.NoError(t, g.DeleteRef(ctx, LocalHeadRef(c1)))
	heads, err = g.RefHeads(ctx, LocalHeadsPrefix)
	require.NoError(t, err)
	require.Len(t, heads, 1)
	assert.Equal(t, RefHead{Commit: c2, Name: LocalHeadRef(c2)}, heads[0])
}

func TestDiff(t *testing.T) {
	ctx := context.Background()
	g, root := newGit(t)
	gittest.WriteFile(t, root, "keep.txt", "same")
	gittest.WriteFile(t, root, "README.md", "hello")
	gittest.WriteFile(t, root, "old.txt", "bye")
	before, err := g.TreeHash(ctx)
	require.NoError(t, err)

	gittest.WriteFile(t, root, "README.md", "hello world")
	require.NoError(t, os.Remove(filepath.Join(root, "old.txt")))
	gittest.WriteFile(t, root, "new.txt", "hi")
	after, err := g.TreeHash(ctx)
	require.NoError(t, err)

	changes, err := g.DiffNameStatus(ctx, before, after)
	require.NoError(t, err)
	assert.ElementsMatch(t, []NameStatus{
		{Status: "M", Path: "README.md"},
		{Status: "D", Path: "old.txt"},
		{Status: "A", Path: "new.txt"},
	}, changes)

	stat, err := g.DiffStat(ctx, before, after, 0)
	require.NoError(t, err)
	assert.Contains(t, stat, "README.md")
	assert.Contains(t, stat, "3 files changed")
}

func TestCheckoutTree(t *testing.T) {
	ctx := context.Background()
	g, root := newGit(t)
	gittest.WriteFile(t, root, "README.md", "hello")
	gittest.WriteFile(t, root, "docs/guide.md", "v1")
	target, err := g.TreeHash(ctx)
	require.NoError(t, err)

	gittest.WriteFile(t, root, "README.md", "changed")
	gittest.WriteFile(t, root, "stray/extra.txt", "x")
	require.NoError(t, os.RemoveAll(filepath.Join(root, "docs")))
	gittest.WriteFile(t, root, ".quipu/HEAD", target)

	require.NoError(t, g.CheckoutTree(ctx, target))

	assert.Equal(t, "hello", gittest.ReadFile(t, root, "README.md"))
	assert.Equal(t, "v1", gittest.ReadFile(t, root, "docs/guide.md"))
	_, err = os.Stat(filepath.Join(root, "stray"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, target, gittest.ReadFile(t, root, ".quipu/HEAD"))

	tracked := gittest.Run(t, root, "ls-files")
	assert.Equal(t, "README.md\ndocs/guide.md", tracked)

	now, err := g.TreeHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, target, now)
}

func TestCommandError(t *testing.T) {
	g, _ := newGit(t)
	_, err := g.run(context.Background(), "cat-file", "-t", strings.Repeat("0", 40))
	require.Error(t, err)

	var cerr *CommandError
	require.True(t, errors.As(err, &cerr))
	assert.NotZero(t, cerr.ExitCode)
	assert.ErrorIs(t, err, history.ErrPlumbingFailed)
}

func TestUserEmail(t *testing.T) {
	g, _ := newGit(t)
	email, err := g.UserEmail(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", email)
}

func TestSyncRefspecs(t *testing.T) {
	ctx := context.Background()
	g, root := newGit(t)
	remote := gittest.InitBare(t)
	gittest.Run(t, root, "remote", "add", "origin", remote)

	ok, err := g.RemoteExists(ctx, "origin")
	require.NoError(t, err)
	assert.True(t, ok)

	gittest.WriteFile(t, root, "a.txt", "1")
	c1, _ := commitSnapshot(t, g, nil)
	gittest.WriteFile(t, root, "a.txt", "2")
	c2, _ := commitSnapshot(t, g, []string{c1})

	require.NoError(t, g.PushQuipuRefs(ctx, "origin", "alice"))
	assert.Equal(t, c1, gittest.Run(t, remote, "rev-parse", UserHeadsPrefix("alice")+c1))

	require.NoError(t, g.FetchQuipuRefs(ctx, "origin", "alice"))
	mirrored, err := g.RefHeads(ctx, RemoteHeadsPrefix("origin", "alice"))
	require.NoError(t, err)
	assert.Len(t, mirrored, 2)

	// Losing a local head is healed by reconcile.
	require.NoError(t, g.DeleteRef(ctx, LocalHeadRef(c2)))
	added, err := g.ReconcileLocalWithRemote(ctx, "origin", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	// A head that never reached the remote is pruned.
	gittest.WriteFile(t, root, "a.txt", "3")
	c3, _ := commitSnapshot(t, g, []string{c2})
	pruned, err := g.PruneLocalFromRemote(ctx, "origin", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	heads, err := g.RefHeads(ctx, LocalHeadsPrefix)
	require.NoError(t, err)
	for _, h := range heads {
		assert.NotEqual(t, c3, h.Commit)
	}
}
