package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quipu/internal/config"
	"quipu/internal/export"
	"quipu/internal/gittest"
	"quipu/internal/history"
)

// TestRootCommand tests that the root command is properly configured
func TestRootCommand(t *testing.T) {
	assert.Equal(t, "quipu", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.Equal(t, Version, rootCmd.Version)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("work-dir"))
}

// TestCommandsRegistered checks every command is reachable and runnable.
func TestCommandsRegistered(t *testing.T) {
	for _, path := range [][]string{
		{"status"}, {"log"}, {"find"}, {"show"}, {"ls"}, {"cat"},
		{"save"}, {"checkout"}, {"back"}, {"forward"},
		{"cache", "sync"}, {"cache", "rebuild"}, {"cache", "prune-refs"},
		{"sync"}, {"export"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		assert.Equal(t, path[len(path)-1], cmd.Name())
		assert.NotNil(t, cmd.RunE, strings.Join(path, " "))
	}
	assert.True(t, cacheCmd.HasSubCommands())
}

func TestDefaultWorkDir(t *testing.T) {
	t.Setenv(EnvWorkDir, "")
	assert.Equal(t, ".", defaultWorkDir())
	t.Setenv(EnvWorkDir, "/srv/ws")
	assert.Equal(t, "/srv/ws", defaultWorkDir())
}

func resetFlags() {
	saveMessage = ""
	checkoutNoCapture, stepNoCapture, assumeYes = false, false, false
	logLimit, logOffset = 20, 0
	findType, findLimit = "", 0
	showMeta, showTree = false, false
	syncRemote, syncPrune = "", false
	exportOutput, exportType = "quipu-export.tar.zst", ""
}

type cli struct {
	t     *testing.T
	root  string
	clock int64
	stdin string
}

func newCLI(t *testing.T) *cli {
	t.Setenv("QUIPU_LOG_LEVEL", "error")
	return &cli{t: t, root: gittest.Init(t), clock: 1700000000}
}

func (c *cli) exec(args ...string) (string, error) {
	c.t.Helper()
	resetFlags()
	c.clock += 10
	c.t.Setenv("GIT_COMMITTER_DATE", fmt.Sprintf("%d +0000", c.clock))

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(c.stdin))
	c.stdin = ""
	rootCmd.SetArgs(append([]string{"--work-dir", c.root}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func (c *cli) run(args ...string) string {
	c.t.Helper()
	out, err := c.exec(args...)
	require.NoError(c.t, err, "quipu %s", strings.Join(args, " "))
	return out
}

func firstField(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func TestWorkflow(t *testing.T) {
	c := newCLI(t)

	assert.Contains(t, c.run("status"), "CLEAN")

	gittest.WriteFile(t, c.root, "a.txt", "one")
	assert.Contains(t, c.run("status"), "ORPHAN")
	assert.Contains(t, c.run("save", "-m", "first"), "Saved")
	assert.Contains(t, c.run("save"), "Nothing to save")

	gittest.WriteFile(t, c.root, "a.txt", "two")
	assert.Contains(t, c.run("status"), "DIRTY")
	c.run("save", "-m", "second")

	log := c.run("log", "-n", "0")
	lines := strings.Split(strings.TrimSpace(log), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "* "), "current node is marked")
	assert.Contains(t, lines[0], "second")
	assert.Contains(t, lines[1], "first")

	assert.Contains(t, c.run("back"), "Moved to")
	assert.Equal(t, "one", gittest.ReadFile(t, c.root, "a.txt"))
	assert.Contains(t, c.run("back"), "Already at the oldest")
	c.run("forward")
	assert.Equal(t, "two", gittest.ReadFile(t, c.root, "a.txt"))
	assert.Contains(t, c.run("forward"), "Already at the newest")

	found := c.run("find", "first")
	short := firstField(found)
	require.Len(t, short, 7)
	assert.NotContains(t, found, "second")

	show := c.run("show", short)
	assert.Contains(t, show, `"type": "capture"`)
	assert.Contains(t, show, "# Snapshot Capture")
	assert.NotContains(t, c.run("show", "--meta", short), "# Snapshot Capture")

	assert.Equal(t, "a.txt\n", c.run("ls"))
	assert.Equal(t, "one", c.run("cat", short, "a.txt"))
	_, err := c.exec("cat", short, "missing.txt")
	assert.ErrorIs(t, err, history.ErrNodeNotFound)

	listing := c.run("show", "--tree", short)
	assert.Contains(t, listing, "100444 blob ")
	assert.Contains(t, listing, "\tcontent.md\n")
	assert.Contains(t, listing, "040000 tree ")

	assert.Contains(t, c.run("checkout", short), "Checked out")
	assert.Equal(t, "one", gittest.ReadFile(t, c.root, "a.txt"))
	assert.Contains(t, c.run("status"), "CLEAN")

	archive := filepath.Join(t.TempDir(), "history.tar.zst")
	assert.Contains(t, c.run("export", "-o", archive), "Exported 2 node(s)")
	f, err := os.Open(archive)
	require.NoError(t, err)
	defer f.Close()
	entries, err := export.ReadArchive(f)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].Meta.Summary, "first")

	assert.Contains(t, c.run("cache", "prune-refs"), "Pruned 1 redundant head(s)")
	assert.Len(t, strings.Split(strings.TrimSpace(c.run("log")), "\n"), 2)
}

func TestCheckoutCapturesDrift(t *testing.T) {
	c := newCLI(t)
	gittest.WriteFile(t, c.root, "a.txt", "one")
	c.run("save", "-m", "base")
	short := firstField(c.run("find", "base"))

	gittest.WriteFile(t, c.root, "a.txt", "edited")
	out := c.run("checkout", short)
	assert.Contains(t, out, "Saved unrecorded changes")
	assert.Equal(t, "one", gittest.ReadFile(t, c.root, "a.txt"))
	assert.Len(t, strings.Split(strings.TrimSpace(c.run("log")), "\n"), 2)
}

func TestBackCapturesDrift(t *testing.T) {
	c := newCLI(t)
	gittest.WriteFile(t, c.root, "a.txt", "one")
	c.run("save", "-m", "one")
	gittest.WriteFile(t, c.root, "a.txt", "two")
	c.run("save", "-m", "two")

	gittest.WriteFile(t, c.root, "a.txt", "three")
	out := c.run("back")
	assert.Contains(t, out, "Saved unrecorded changes")
	assert.Contains(t, out, "Moved to")
	assert.Equal(t, "two", gittest.ReadFile(t, c.root, "a.txt"))
	assert.Len(t, strings.Split(strings.TrimSpace(c.run("log")), "\n"), 3)

	c.run("forward")
	assert.Equal(t, "three", gittest.ReadFile(t, c.root, "a.txt"))
}

func TestBackWithoutCaptureDiscardsDrift(t *testing.T) {
	c := newCLI(t)
	gittest.WriteFile(t, c.root, "a.txt", "one")
	c.run("save", "-m", "one")
	gittest.WriteFile(t, c.root, "a.txt", "two")
	c.run("save", "-m", "two")

	gittest.WriteFile(t, c.root, "a.txt", "scratch")
	c.stdin = "n\n"
	_, err := c.exec("back", "--no-capture")
	assert.ErrorIs(t, err, history.ErrCancelled)
	assert.Equal(t, "scratch", gittest.ReadFile(t, c.root, "a.txt"))

	c.stdin = "y\n"
	out := c.run("back", "--no-capture")
	assert.NotContains(t, out, "Saved")
	assert.Equal(t, "one", gittest.ReadFile(t, c.root, "a.txt"))
	assert.Len(t, strings.Split(strings.TrimSpace(c.run("log")), "\n"), 2)

	gittest.WriteFile(t, c.root, "a.txt", "scratch again")
	c.run("forward", "--no-capture", "--yes")
	assert.Equal(t, "two", gittest.ReadFile(t, c.root, "a.txt"))
}

func TestSQLiteCacheCommands(t *testing.T) {
	c := newCLI(t)
	cfg := config.DefaultConfig()
	cfg.Storage.Type = config.StorageSQLite
	require.NoError(t, config.Save(filepath.Join(c.root, ".quipu"), cfg))

	gittest.WriteFile(t, c.root, "a.txt", "one")
	c.run("save", "-m", "first")

	assert.Contains(t, c.run("cache", "sync"), "Cached 0 new node(s)")
	assert.Contains(t, c.run("cache", "rebuild"), "Rebuilt cache with 1 node(s)")
	assert.Contains(t, c.run("log"), "first")
	assert.Contains(t, c.run("status"), "Storage: sqlite")
}

func TestSync(t *testing.T) {
	c := newCLI(t)
	bare := gittest.InitBare(t)
	gittest.Run(t, c.root, "remote", "add", "origin", bare)

	gittest.WriteFile(t, c.root, "a.txt", "one")
	c.run("save", "-m", "shared")

	out := c.run("sync")
	assert.Contains(t, out, "Pushed local heads to origin")

	cfg, err := config.Load(filepath.Join(c.root, ".quipu"))
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Sync.UserID)

	remoteRefs := gittest.Run(t, bare, "for-each-ref", "--format=%(refname)", "refs/quipu/users/"+cfg.Sync.UserID+"/heads/")
	assert.NotEmpty(t, remoteRefs)
	mirrored := gittest.Run(t, c.root, "for-each-ref", "--format=%(refname)", "refs/quipu/remotes/origin/"+cfg.Sync.UserID+"/heads/")
	assert.NotEmpty(t, mirrored)
}

func TestCommandErrors(t *testing.T) {
	c := newCLI(t)

	_, err := c.exec("show", "deadbeef")
	assert.Error(t, err)

	_, err = c.exec("find", "-t", "bogus")
	assert.ErrorContains(t, err, "unknown node type")

	_, err = c.exec("sync")
	assert.ErrorContains(t, err, "not configured")

	_, err = c.exec("cache", "sync")
	assert.ErrorIs(t, err, errNoCache)
}
