// Package gittest builds throwaway Git repositories for tests.
package gittest

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// RequireGit skips the test when the git binary is unavailable.
func RequireGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// Init creates an empty repository with a deterministic identity and returns
// its root.
func Init(t testing.TB) string {
	t.Helper()
	RequireGit(t)

	dir := t.TempDir()
	// macOS tempdirs live behind a symlink; git reports the resolved path.
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	Run(t, dir, "init", "-q")
	Run(t, dir, "config", "user.email", "dev@example.com")
	Run(t, dir, "config", "user.name", "Dev")
	Run(t, dir, "config", "commit.gpgsign", "false")
	return dir
}

// InitBare creates a bare repository usable as a remote.
func InitBare(t testing.TB) string {
	t.Helper()
	RequireGit(t)

	dir := t.TempDir()
	Run(t, dir, "init", "-q", "--bare")
	return dir
}

// Run executes git in dir and returns trimmed stdout.
func Run(t testing.TB, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Dev", "GIT_AUTHOR_EMAIL=dev@example.com",
		"GIT_COMMITTER_NAME=Dev", "GIT_COMMITTER_EMAIL=dev@example.com",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), stderr.String())
	return strings.TrimSpace(string(out))
}

// WriteFile writes content to root/rel, creating parent directories.
func WriteFile(t testing.TB, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// ReadFile returns the content of root/rel.
func ReadFile(t testing.TB, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}
