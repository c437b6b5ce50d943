package plumbing

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// shadowIndexName lives under .quipu and exists only while TreeHash runs.
// It is not a lock: two processes hashing the same workspace collide.
const shadowIndexName = "tmp_index"

// TreeHash returns the Git tree hash of the work tree, excluding .quipu. The
// user's index and work tree are left untouched.
func (g *Git) TreeHash(ctx context.Context) (string, error) {
	if err := os.MkdirAll(g.quipuDir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", QuipuDirName, err)
	}

	shadow := filepath.Join(g.quipuDir, shadowIndexName)
	defer os.Remove(shadow)

	// Warm start from the user's index so add -A only re-examines changed
	// paths; an empty index would rehash every file.
	userIndex := filepath.Join(g.gitDir, "index")
	if _, err := os.Stat(userIndex); err == nil {
		if err := copyFile(userIndex, shadow); err != nil {
			return "", fmt.Errorf("seeding shadow index: %w", err)
		}
	} else {
		os.Remove(shadow)
	}

	env := []string{"GIT_INDEX_FILE=" + shadow}

	if _, err := g.exec(ctx, invocation{
		args: []string{"add", "-A", "--ignore-errors"},
		env:  env,
	}); err != nil {
		return "", fmt.Errorf("staging work tree: %w", err)
	}

	if _, err := g.exec(ctx, invocation{
		args: []string{"rm", "--cached", "-r", "-q", "--ignore-unmatch", QuipuDirName},
		env:  env,
	}); err != nil {
		g.logger.Debug("removing .quipu from shadow index", "error", err)
	}

	out, err := g.exec(ctx, invocation{args: []string{"write-tree"}, env: env})
	if err != nil {
		return "", fmt.Errorf("writing tree: %w", err)
	}

	hash := strings.TrimSpace(string(out))
	if !isHex40(hash) {
		return "", fmt.Errorf("write-tree returned %q", hash)
	}
	return hash, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
