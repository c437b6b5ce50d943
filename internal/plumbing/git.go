// Package plumbing is a thin wrapper over the git executable. It hashes the
// workspace through a shadow index, writes blobs, trees and commits, manages
// refs in the quipu namespace and performs incremental checkouts.
//
// Every call shells out to git; there is no in-process object cache, so
// results always reflect the repository on disk.
package plumbing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"quipu/internal/history"
	"quipu/internal/logging"
)

// QuipuDirName is the reserved directory excluded from every tree hash.
const QuipuDirName = ".quipu"

// CommandError is returned when git exits non-zero.
type CommandError struct {
	Args     []string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Unwrap exposes both the exec error and history.ErrPlumbingFailed.
func (e *CommandError) Unwrap() []error {
	return []error{e.Err, history.ErrPlumbingFailed}
}

// Git runs plumbing commands against one work tree.
type Git struct {
	bin      string
	root     string
	gitDir   string
	quipuDir string
	logger   *slog.Logger
}

// Option configures a Git.
type Option func(*Git)

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l *slog.Logger) Option {
	return func(g *Git) { g.logger = logging.OrDiscard(l) }
}

// New locates git and the repository containing dir. It fails with
// history.ErrEnvMissing when git is absent and history.ErrNotARepo when dir is
// not inside a work tree.
func New(ctx context.Context, dir string, opts ...Option) (*Git, error) {
	bin, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", history.ErrEnvMissing, err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}

	g := &Git{bin: bin, root: abs, logger: logging.Discard()}
	for _, opt := range opts {
		opt(g)
	}

	top, err := g.text(ctx, "rev-parse", "--show-toplevel")
	if err != nil || top == "" {
		return nil, fmt.Errorf("%w: %s", history.ErrNotARepo, abs)
	}
	g.root = filepath.Clean(top)

	gitDir, err := g.text(ctx, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return nil, fmt.Errorf("locating git dir: %w", err)
	}
	g.gitDir = filepath.Clean(gitDir)
	g.quipuDir = filepath.Join(g.root, QuipuDirName)

	return g, nil
}

// Root returns the top-level directory of the work tree.
func (g *Git) Root() string { return g.root }

// GitDir returns the absolute path of the .git directory.
func (g *Git) GitDir() string { return g.gitDir }

// QuipuDir returns the absolute path of the reserved .quipu directory.
func (g *Git) QuipuDir() string { return g.quipuDir }

// invocation describes one git process.
type invocation struct {
	args  []string
	stdin io.Reader
	env   []string
}

// exec runs git and returns raw stdout.
func (g *Git) exec(ctx context.Context, inv invocation) ([]byte, error) {
	ctx, span := startSpan(ctx, inv.args)
	defer span.End()

	cmd := exec.CommandContext(ctx, g.bin, inv.args...)
	cmd.Dir = g.root
	cmd.Env = append(os.Environ(), inv.env...)
	if inv.stdin != nil {
		cmd.Stdin = inv.stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	recordExec(ctx, inv.args[0], time.Since(start), err)

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		cerr := &CommandError{
			Args:     inv.args,
			Stderr:   stderr.String(),
			ExitCode: exitCode,
			Err:      err,
		}
		span.RecordError(cerr)
		span.SetStatus(codes.Error, "git exited non-zero")
		return stdout.Bytes(), cerr
	}
	return stdout.Bytes(), nil
}

// run executes git with plain arguments.
func (g *Git) run(ctx context.Context, args ...string) ([]byte, error) {
	return g.exec(ctx, invocation{args: args})
}

// text executes git and returns trimmed stdout.
func (g *Git) text(ctx context.Context, args ...string) (string, error) {
	out, err := g.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// UserEmail returns git config user.email, or "" when it is unset.
func (g *Git) UserEmail(ctx context.Context) (string, error) {
	email, err := g.text(ctx, "config", "user.email")
	if err != nil {
		var cerr *CommandError
		// git config exits 1 when the key is missing
		if errors.As(err, &cerr) && cerr.ExitCode == 1 {
			return "", nil
		}
		return "", err
	}
	return email, nil
}

// isHex40 reports whether s looks like a full SHA-1.
func isHex40(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// IsHash reports whether s is a 40-hex object name.
func IsHash(s string) bool { return isHex40(s) }
