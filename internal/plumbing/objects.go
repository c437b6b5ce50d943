package plumbing

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"quipu/internal/history"
)

// Object is a raw Git object read through cat-file.
type Object struct {
	Type string
	Data []byte
}

// TreeEntry is one entry of a tree object.
type TreeEntry struct {
	Mode string
	Name string
	Hash string
}

// Type derives the object type from the entry mode.
func (e TreeEntry) Type() string {
	switch strings.TrimLeft(e.Mode, "0") {
	case "40000":
		return "tree"
	case "160000":
		return "commit"
	default:
		return "blob"
	}
}

// HashObject writes data as an object of the given type and returns its hash.
func (g *Git) HashObject(ctx context.Context, data []byte, objType string) (string, error) {
	out, err := g.exec(ctx, invocation{
		args:  []string{"hash-object", "-w", "-t", objType, "--stdin"},
		stdin: bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", objType, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// TreeDescriptor renders entries in the text form read by git mktree.
func TreeDescriptor(entries []TreeEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s %s\t%s\n", e.Mode, e.Type(), e.Hash, e.Name)
	}
	return b.String()
}

// MkTree writes a tree from a mktree descriptor and returns its hash.
func (g *Git) MkTree(ctx context.Context, descriptor string) (string, error) {
	out, err := g.exec(ctx, invocation{
		args:  []string{"mktree"},
		stdin: strings.NewReader(descriptor),
	})
	if err != nil {
		return "", fmt.Errorf("making tree: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CommitTree creates a commit of tree with the given parents and message.
func (g *Git) CommitTree(ctx context.Context, tree string, parents []string, message string) (string, error) {
	args := []string{"commit-tree", tree}
	for _, p := range parents {
		args = append(args, "-p", p)
	}
	args = append(args, "-F", "-")

	out, err := g.exec(ctx, invocation{args: args, stdin: strings.NewReader(message)})
	if err != nil {
		return "", fmt.Errorf("committing tree %s: %w", tree, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// BatchCatFile reads many objects through one git cat-file --batch process.
// Missing objects are omitted from the result rather than reported.
func (g *Git) BatchCatFile(ctx context.Context, hashes []string) (map[string]Object, error) {
	result := make(map[string]Object, len(hashes))

	seen := make(map[string]bool, len(hashes))
	var want []string
	for _, h := range hashes {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		want = append(want, h)
	}
	if len(want) == 0 {
		return result, nil
	}

	args := []string{"cat-file", "--batch"}
	ctx, span := startSpan(ctx, args)
	defer span.End()

	cmd := exec.CommandContext(ctx, g.bin, args...)
	cmd.Dir = g.root
	cmd.Env = os.Environ()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("cat-file stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("cat-file stdout: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting cat-file: %w", err)
	}

	writeDone := make(chan error, 1)
	go func() {
		w := bufio.NewWriter(stdin)
		for _, h := range want {
			w.WriteString(h)
			w.WriteByte('\n')
		}
		err := w.Flush()
		stdin.Close()
		writeDone <- err
	}()

	r := bufio.NewReader(stdout)
	parseErr := readBatch(r, len(want), result)
	if parseErr != nil {
		cmd.Process.Kill()
	}
	io.Copy(io.Discard, r)
	<-writeDone
	waitErr := cmd.Wait()
	recordExec(ctx, args[0], time.Since(start), firstErr(parseErr, waitErr))

	if parseErr != nil {
		span.RecordError(parseErr)
		span.SetStatus(codes.Error, "malformed cat-file output")
		return nil, parseErr
	}
	if waitErr != nil {
		cerr := &CommandError{Args: args, Stderr: stderr.String(), ExitCode: cmd.ProcessState.ExitCode(), Err: waitErr}
		span.RecordError(cerr)
		span.SetStatus(codes.Error, "git exited non-zero")
		return nil, cerr
	}
	return result, nil
}

// readBatch parses n cat-file --batch responses into result.
func readBatch(r *bufio.Reader, n int, result map[string]Object) error {
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading cat-file header: %w", err)
		}
		fields := strings.Fields(header)
		if len(fields) == 2 && (fields[1] == "missing" || fields[1] == "ambiguous") {
			continue
		}
		if len(fields) != 3 {
			return fmt.Errorf("%w: unexpected cat-file header %q", history.ErrObjectCorrupt, strings.TrimSpace(header))
		}
		size, err := strconv.Atoi(fields[2])
		if err != nil || size < 0 {
			return fmt.Errorf("%w: bad object size in %q", history.ErrObjectCorrupt, strings.TrimSpace(header))
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return fmt.Errorf("reading object %s: %w", fields[0], err)
		}
		if _, err := r.ReadByte(); err != nil {
			return fmt.Errorf("reading object terminator %s: %w", fields[0], err)
		}
		result[fields[0]] = Object{Type: fields[1], Data: data}
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ParseTree decodes a raw (binary) tree object:
// (<mode> SP <name> NUL <20-byte hash>)*.
func ParseTree(data []byte) ([]TreeEntry, error) {
	var entries []TreeEntry
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp <= 0 {
			return nil, fmt.Errorf("%w: tree entry without mode", history.ErrObjectCorrupt)
		}
		mode := string(data[:sp])
		data = data[sp+1:]

		nul := bytes.IndexByte(data, 0)
		if nul < 0 {
			return nil, fmt.Errorf("%w: unterminated tree entry name", history.ErrObjectCorrupt)
		}
		name := string(data[:nul])
		data = data[nul+1:]

		if len(data) < 20 {
			return nil, fmt.Errorf("%w: truncated hash for %q", history.ErrObjectCorrupt, name)
		}
		entries = append(entries, TreeEntry{
			Mode: mode,
			Name: name,
			Hash: hex.EncodeToString(data[:20]),
		})
		data = data[20:]
	}
	return entries, nil
}

// ParseCommitHeader extracts the tree and parent hashes from a raw commit.
func ParseCommitHeader(data []byte) (tree string, parents []string, err error) {
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			break
		}
		switch {
		case strings.HasPrefix(line, "tree "):
			tree = strings.TrimPrefix(line, "tree ")
		case strings.HasPrefix(line, "parent "):
			parents = append(parents, strings.TrimPrefix(line, "parent "))
		}
	}
	if !isHex40(tree) {
		return "", nil, fmt.Errorf("%w: commit without tree", history.ErrObjectCorrupt)
	}
	return tree, parents, nil
}
