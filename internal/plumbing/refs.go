package plumbing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quipu/internal/history"
)

// Ref namespaces.
const (
	RefPrefix        = "refs/quipu/"
	LocalHeadsPrefix = "refs/quipu/local/heads/"
	usersPrefix      = "refs/quipu/users/"
	remotesPrefix    = "refs/quipu/remotes/"
)

// LocalHeadRef returns the local head ref anchoring commit.
func LocalHeadRef(commit string) string {
	return LocalHeadsPrefix + commit
}

// UserHeadsPrefix is the remote-side namespace of one identity.
func UserHeadsPrefix(userID string) string {
	return usersPrefix + userID + "/heads/"
}

// RemoteHeadsPrefix is the local mirror of a remote identity's heads.
func RemoteHeadsPrefix(remote, userID string) string {
	return remotesPrefix + remote + "/" + userID + "/heads/"
}

// OwnerFromRef maps a head ref to the identity owning it. Local heads belong
// to localUserID; unknown refs return "".
func OwnerFromRef(ref, localUserID string) string {
	switch {
	case strings.HasPrefix(ref, LocalHeadsPrefix):
		return localUserID
	case strings.HasPrefix(ref, remotesPrefix):
		// refs/quipu/remotes/<remote>/<user>/heads/<commit>
		parts := strings.Split(strings.TrimPrefix(ref, remotesPrefix), "/")
		if len(parts) >= 4 && parts[2] == "heads" {
			return parts[1]
		}
	case strings.HasPrefix(ref, usersPrefix):
		// refs/quipu/users/<user>/heads/<commit>
		parts := strings.Split(strings.TrimPrefix(ref, usersPrefix), "/")
		if len(parts) >= 3 && parts[1] == "heads" {
			return parts[0]
		}
	}
	return ""
}

// RefHead is a ref and the commit it points at.
type RefHead struct {
	Commit string
	Name   string
}

// RefHeads lists refs under prefix, sorted by ref name.
func (g *Git) RefHeads(ctx context.Context, prefix string) ([]RefHead, error) {
	out, err := g.run(ctx, "for-each-ref", "--format=%(objectname) %(refname)", strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return nil, fmt.Errorf("listing refs under %s: %w", prefix, err)
	}

	var heads []RefHead
	for _, line := range strings.Split(string(out), "\n") {
		commit, name, ok := strings.Cut(strings.TrimSpace(line), " ")
		if !ok {
			continue
		}
		heads = append(heads, RefHead{Commit: commit, Name: name})
	}
	return heads, nil
}

// HasQuipuRef reports whether any ref exists under refs/quipu/.
func (g *Git) HasQuipuRef(ctx context.Context) (bool, error) {
	heads, err := g.RefHeads(ctx, RefPrefix)
	if err != nil {
		return false, err
	}
	return len(heads) > 0, nil
}

// UpdateRef points ref at commit.
func (g *Git) UpdateRef(ctx context.Context, ref, commit string) error {
	if _, err := g.run(ctx, "update-ref", ref, commit); err != nil {
		return fmt.Errorf("updating %s: %w", ref, err)
	}
	return nil
}

// DeleteRef removes ref.
func (g *Git) DeleteRef(ctx context.Context, ref string) error {
	if _, err := g.run(ctx, "update-ref", "-d", ref); err != nil {
		return fmt.Errorf("deleting %s: %w", ref, err)
	}
	return nil
}

// CommitByOutputTree returns the newest quipu commit whose trailer names
// tree, or "" when none does.
func (g *Git) CommitByOutputTree(ctx context.Context, tree string) (string, error) {
	has, err := g.HasQuipuRef(ctx)
	if err != nil || !has {
		return "", err
	}
	out, err := g.text(ctx, "log", "--glob="+RefPrefix+"*", "-n", "1", "--format=%H",
		"--fixed-strings", "--grep="+history.OutputTreeTrailer+": "+tree)
	if err != nil {
		return "", fmt.Errorf("searching commit for tree %s: %w", tree, err)
	}
	return out, nil
}

// CommitTime returns the committer time of commit.
func (g *Git) CommitTime(ctx context.Context, commit string) (time.Time, error) {
	out, err := g.text(ctx, "show", "-s", "--format=%ct", commit)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading commit time of %s: %w", commit, err)
	}
	ts, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad commit time %q", history.ErrObjectCorrupt, out)
	}
	return time.Unix(ts, 0), nil
}

// CommitRecord is one commit as read by LogCommits.
type CommitRecord struct {
	Hash      string
	Parents   []string
	Tree      string
	Timestamp time.Time
	Body      string
}

const (
	logFieldSep  = "\x1f"
	logRecordSep = "\x1e"
	logFormat    = "%H%x1f%P%x1f%T%x1f%ct%x1f%B%x1e"
)

// LogCommits returns every commit reachable from revs, newest first.
func (g *Git) LogCommits(ctx context.Context, revs []string) ([]CommitRecord, error) {
	if len(revs) == 0 {
		return nil, nil
	}
	out, err := g.exec(ctx, invocation{
		args:  []string{"log", "--stdin", "--format=" + logFormat},
		stdin: strings.NewReader(strings.Join(revs, "\n") + "\n"),
	})
	if err != nil {
		return nil, fmt.Errorf("reading commit log: %w", err)
	}
	return parseLog(string(out))
}

func parseLog(out string) ([]CommitRecord, error) {
	var records []CommitRecord
	for _, raw := range strings.Split(out, logRecordSep) {
		raw = strings.TrimLeft(raw, "\n")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		fields := strings.SplitN(raw, logFieldSep, 5)
		if len(fields) != 5 {
			return nil, fmt.Errorf("%w: malformed log record", history.ErrObjectCorrupt)
		}
		ts, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad commit time %q", history.ErrObjectCorrupt, fields[3])
		}
		records = append(records, CommitRecord{
			Hash:      fields[0],
			Parents:   strings.Fields(fields[1]),
			Tree:      fields[2],
			Timestamp: time.Unix(ts, 0),
			Body:      fields[4],
		})
	}
	return records, nil
}

// ParseOutputTreeTrailer returns the tree named by the X-Quipu-Output-Tree
// trailer of a commit message, or "" when it is missing or malformed.
func ParseOutputTreeTrailer(body string) string {
	prefix := history.OutputTreeTrailer + ":"
	found := ""
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			found = strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	if !isHex40(found) {
		return ""
	}
	return found
}

// FirstLine returns the subject line of a commit message.
func FirstLine(body string) string {
	line, _, _ := strings.Cut(strings.TrimLeft(body, "\n"), "\n")
	return strings.TrimSpace(line)
}
