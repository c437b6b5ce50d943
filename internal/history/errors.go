package history

import "errors"

var (
	// ErrEnvMissing means the git executable could not be found.
	ErrEnvMissing = errors.New("git executable not found")
	// ErrNotARepo means the workspace is not inside a Git repository.
	ErrNotARepo = errors.New("not a git repository")
	// ErrPlumbingFailed is matched by every failed git invocation.
	ErrPlumbingFailed = errors.New("git command failed")
	// ErrObjectCorrupt marks a commit, tree or blob that could not be decoded.
	ErrObjectCorrupt = errors.New("object corrupt")
	// ErrCacheDesync marks a SQL write that failed after the Git commit succeeded.
	ErrCacheDesync = errors.New("cache out of sync with git")
	// ErrCancelled is returned when a confirmation handler declines.
	ErrCancelled = errors.New("operation cancelled")
	// ErrInvariantViolation marks internal inconsistencies such as self-edges.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrNodeNotFound is returned by lookups that match nothing.
	ErrNodeNotFound = errors.New("node not found")
	// ErrAmbiguous is returned by prefix lookups matching several nodes.
	ErrAmbiguous = errors.New("ambiguous node reference")
)
