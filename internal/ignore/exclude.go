package ignore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Markers delimiting the block quipu owns in .git/info/exclude.
const (
	BlockStart = "# --- Managed by Quipu ---"
	BlockEnd   = "# --- End Managed by Quipu ---"
)

// ExcludePath returns the local exclude file of a git directory.
func ExcludePath(gitDir string) string {
	return filepath.Join(gitDir, "info", "exclude")
}

// SyncExcludeBlock writes patterns into the managed block of
// <gitDir>/info/exclude. The file is created when absent, an existing block
// is replaced in place, and lines outside the block are preserved.
func SyncExcludeBlock(gitDir string, patterns []string) error {
	path := ExcludePath(gitDir)

	current, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	updated := MergeBlock(string(current), patterns)
	if updated == string(current) {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// MergeBlock returns content with its managed block set to patterns.
func MergeBlock(content string, patterns []string) string {
	var block strings.Builder
	block.WriteString(BlockStart + "\n")
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			block.WriteString(p + "\n")
		}
	}
	block.WriteString(BlockEnd + "\n")

	start := strings.Index(content, BlockStart)
	if start >= 0 {
		if rel := strings.Index(content[start:], BlockEnd); rel >= 0 {
			end := start + rel + len(BlockEnd)
			if end < len(content) && content[end] == '\n' {
				end++
			}
			return content[:start] + block.String() + content[end:]
		}
		// An unterminated block runs to the end of the file.
		return content[:start] + block.String()
	}

	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if content != "" {
		content += "\n"
	}
	return content + block.String()
}
