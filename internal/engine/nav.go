package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"quipu/internal/plumbing"
)

const (
	headFile   = "HEAD"
	navLogFile = "nav_log"
	navPtrFile = "nav_ptr"

	// maxNavEntries bounds the visit log; older entries are dropped first.
	maxNavEntries = 100
)

// Head returns the tree hash recorded in .quipu/HEAD, or "" when absent.
func (e *Engine) Head() string {
	data, err := os.ReadFile(filepath.Join(e.quipuDir, headFile))
	if err != nil {
		return ""
	}
	h := strings.TrimSpace(string(data))
	if !plumbing.IsHash(h) {
		return ""
	}
	return h
}

func (e *Engine) writeHead(tree string) error {
	return e.writeFile(headFile, tree)
}

func (e *Engine) writeFile(name, content string) error {
	path := filepath.Join(e.quipuDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// NavLog returns the visit log and its cursor. An out-of-range cursor is
// clamped to the tail.
func (e *Engine) NavLog() ([]string, int) {
	var entries []string
	if data, err := os.ReadFile(filepath.Join(e.quipuDir, navLogFile)); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); plumbing.IsHash(line) {
				entries = append(entries, line)
			}
		}
	}

	ptr := len(entries) - 1
	if data, err := os.ReadFile(filepath.Join(e.quipuDir, navPtrFile)); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			ptr = n
		}
	}
	return entries, clamp(ptr, len(entries))
}

func clamp(ptr, n int) int {
	if n == 0 || ptr < 0 {
		return 0
	}
	if ptr >= n {
		return n - 1
	}
	return ptr
}

func (e *Engine) writeNav(entries []string, ptr int) error {
	body := strings.Join(entries, "\n")
	if body != "" {
		body += "\n"
	}
	if err := e.writeFile(navLogFile, body); err != nil {
		return err
	}
	return e.writeNavPtr(ptr)
}

func (e *Engine) writeNavPtr(ptr int) error {
	return e.writeFile(navPtrFile, strconv.Itoa(ptr))
}

// appendNav records a visit to target. prevHead is HEAD as it was before the
// move and seeds an empty log so the first Back returns there.
func (e *Engine) appendNav(prevHead, target string) error {
	entries, ptr := e.NavLog()

	if len(entries) == 0 && prevHead != "" && prevHead != target {
		entries = []string{prevHead}
		ptr = 0
	}
	if len(entries) > 0 && ptr < len(entries)-1 {
		entries = entries[:ptr+1]
	}
	if len(entries) > 0 && entries[len(entries)-1] == target {
		return e.writeNav(entries, len(entries)-1)
	}

	entries = append(entries, target)
	if len(entries) > maxNavEntries {
		entries = entries[len(entries)-maxNavEntries:]
	}
	return e.writeNav(entries, len(entries)-1)
}
