// Package ignore matches gitignore-style patterns against snapshot paths and
// maintains quipu's managed block in .git/info/exclude.
package ignore

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// pattern is one compiled ignore rule.
type pattern struct {
	glob     string
	negated  bool
	dirOnly  bool
	anchored bool
}

// Matcher applies patterns in order; a later match overrides an earlier one,
// so negations re-include paths.
type Matcher struct {
	patterns []pattern
}

// Compile builds a matcher from pattern lines.
func Compile(lines []string) *Matcher {
	m := &Matcher{}
	for _, line := range lines {
		m.AddPattern(line)
	}
	return m
}

// AddPattern adds one pattern. Blank lines and comments are ignored.
func (m *Matcher) AddPattern(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	var p pattern
	if strings.HasPrefix(line, "!") {
		p.negated = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		p.anchored = true
		line = line[1:]
	}
	// Unanchored names without a slash match at any depth.
	if !p.anchored && !strings.Contains(line, "/") {
		line = "**/" + line
	}
	p.glob = line
	m.patterns = append(m.patterns, p)
}

// Empty reports whether the matcher has no patterns.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.patterns) == 0
}

// Match reports whether the slash-separated path, relative to the workspace
// root, is ignored.
func (m *Matcher) Match(path string, isDir bool) bool {
	if m.Empty() {
		return false
	}
	path = strings.TrimPrefix(filepath.ToSlash(path), "./")

	ignored := false
	for _, p := range m.patterns {
		var matched bool
		if p.dirOnly && !isDir {
			matched = matchParent(p.glob, path)
		} else {
			matched = matchGlob(p.glob, path)
		}
		if matched {
			ignored = !p.negated
		}
	}
	return ignored
}

// matchParent reports whether a directory containing path matches glob.
func matchParent(glob, path string) bool {
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if matchGlob(glob, strings.Join(parts[:i], "/")) {
			return true
		}
	}
	return false
}

// matchGlob matches path itself or anything beneath it.
func matchGlob(glob, path string) bool {
	if ok, _ := doublestar.Match(glob, path); ok {
		return true
	}
	if strings.HasSuffix(glob, "/**") {
		return false
	}
	ok, _ := doublestar.Match(glob+"/**", path)
	return ok
}
