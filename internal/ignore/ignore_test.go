package ignore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher(t *testing.T) {
	m := Compile([]string{
		"# comment",
		"",
		"*.log",
		"!keep.log",
		"build/",
		"/secrets.txt",
		"docs/*.tmp",
	})

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"app.log", false, true},
		{"deep/nested/app.log", false, true},
		{"keep.log", false, false},
		{"build", true, true},
		{"build/out.bin", false, true},
		{"src/build/out.bin", false, true},
		{"build", false, false},
		{"secrets.txt", false, true},
		{"sub/secrets.txt", false, false},
		{"docs/a.tmp", false, true},
		{"docs/sub/a.tmp", false, false},
		{"main.go", false, false},
		{"./app.log", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.path, tt.isDir))
		})
	}
}

func TestMatcherDirectoryNameCoversContents(t *testing.T) {
	m := Compile([]string{"node_modules"})
	assert.True(t, m.Match("node_modules", true))
	assert.True(t, m.Match("web/node_modules/react/index.js", false))
	assert.False(t, m.Match("node_modules_backup.txt", false))
}

func TestEmptyMatcher(t *testing.T) {
	var m *Matcher
	assert.True(t, m.Empty())
	assert.False(t, m.Match("anything", false))
	assert.True(t, Compile([]string{"", "  ", "# only comments"}).Empty())
}

func TestMergeBlock(t *testing.T) {
	t.Run("empty file", func(t *testing.T) {
		got := MergeBlock("", []string{".idea", "o.md"})
		assert.Equal(t, BlockStart+"\n.idea\no.md\n"+BlockEnd+"\n", got)
	})

	t.Run("appends after user content", func(t *testing.T) {
		got := MergeBlock("*.swp", []string{"o.md"})
		assert.Equal(t, "*.swp\n\n"+BlockStart+"\no.md\n"+BlockEnd+"\n", got)
	})

	t.Run("replaces existing block in place", func(t *testing.T) {
		before := "top\n" + BlockStart + "\nold\n" + BlockEnd + "\nbottom\n"
		got := MergeBlock(before, []string{"new", "  ", "other"})
		assert.Equal(t, "top\n"+BlockStart+"\nnew\nother\n"+BlockEnd+"\nbottom\n", got)
	})

	t.Run("unterminated block is replaced to end of file", func(t *testing.T) {
		before := "top\n" + BlockStart + "\nold\nstale\n"
		got := MergeBlock(before, []string{"new"})
		assert.Equal(t, "top\n"+BlockStart+"\nnew\n"+BlockEnd+"\n", got)
		assert.Equal(t, 1, strings.Count(got, BlockStart))
	})

	t.Run("idempotent", func(t *testing.T) {
		once := MergeBlock("user\n", []string{"a"})
		assert.Equal(t, once, MergeBlock(once, []string{"a"}))
	})
}

func TestSyncExcludeBlock(t *testing.T) {
	gitDir := t.TempDir()

	require.NoError(t, SyncExcludeBlock(gitDir, []string{".idea"}))
	data, err := os.ReadFile(filepath.Join(gitDir, "info", "exclude"))
	require.NoError(t, err)
	assert.Equal(t, BlockStart+"\n.idea\n"+BlockEnd+"\n", string(data))

	require.NoError(t, os.WriteFile(ExcludePath(gitDir), append([]byte("*.bak\n"), data...), 0o644))
	require.NoError(t, SyncExcludeBlock(gitDir, []string{".vscode"}))

	data, err = os.ReadFile(ExcludePath(gitDir))
	require.NoError(t, err)
	assert.Equal(t, "*.bak\n"+BlockStart+"\n.vscode\n"+BlockEnd+"\n", string(data))
}
