package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quipu/internal/logging"
)

func hashN(i int) string { return fmt.Sprintf("%040x", i) }

func navEngine(t *testing.T) *Engine {
	return &Engine{quipuDir: t.TempDir(), logger: logging.Discard()}
}

func TestAppendNavSeedsWithPreviousHead(t *testing.T) {
	e := navEngine(t)
	require.NoError(t, e.appendNav(hashN(1), hashN(2)))

	entries, ptr := e.NavLog()
	assert.Equal(t, []string{hashN(1), hashN(2)}, entries)
	assert.Equal(t, 1, ptr)
}

func TestAppendNavNoSeedWhenHeadMatches(t *testing.T) {
	e := navEngine(t)
	require.NoError(t, e.appendNav(hashN(1), hashN(1)))

	entries, _ := e.NavLog()
	assert.Equal(t, []string{hashN(1)}, entries)
}

func TestAppendNavIdempotent(t *testing.T) {
	e := navEngine(t)
	require.NoError(t, e.appendNav("", hashN(1)))
	require.NoError(t, e.appendNav(hashN(1), hashN(1)))

	entries, ptr := e.NavLog()
	assert.Equal(t, []string{hashN(1)}, entries)
	assert.Equal(t, 0, ptr)
}

func TestAppendNavTruncatesForwardHistory(t *testing.T) {
	e := navEngine(t)
	for i := 1; i <= 4; i++ {
		require.NoError(t, e.appendNav("", hashN(i)))
	}
	require.NoError(t, e.writeNavPtr(1))

	require.NoError(t, e.appendNav("", hashN(9)))
	entries, ptr := e.NavLog()
	assert.Equal(t, []string{hashN(1), hashN(2), hashN(9)}, entries)
	assert.Equal(t, 2, ptr)
}

func TestAppendNavReturningToCursorEntry(t *testing.T) {
	e := navEngine(t)
	for i := 1; i <= 3; i++ {
		require.NoError(t, e.appendNav("", hashN(i)))
	}
	require.NoError(t, e.writeNavPtr(0))

	require.NoError(t, e.appendNav("", hashN(1)))
	entries, ptr := e.NavLog()
	assert.Equal(t, []string{hashN(1)}, entries)
	assert.Equal(t, 0, ptr)
}

func TestAppendNavCapsLength(t *testing.T) {
	e := navEngine(t)
	for i := 1; i <= maxNavEntries+5; i++ {
		require.NoError(t, e.appendNav("", hashN(i)))
	}

	entries, ptr := e.NavLog()
	require.Len(t, entries, maxNavEntries)
	assert.Equal(t, hashN(6), entries[0])
	assert.Equal(t, hashN(maxNavEntries+5), entries[maxNavEntries-1])
	assert.Equal(t, maxNavEntries-1, ptr)
}

func TestNavLogClampsPointer(t *testing.T) {
	e := navEngine(t)
	require.NoError(t, e.writeNav([]string{hashN(1), hashN(2), hashN(3)}, 57))
	_, ptr := e.NavLog()
	assert.Equal(t, 2, ptr)

	require.NoError(t, e.writeNavPtr(-4))
	_, ptr = e.NavLog()
	assert.Equal(t, 0, ptr)

	require.NoError(t, os.Remove(filepath.Join(e.quipuDir, navLogFile)))
	entries, ptr := e.NavLog()
	assert.Empty(t, entries)
	assert.Equal(t, 0, ptr)
}

func TestNavLogSkipsGarbageLines(t *testing.T) {
	e := navEngine(t)
	body := hashN(1) + "\nnot-a-hash\n\n" + hashN(2) + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(e.quipuDir, navLogFile), []byte(body), 0o644))

	entries, ptr := e.NavLog()
	assert.Equal(t, []string{hashN(1), hashN(2)}, entries)
	assert.Equal(t, 1, ptr, "missing pointer defaults to the tail")
}

func TestBackForwardAtBoundaries(t *testing.T) {
	ctx := context.Background()
	e := navEngine(t)

	_, moved, err := e.Back(ctx)
	require.NoError(t, err)
	assert.False(t, moved, "empty log")

	require.NoError(t, e.writeNav([]string{hashN(1), hashN(2)}, 0))
	_, moved, err = e.Back(ctx)
	require.NoError(t, err)
	assert.False(t, moved)
	_, ptr := e.NavLog()
	assert.Equal(t, 0, ptr)

	require.NoError(t, e.writeNavPtr(1))
	_, moved, err = e.Forward(ctx)
	require.NoError(t, err)
	assert.False(t, moved)
	_, ptr = e.NavLog()
	assert.Equal(t, 1, ptr)
}

func TestHeadIgnoresInvalidContent(t *testing.T) {
	e := navEngine(t)
	assert.Equal(t, "", e.Head())

	require.NoError(t, os.WriteFile(filepath.Join(e.quipuDir, headFile), []byte("garbage"), 0o644))
	assert.Equal(t, "", e.Head())

	require.NoError(t, e.writeHead(hashN(7)))
	assert.Equal(t, hashN(7), e.Head())
}

func TestCaptureBody(t *testing.T) {
	body := CaptureBody("  fix typo  ", " a.txt | 2 +-\n 1 file changed\n")
	assert.Equal(t, "# Snapshot Capture\n\n### Message\n\nfix typo\n\nDetected changes in the workspace:\n\n```\n a.txt | 2 +-\n 1 file changed\n```\n", body)

	assert.Equal(t, "# Snapshot Capture\n\nDetected changes in the workspace:\n\n```\n(no file changes)\n```\n", CaptureBody("", ""))
}
