package gitstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"quipu/internal/plumbing"
)

func TestPlanSummary(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"heading", "# add readme\n~~~act\nwrite_file README.md\n~~~\n~~~text\nhello\n~~~", "add readme"},
		{"deeper heading", "intro text\n\n## Refactor parser\n", "Refactor parser"},
		{"heading inside fence ignored", "```\n# not a title\n```\nfirst line", "first line"},
		{"first line", "\n\n  run the checks  \nmore", "run the checks"},
		{"empty", "   \n", "Plan"},
		{"bare hash", "#\nreal line", "real line"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlanSummary(tt.content))
		})
	}
}

func TestPlanSummaryTruncates(t *testing.T) {
	got := PlanSummary("# " + strings.Repeat("é", 100))
	assert.Equal(t, 75, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestCaptureSummary(t *testing.T) {
	changes := []plumbing.NameStatus{
		{Status: "M", Path: "README.md"},
		{Status: "A", Path: "src/pkg/new.go"},
		{Status: "D", Path: "old.txt"},
		{Status: "M", Path: "x"},
		{Status: "M", Path: "y"},
	}

	assert.Equal(t, "manual edit (M README.md)", CaptureSummary("manual edit", changes[:1]))
	assert.Equal(t, "Capture: M README.md, A new.go, D old.txt ... and 2 more files", CaptureSummary("", changes))
	assert.Equal(t, "just a note", CaptureSummary("just a\nnote", nil))
	assert.Equal(t, "Capture", CaptureSummary("", nil))
}
