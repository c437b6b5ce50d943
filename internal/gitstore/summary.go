package gitstore

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"quipu/internal/plumbing"
)

const (
	maxSummaryRunes    = 75
	maxSummaryChanges  = 3
	defaultPlanSummary = "Plan"
	defaultCaptureHead = "Capture"
)

// PlanSummary returns the first Markdown heading of a plan, or its first
// non-empty line, truncated to 75 characters. Headings inside fenced blocks
// are ignored.
func PlanSummary(content string) string {
	var firstLine string
	fence := ""
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if fence != "" {
			if strings.HasPrefix(line, fence) {
				fence = ""
			}
			continue
		}
		if f := fenceMarker(line); f != "" {
			fence = f
			continue
		}
		if strings.HasPrefix(line, "#") {
			if heading := strings.TrimSpace(strings.TrimLeft(line, "#")); heading != "" {
				return truncate(heading)
			}
			continue
		}
		if firstLine == "" && line != "" {
			firstLine = line
		}
	}
	if firstLine == "" {
		return defaultPlanSummary
	}
	return truncate(firstLine)
}

// fenceMarker returns the run of backticks or tildes opening a code fence.
func fenceMarker(line string) string {
	for _, c := range []byte{'`', '~'} {
		n := 0
		for n < len(line) && line[n] == c {
			n++
		}
		if n >= 3 {
			return line[:n]
		}
	}
	return ""
}

// ChangesSummary renders up to three changes as "M a.txt, A b.txt" with an
// "... and N more files" tail.
func ChangesSummary(changes []plumbing.NameStatus) string {
	if len(changes) == 0 {
		return ""
	}
	parts := make([]string, 0, maxSummaryChanges)
	for i, c := range changes {
		if i == maxSummaryChanges {
			break
		}
		parts = append(parts, c.Status+" "+path.Base(c.Path))
	}
	s := strings.Join(parts, ", ")
	if extra := len(changes) - len(parts); extra > 0 {
		s += fmt.Sprintf(" ... and %d more files", extra)
	}
	return s
}

// CaptureSummary combines the user's message with the change list.
func CaptureSummary(message string, changes []plumbing.NameStatus) string {
	message = singleLine(message)
	auto := ChangesSummary(changes)
	switch {
	case message != "" && auto != "":
		return message + " (" + auto + ")"
	case message != "":
		return message
	case auto != "":
		return defaultCaptureHead + ": " + auto
	default:
		return defaultCaptureHead
	}
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string) string {
	s = singleLine(s)
	if utf8.RuneCountInString(s) <= maxSummaryRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxSummaryRunes-3]) + "..."
}
