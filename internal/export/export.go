// Package export writes history nodes as Markdown files with YAML front
// matter into a zstd-compressed tar archive.
package export

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"quipu/internal/history"
)

const (
	timeLayout = "20060102-150405"
	fence      = "---\n"
)

// FrontMatter is the YAML header of an exported node.
type FrontMatter struct {
	Commit     string           `yaml:"commit"`
	Parent     string           `yaml:"parent,omitempty"`
	Type       history.NodeType `yaml:"type"`
	Summary    string           `yaml:"summary"`
	Owner      string           `yaml:"owner,omitempty"`
	Timestamp  time.Time        `yaml:"timestamp"`
	InputTree  string           `yaml:"input_tree"`
	OutputTree string           `yaml:"output_tree"`
}

// Entry is one decoded archive member.
type Entry struct {
	Name string
	Meta FrontMatter
	Body string
}

// ContentSource loads a node's content.md.
type ContentSource interface {
	NodeContent(ctx context.Context, n *history.Node) (string, error)
}

// EntryName returns "<YYYYMMDD-HHMMSS>_<short hash>_<type>.md" in UTC.
func EntryName(n *history.Node) string {
	return fmt.Sprintf("%s_%s_%s.md", n.Timestamp.UTC().Format(timeLayout), n.ShortHash(), n.Type)
}

func frontMatter(n *history.Node) FrontMatter {
	fm := FrontMatter{
		Commit:     n.CommitHash,
		Type:       n.Type,
		Summary:    n.Summary,
		Owner:      n.OwnerID,
		Timestamp:  n.Timestamp.UTC(),
		InputTree:  n.InputTree,
		OutputTree: n.OutputTree,
	}
	if n.Parent != nil {
		fm.Parent = n.Parent.CommitHash
	}
	return fm
}

// Render produces the Markdown document for one node.
func Render(n *history.Node, content string) ([]byte, error) {
	header, err := yaml.Marshal(frontMatter(n))
	if err != nil {
		return nil, fmt.Errorf("encoding front matter for %s: %w", n.ShortHash(), err)
	}
	var buf bytes.Buffer
	buf.WriteString(fence)
	buf.Write(header)
	buf.WriteString(fence)
	buf.WriteString("\n")
	buf.WriteString(content)
	return buf.Bytes(), nil
}

// Parse splits a rendered document back into front matter and body.
func Parse(doc []byte) (FrontMatter, string, error) {
	var fm FrontMatter
	s := string(doc)
	if !strings.HasPrefix(s, fence) {
		return fm, "", errors.New("missing front matter")
	}
	header, body, ok := strings.Cut(s[len(fence):], "\n"+fence)
	if !ok {
		return fm, "", errors.New("unterminated front matter")
	}
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return fm, "", fmt.Errorf("decoding front matter: %w", err)
	}
	return fm, strings.TrimPrefix(body, "\n"), nil
}

// Archive writes nodes, oldest first, to w and returns the number written.
func Archive(ctx context.Context, w io.Writer, nodes []*history.Node, src ContentSource) (int, error) {
	ordered := append([]*history.Node(nil), nodes...)
	history.SortByTime(ordered)

	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("creating zstd encoder: %w", err)
	}
	tw := tar.NewWriter(encoder)

	count := 0
	for _, n := range ordered {
		if err := ctx.Err(); err != nil {
			encoder.Close()
			return count, err
		}
		content, err := src.NodeContent(ctx, n)
		if err != nil {
			encoder.Close()
			return count, fmt.Errorf("loading content of %s: %w", n.ShortHash(), err)
		}
		doc, err := Render(n, content)
		if err != nil {
			encoder.Close()
			return count, err
		}
		hdr := &tar.Header{
			Name:    EntryName(n),
			Mode:    0o644,
			Size:    int64(len(doc)),
			ModTime: n.Timestamp,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			encoder.Close()
			return count, fmt.Errorf("writing tar header: %w", err)
		}
		if _, err := tw.Write(doc); err != nil {
			encoder.Close()
			return count, fmt.Errorf("writing %s: %w", hdr.Name, err)
		}
		count++
	}

	if err := tw.Close(); err != nil {
		encoder.Close()
		return count, fmt.Errorf("closing tar: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return count, fmt.Errorf("closing encoder: %w", err)
	}
	return count, nil
}

// ReadArchive decodes an archive written by Archive.
func ReadArchive(r io.Reader) ([]Entry, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	tr := tar.NewReader(decoder)
	var entries []Entry
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar: %w", err)
		}
		doc, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", hdr.Name, err)
		}
		fm, body, err := Parse(doc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", hdr.Name, err)
		}
		entries = append(entries, Entry{Name: hdr.Name, Meta: fm, Body: body})
	}
	return entries, nil
}
