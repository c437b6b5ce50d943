// Package gitstore stores the history graph purely as Git objects. Each node
// is a commit whose tree mounts metadata.json, content.md and the workspace
// snapshot; heads under refs/quipu/ keep the commits alive.
package gitstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"quipu/internal/history"
	"quipu/internal/logging"
	"quipu/internal/plumbing"
)

// Names of the entries in a node commit's tree.
const (
	MetadataFile = "metadata.json"
	ContentFile  = "content.md"
	SnapshotDir  = "snapshot"

	blobMode = "100444"
	treeMode = "040000"
)

// Environment variables stamped into metadata.generator.
const (
	EnvGeneratorID = "QUIPU_GENERATOR_ID"
	EnvTool        = "QUIPU_TOOL"
)

// FilenamePrefix prefixes the synthetic locator of git-backed nodes.
const FilenamePrefix = ".quipu/git_objects/"

// Option configures a Writer or Reader.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	version   string
	generator history.Generator
	now       func() time.Time
}

func buildOptions(opts []Option) options {
	o := options{
		logger:    logging.Discard(),
		version:   "dev",
		generator: DefaultGenerator(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger for warnings such as skipped commits.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = logging.OrDiscard(l) }
}

// WithVersion sets the quipu version stamped into metadata.env.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithGenerator overrides the generator read from the environment.
func WithGenerator(g history.Generator) Option {
	return func(o *options) { o.generator = g }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// DefaultGenerator reads QUIPU_GENERATOR_ID and QUIPU_TOOL.
func DefaultGenerator() history.Generator {
	g := history.Generator{ID: os.Getenv(EnvGeneratorID), Tool: os.Getenv(EnvTool)}
	if g.ID == "" {
		g.ID = "manual"
	}
	if g.Tool == "" {
		g.Tool = "quipu"
	}
	return g
}

// Writer records nodes as Git commits.
type Writer struct {
	git  *plumbing.Git
	opts options
}

// NewWriter returns a writer over g.
func NewWriter(g *plumbing.Git, opts ...Option) *Writer {
	return &Writer{git: g, opts: buildOptions(opts)}
}

// CreateNode writes the blobs, tree, commit and head ref of a new node. The
// returned node's Parent, when set, is a stub carrying only the parent's
// commit hash and output tree.
func (w *Writer) CreateNode(ctx context.Context, spec history.NodeSpec) (*history.Node, error) {
	if !spec.Type.Valid() {
		return nil, fmt.Errorf("unknown node type %q", spec.Type)
	}
	if spec.InputTree == "" {
		spec.InputTree = history.EmptyTree
	}
	if !plumbing.IsHash(spec.InputTree) || !plumbing.IsHash(spec.OutputTree) {
		return nil, fmt.Errorf("invalid tree hash: input %q output %q", spec.InputTree, spec.OutputTree)
	}

	if spec.InputTree == history.EmptyTree || spec.OutputTree == history.EmptyTree {
		// Make sure the empty tree exists as a real object before it is
		// mounted or diffed.
		if _, err := w.git.HashObject(ctx, nil, "tree"); err != nil {
			return nil, err
		}
	}

	summary, err := w.summary(ctx, spec)
	if err != nil {
		return nil, err
	}

	start := spec.StartTime
	if start.IsZero() {
		start = w.opts.now()
	}
	meta := history.Metadata{
		MetaVersion: history.MetaVersion,
		Type:        spec.Type,
		Summary:     summary,
		Generator:   w.opts.generator,
		Env: history.Env{
			Quipu:    w.opts.version,
			Language: runtime.Version(),
			OS:       runtime.GOOS,
		},
		Exec: history.Exec{
			Start:      float64(start.UnixNano()) / 1e9,
			DurationMS: w.opts.now().Sub(start).Milliseconds(),
		},
		OwnerID: spec.OwnerID,
	}
	metaJSON, err := EncodeMetadata(meta)
	if err != nil {
		return nil, err
	}

	metaBlob, err := w.git.HashObject(ctx, metaJSON, "blob")
	if err != nil {
		return nil, err
	}
	contentBlob, err := w.git.HashObject(ctx, []byte(spec.Content), "blob")
	if err != nil {
		return nil, err
	}
	tree, err := w.git.MkTree(ctx, plumbing.TreeDescriptor([]plumbing.TreeEntry{
		{Mode: blobMode, Name: MetadataFile, Hash: metaBlob},
		{Mode: blobMode, Name: ContentFile, Hash: contentBlob},
		{Mode: treeMode, Name: SnapshotDir, Hash: spec.OutputTree},
	}))
	if err != nil {
		return nil, err
	}

	parent := spec.ParentCommit
	if parent == "" {
		parent, err = w.git.CommitByOutputTree(ctx, spec.InputTree)
		if err != nil {
			return nil, err
		}
	}
	if parent == "" && spec.InputTree != history.EmptyTree {
		w.opts.logger.Warn("no node produces the input tree; recording a detached root",
			"input_tree", spec.InputTree)
	}
	var parents []string
	if parent != "" {
		parents = []string{parent}
	}

	message := fmt.Sprintf("%s\n\n%s: %s\n", summary, history.OutputTreeTrailer, spec.OutputTree)
	commit, err := w.git.CommitTree(ctx, tree, parents, message)
	if err != nil {
		return nil, err
	}
	committedAt, err := w.git.CommitTime(ctx, commit)
	if err != nil {
		return nil, err
	}
	if err := w.git.UpdateRef(ctx, plumbing.LocalHeadRef(commit), commit); err != nil {
		return nil, err
	}

	node := &history.Node{
		CommitHash: commit,
		InputTree:  spec.InputTree,
		OutputTree: spec.OutputTree,
		Timestamp:  committedAt,
		Type:       spec.Type,
		Summary:    summary,
		OwnerID:    spec.OwnerID,
		Filename:   FilenamePrefix + commit,
		Meta:       &meta,
	}
	node.SetContent(spec.Content)
	if parent != "" {
		node.Parent = &history.Node{CommitHash: parent, OutputTree: spec.InputTree}
	}
	return node, nil
}

// EncodeMetadata renders metadata.json exactly as it is stored in Git.
func EncodeMetadata(meta history.Metadata) ([]byte, error) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return data, nil
}

func (w *Writer) summary(ctx context.Context, spec history.NodeSpec) (string, error) {
	if s := strings.TrimSpace(spec.SummaryOverride); s != "" {
		return singleLine(s), nil
	}
	if spec.Type == history.NodePlan {
		return PlanSummary(spec.Content), nil
	}
	var changes []plumbing.NameStatus
	if spec.InputTree != spec.OutputTree {
		var err error
		changes, err = w.git.DiffNameStatus(ctx, spec.InputTree, spec.OutputTree)
		if err != nil {
			return "", err
		}
	}
	return CaptureSummary(spec.Message, changes), nil
}
