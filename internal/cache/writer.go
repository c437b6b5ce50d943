package cache

import (
	"context"
	"fmt"

	"quipu/internal/gitstore"
	"quipu/internal/history"
)

// Writer records nodes in Git and then mirrors them into the cache.
type Writer struct {
	store *Store
	git   *gitstore.Writer
}

// NewWriter returns a writer delegating node creation to git.
func NewWriter(store *Store, git *gitstore.Writer) *Writer {
	return &Writer{store: store, git: git}
}

var _ history.Writer = (*Writer)(nil)

// CreateNode commits the node to Git, then upserts its row, its parent edge
// and any private intent. A failed SQL write is logged and the Git node is
// still returned; the next hydration heals the cache.
func (w *Writer) CreateNode(ctx context.Context, spec history.NodeSpec) (*history.Node, error) {
	node, err := w.git.CreateNode(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := w.mirror(ctx, node, spec); err != nil {
		w.store.logger.Error("cache write failed after git commit",
			"commit", node.CommitHash,
			"error", fmt.Errorf("%w: %v", history.ErrCacheDesync, err))
	}
	return node, nil
}

func (w *Writer) mirror(ctx context.Context, node *history.Node, spec history.NodeSpec) error {
	var metaJSON []byte
	var generatorID string
	if node.Meta != nil {
		data, err := gitstore.EncodeMetadata(*node.Meta)
		if err != nil {
			return err
		}
		metaJSON = data
		generatorID = node.Meta.Generator.ID
	}

	tx, err := w.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO nodes
			(commit_hash, owner_id, output_tree, node_type, timestamp, summary, generator_id, meta_json, plan_md_cache)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.CommitHash, node.OwnerID, node.OutputTree, string(node.Type),
		toUnixFloat(node.Timestamp), node.Summary, nullString(generatorID),
		string(metaJSON), spec.Content,
	); err != nil {
		return fmt.Errorf("upserting node: %w", err)
	}

	if node.Parent != nil && node.Parent.CommitHash != node.CommitHash {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO edges (child_hash, parent_hash) VALUES (?, ?)",
			node.CommitHash, node.Parent.CommitHash,
		); err != nil {
			return fmt.Errorf("inserting edge: %w", err)
		}
	}

	if spec.Intent != "" {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO private_data (node_hash, intent_md) VALUES (?, ?)",
			node.CommitHash, spec.Intent,
		); err != nil {
			return fmt.Errorf("storing private data: %w", err)
		}
	}

	return tx.Commit()
}
