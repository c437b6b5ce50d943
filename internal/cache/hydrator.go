package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"quipu/internal/gitstore"
	"quipu/internal/history"
	"quipu/internal/plumbing"
)

// Hydrator reflects commits reachable from refs/quipu/ into the cache.
type Hydrator struct {
	store  *Store
	git    *plumbing.Git
	logger *slog.Logger
}

// NewHydrator returns a hydrator writing into store.
func NewHydrator(store *Store, g *plumbing.Git) *Hydrator {
	return &Hydrator{store: store, git: g, logger: store.logger}
}

// Sync inserts every decodable commit missing from the cache. Commits only
// reachable from local heads are owned by localUserID. It is idempotent and
// returns the number of nodes added.
func (h *Hydrator) Sync(ctx context.Context, localUserID string) (int, error) {
	existing, err := h.store.commitSet(ctx)
	if err != nil {
		return 0, err
	}

	scanner := gitstore.NewScanner(h.git, localUserID, gitstore.WithLogger(h.logger))
	records, err := scanner.Scan(ctx, func(commit string) bool { return !existing[commit] })
	if err != nil {
		return 0, fmt.Errorf("scanning refs: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := h.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO nodes
			(commit_hash, owner_id, output_tree, node_type, timestamp, summary, generator_id, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing node insert: %w", err)
	}
	defer nodeStmt.Close()

	edgeStmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO edges (child_hash, parent_hash) VALUES (?, ?)")
	if err != nil {
		return 0, fmt.Errorf("preparing edge insert: %w", err)
	}
	defer edgeStmt.Close()

	added := 0
	for _, rec := range records {
		res, err := nodeStmt.ExecContext(ctx,
			rec.Commit, rec.OwnerID, rec.OutputTree, string(rec.Meta.Type),
			toUnixFloat(rec.Timestamp), rec.Meta.Summary, nullString(rec.Meta.Generator.ID),
			string(rec.MetaJSON))
		if err != nil {
			return 0, fmt.Errorf("inserting node %s: %w", rec.Commit, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	for _, rec := range records {
		for _, parent := range rec.Parents {
			if parent == rec.Commit {
				h.logger.Warn("skipping self edge", "commit", rec.Commit,
					"error", history.ErrInvariantViolation)
				continue
			}
			if _, err := edgeStmt.ExecContext(ctx, rec.Commit, parent); err != nil {
				return 0, fmt.Errorf("inserting edge %s -> %s: %w", rec.Commit, parent, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing hydration: %w", err)
	}
	h.logger.Debug("hydrated cache", "added", added)
	return added, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
