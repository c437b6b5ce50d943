// Package cache mirrors the Git-backed history graph into SQLite for fast
// paginated reads and graph queries. A hydrator fills it incrementally from
// refs/quipu/; a writer keeps it current as nodes are recorded.
package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"quipu/internal/logging"
)

// FileName is the database file under .quipu/.
const FileName = "history.sqlite"

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

// Store owns the single SQLite connection of one workspace.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for cache warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = logging.OrDiscard(l) }
}

// Open opens or creates the database at path and applies the schema.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// Pragmas are per connection; keep exactly one.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	s := &Store{db: db, path: path, logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Reset drops every node and edge so the hydrator can rebuild them.
// private_data rows survive and reattach when their nodes return.
func (s *Store) Reset(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys=OFF"); err != nil {
		return fmt.Errorf("disabling foreign keys: %w", err)
	}
	defer conn.ExecContext(context.Background(), "PRAGMA foreign_keys=ON")

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM edges", "DELETE FROM nodes"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("resetting cache: %w", err)
		}
	}
	return tx.Commit()
}

// commitSet returns every commit hash present in nodes.
func (s *Store) commitSet(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT commit_hash FROM nodes")
	if err != nil {
		return nil, fmt.Errorf("listing cached commits: %w", err)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scanning commit: %w", err)
		}
		set[h] = true
	}
	return set, rows.Err()
}

// PrivateData is the local-only context attached to a node.
type PrivateData struct {
	IntentMD  string
	AIContext string
	CreatedAt time.Time
}

// PrivateData returns the private context of commit, or nil when there is
// none.
func (s *Store) PrivateData(ctx context.Context, commit string) (*PrivateData, error) {
	var intent, aiContext sql.NullString
	var created sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		"SELECT intent_md, ai_context, created_at FROM private_data WHERE node_hash = ?", commit,
	).Scan(&intent, &aiContext, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading private data: %w", err)
	}
	return &PrivateData{
		IntentMD:  intent.String,
		AIContext: aiContext.String,
		CreatedAt: fromUnixFloat(created.Float64),
	}, nil
}

func toUnixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixFloat(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9)))
}
