// Package history persists a bounded log of finished runs.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"video-clipper/internal/domain"
)

// DefaultCap is the number of most recent runs retained.
const DefaultCap = 25

// seq is the recency order for pruning and listing. Timestamps alone
// cannot break ties between runs recorded within the same second.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL,
	source_name TEXT NOT NULL,
	mode TEXT NOT NULL,
	naming_pattern TEXT NOT NULL,
	clip_count INTEGER NOT NULL,
	total_size_bytes INTEGER NOT NULL,
	clips_json TEXT NOT NULL,
	ranges_json TEXT
);
`

// Store keeps run summaries in a local sqlite database, pruned to a cap.
type Store struct {
	db     *sql.DB
	cap    int
	logger *slog.Logger
}

// Open creates or opens the history database at path. A file that no
// longer reads as a sqlite database is discarded and recreated empty,
// so damaged history never blocks the application from starting.
func Open(path string, cap int, logger *slog.Logger) (*Store, error) {
	if cap <= 0 {
		cap = DefaultCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := openDatabase(path)
	if err != nil {
		logger.Warn("history database unreadable, starting over empty", "error", err)
		for _, stale := range []string{path, path + "-wal", path + "-shm"} {
			_ = os.Remove(stale)
		}
		db, err = openDatabase(path)
		if err != nil {
			return nil, err
		}
	}

	return &Store{db: db, cap: cap, logger: logger}, nil
}

// openDatabase opens and prepares one sqlite handle for the store.
func openDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}

	return db, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one run summary and prunes entries beyond the cap.
func (s *Store) Record(ctx context.Context, summary domain.RunSummary) error {
	clipsJSON, err := json.Marshal(summary.Clips)
	if err != nil {
		return fmt.Errorf("encode clip summaries: %w", err)
	}

	var rangesJSON sql.NullString
	if len(summary.Ranges) > 0 {
		encoded, err := json.Marshal(summary.Ranges)
		if err != nil {
			return fmt.Errorf("encode range template: %w", err)
		}
		rangesJSON = sql.NullString{String: string(encoded), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, source_name, mode, naming_pattern, clip_count, total_size_bytes, clips_json, ranges_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, summary.ID, summary.CreatedAt.UTC().Format(time.RFC3339), summary.SourceName,
		string(summary.Mode), summary.NamingPattern, summary.ClipCount,
		summary.TotalSizeBytes, string(clipsJSON), rangesJSON)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE seq NOT IN (
			SELECT seq FROM runs ORDER BY seq DESC LIMIT ?
		)
	`, s.cap)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	return nil
}

// List returns up to limit summaries, most recent first. Rows that no
// longer decode are skipped so a damaged database never blocks a run.
func (s *Store) List(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 || limit > s.cap {
		limit = s.cap
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, source_name, mode, naming_pattern, clip_count, total_size_bytes, clips_json, ranges_json
		FROM runs ORDER BY seq DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var summaries []domain.RunSummary
	for rows.Next() {
		var summary domain.RunSummary
		var createdAt, mode, clipsJSON string
		var rangesJSON sql.NullString

		if err := rows.Scan(&summary.ID, &createdAt, &summary.SourceName, &mode,
			&summary.NamingPattern, &summary.ClipCount, &summary.TotalSizeBytes,
			&clipsJSON, &rangesJSON); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		parsedAt, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			s.logger.Warn("skipping history row with bad timestamp", "run_id", summary.ID)
			continue
		}
		summary.CreatedAt = parsedAt
		summary.Mode = domain.Mode(mode)

		if err := json.Unmarshal([]byte(clipsJSON), &summary.Clips); err != nil {
			s.logger.Warn("skipping history row with bad clip data", "run_id", summary.ID)
			continue
		}
		if rangesJSON.Valid {
			if err := json.Unmarshal([]byte(rangesJSON.String), &summary.Ranges); err != nil {
				s.logger.Warn("dropping unreadable range template", "run_id", summary.ID)
				summary.Ranges = nil
			}
		}

		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}
