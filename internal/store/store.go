// Package store persists engine state in a single SQLite database file:
// the canonical line registry, the current article assignments, and a run
// log for bookkeeping. The registry and assignments are rebuilt wholesale
// after each run inside one transaction, so readers never observe a line
// id that a merge already retired.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hurttlocker/senseline/internal/feed"
)

// Run records one pipeline invocation.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Documents  int
	Lines      int
	Batches    int
	Merged     int
	StatsJSON  string
	ConfigJSON string
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (and if needed creates) the database at path. Pass ":memory:"
// for in-memory databases (testing).
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, dbPath: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS lines (
			id TEXT PRIMARY KEY,
			short_title TEXT NOT NULL,
			description TEXT NOT NULL,
			region_note TEXT NOT NULL DEFAULT '',
			exemplars_json TEXT NOT NULL DEFAULT '[]',
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS assignments (
			document_id INTEGER PRIMARY KEY,
			line_id TEXT NOT NULL REFERENCES lines(id) ON DELETE CASCADE,
			confidence REAL NOT NULL,
			rationale TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_line ON assignments(line_id)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			documents INTEGER NOT NULL,
			lines INTEGER NOT NULL,
			batches INTEGER NOT NULL,
			merged INTEGER NOT NULL,
			stats_json TEXT NOT NULL DEFAULT '{}',
			config_json TEXT NOT NULL DEFAULT '{}'
		)`,
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting migration transaction: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range ddl {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return tx.Commit()
}

type exemplars struct {
	IDs    []int64  `json:"ids"`
	Titles []string `json:"titles"`
}

// SaveState replaces the persisted registry and assignments with the given
// run output in one transaction.
func (s *Store) SaveState(ctx context.Context, lines []feed.SenseLine, assignments []feed.Assignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM assignments"); err != nil {
		return fmt.Errorf("clearing assignments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM lines"); err != nil {
		return fmt.Errorf("clearing lines: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, l := range lines {
		ex, err := json.Marshal(exemplars{IDs: l.ExemplarIDs, Titles: l.ExemplarTitles})
		if err != nil {
			return fmt.Errorf("encoding exemplars for %s: %w", l.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO lines (id, short_title, description, region_note, exemplars_json, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			l.ID, l.ShortTitle, l.Description, l.RegionNote, string(ex), now)
		if err != nil {
			return fmt.Errorf("inserting line %s: %w", l.ID, err)
		}
	}

	for _, a := range assignments {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO assignments (document_id, line_id, confidence, rationale, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			a.ArticleID, a.LineID, a.Confidence, a.Rationale, now)
		if err != nil {
			return fmt.Errorf("inserting assignment for document %d: %w", a.ArticleID, err)
		}
	}

	return tx.Commit()
}

// LoadLines returns the persisted registry ordered by line id.
func (s *Store) LoadLines(ctx context.Context) ([]feed.SenseLine, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, short_title, description, region_note, exemplars_json FROM lines")
	if err != nil {
		return nil, fmt.Errorf("querying lines: %w", err)
	}
	defer rows.Close()

	var out []feed.SenseLine
	for rows.Next() {
		var l feed.SenseLine
		var exJSON string
		if err := rows.Scan(&l.ID, &l.ShortTitle, &l.Description, &l.RegionNote, &exJSON); err != nil {
			return nil, fmt.Errorf("scanning line: %w", err)
		}
		var ex exemplars
		if err := json.Unmarshal([]byte(exJSON), &ex); err != nil {
			return nil, fmt.Errorf("decoding exemplars for %s: %w", l.ID, err)
		}
		l.ExemplarIDs = ex.IDs
		l.ExemplarTitles = ex.Titles
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading lines: %w", err)
	}

	sortLines(out)
	return out, nil
}

// LoadAssignments returns the persisted assignments ordered by document id.
func (s *Store) LoadAssignments(ctx context.Context) ([]feed.Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT document_id, line_id, confidence, rationale FROM assignments ORDER BY document_id")
	if err != nil {
		return nil, fmt.Errorf("querying assignments: %w", err)
	}
	defer rows.Close()

	var out []feed.Assignment
	for rows.Next() {
		var a feed.Assignment
		if err := rows.Scan(&a.ArticleID, &a.LineID, &a.Confidence, &a.Rationale); err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading assignments: %w", err)
	}
	return out, nil
}

// RecordRun appends one run to the run log.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, documents, lines, batches, merged, stats_json, config_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.StartedAt.UTC().Format(time.RFC3339),
		r.FinishedAt.UTC().Format(time.RFC3339),
		r.Documents, r.Lines, r.Batches, r.Merged,
		orDefault(r.StatsJSON, "{}"), orDefault(r.ConfigJSON, "{}"))
	if err != nil {
		return fmt.Errorf("recording run %s: %w", r.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, documents, lines, batches, merged, stats_json, config_json
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.Documents, &r.Lines, &r.Batches, &r.Merged, &r.StatsJSON, &r.ConfigJSON); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading runs: %w", err)
	}
	return out, nil
}

// CountByLine returns how many assignments each line currently holds.
func (s *Store) CountByLine(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT line_id, COUNT(*) FROM assignments GROUP BY line_id")
	if err != nil {
		return nil, fmt.Errorf("counting assignments: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

func sortLines(lines []feed.SenseLine) {
	sort.Slice(lines, func(i, j int) bool { return feed.LineIDLess(lines[i].ID, lines[j].ID) })
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
