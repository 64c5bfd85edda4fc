// Package store keeps a local history of resolved decompositions in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"procstream/internal/extract"
	"procstream/internal/logging"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("record not found")

// Record is one resolved request.
type Record struct {
	ID        string
	RequestID string
	Task      string
	Plan      *extract.Plan
	Source    string // scan, sentinel, refetch
	Decision  string // use_as_is, refetch
	Cached    bool
	Processes int
	Steps     int
	CreatedAt time.Time
}

// Stats summarizes the history.
type Stats struct {
	Total     int
	Cached    int
	Refetched int
}

// Store manages the decomposition history database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates or opens the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; the CLI never needs more.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.StoreDebug("history opened at %s", path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	PRAGMA journal_mode=WAL;
	PRAGMA busy_timeout=5000;

	CREATE TABLE IF NOT EXISTS decompositions (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		task TEXT NOT NULL,
		plan_json TEXT NOT NULL,
		source TEXT NOT NULL,
		decision TEXT NOT NULL,
		cached INTEGER NOT NULL DEFAULT 0,
		process_count INTEGER NOT NULL,
		step_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decompositions_task ON decompositions(task, created_at);
	CREATE INDEX IF NOT EXISTS idx_decompositions_created ON decompositions(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save stores rec, filling in ID, CreatedAt and the counts when unset.
func (s *Store) Save(ctx context.Context, rec Record) (Record, error) {
	if rec.Plan == nil {
		return rec, fmt.Errorf("record for %q has no plan", rec.Task)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.Processes = len(rec.Plan.Processes)
	rec.Steps = 0
	for _, p := range rec.Plan.Processes {
		rec.Steps += len(p.Steps)
	}

	planJSON, err := json.Marshal(rec.Plan)
	if err != nil {
		return rec, fmt.Errorf("failed to marshal plan: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decompositions
			(id, request_id, task, plan_json, source, decision, cached, process_count, step_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, rec.Task, string(planJSON), rec.Source, rec.Decision,
		boolToInt(rec.Cached), rec.Processes, rec.Steps, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		logging.StoreError("failed to save decomposition for %q: %v", rec.Task, err)
		return rec, fmt.Errorf("failed to save decomposition: %w", err)
	}

	logging.Store("saved decomposition %s for %q (%d processes, %d steps)", rec.ID, rec.Task, rec.Processes, rec.Steps)
	return rec, nil
}

const selectColumns = `id, request_id, task, plan_json, source, decision, cached, process_count, step_count, created_at`

// Latest returns the most recent record for task.
func (s *Store) Latest(ctx context.Context, task string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM decompositions
		WHERE task = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, task)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Recent returns up to n records for task, newest first.
func (s *Store) Recent(ctx context.Context, task string, n int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM decompositions
		WHERE task = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, task, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query decompositions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// List returns up to limit records, newest first. A non-positive limit
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM decompositions
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decompositions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Stats counts all records, cached ones and refetched ones.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(cached), 0),
		COALESCE(SUM(CASE WHEN source = 'refetch' THEN 1 ELSE 0 END), 0)
		FROM decompositions`).Scan(&st.Total, &st.Cached, &st.Refetched)
	if err != nil {
		return st, fmt.Errorf("failed to read stats: %w", err)
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec      Record
		planJSON string
		cached   int
		created  int64
	)
	if err := row.Scan(&rec.ID, &rec.RequestID, &rec.Task, &planJSON, &rec.Source, &rec.Decision,
		&cached, &rec.Processes, &rec.Steps, &created); err != nil {
		return nil, err
	}
	plan, err := extract.DecodePlan(planJSON)
	if err != nil {
		return nil, fmt.Errorf("corrupt plan in record %s: %w", rec.ID, err)
	}
	rec.Plan = plan
	rec.Cached = cached != 0
	rec.CreatedAt = time.UnixMilli(created)
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
