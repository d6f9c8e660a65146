package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// RunKind distinguishes an initial submission from a resume attempt
type RunKind string

const (
	RunInitial RunKind = "initial"
	RunResume  RunKind = "resume"
)

// Run is one finished dispatch round, kept for auditing
type Run struct {
	ID         int64
	BatchID    string
	Kind       RunKind
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Processed  int
	Failed     int
	Activated  bool
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    processed INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    activated BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_runs_batch_id ON runs(batch_id);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Store provides SQLite-backed run history
type Store struct {
	db *sql.DB
}

// New creates a Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts one run row
func (s *Store) SaveRun(run Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (batch_id, kind, status, started_at, finished_at, processed, failed, activated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.BatchID,
		string(run.Kind),
		run.Status,
		run.StartedAt,
		run.FinishedAt,
		run.Processed,
		run.Failed,
		run.Activated,
	)
	return err
}

// ListRuns returns the most recent runs, newest first
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, batch_id, kind, status, started_at, finished_at, processed, failed, activated
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var kind string
		if err := rows.Scan(&r.ID, &r.BatchID, &kind, &r.Status, &r.StartedAt, &r.FinishedAt, &r.Processed, &r.Failed, &r.Activated); err != nil {
			return nil, err
		}
		r.Kind = RunKind(kind)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListRunsForBatch returns every run of one batch, oldest first
func (s *Store) ListRunsForBatch(batchID string) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, batch_id, kind, status, started_at, finished_at, processed, failed, activated
		FROM runs WHERE batch_id = ? ORDER BY started_at ASC, id ASC
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var kind string
		if err := rows.Scan(&r.ID, &r.BatchID, &kind, &r.Status, &r.StartedAt, &r.FinishedAt, &r.Processed, &r.Failed, &r.Activated); err != nil {
			return nil, err
		}
		r.Kind = RunKind(kind)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRunsForBatch removes the history of an abandoned or purged batch
func (s *Store) DeleteRunsForBatch(batchID string) error {
	_, err := s.db.Exec(`DELETE FROM runs WHERE batch_id = ?`, batchID)
	return err
}
