// Package refimpl provides reference implementations of the out-of-scope
// collaborator interfaces (types.JobStore, types.MemoryWriteback, types.IndexClient)
// so cmd/patchforge has something concrete to wire the pipeline against. None of
// this package is part of the orchestrator itself; a real deployment supplies its
// own index, job database, and LLM/VCS clients.
package refimpl

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"patchforge/internal/types"
)

// SQLiteJobStore implements types.JobStore and types.MemoryWriteback against a
// local SQLite file, following the sql.Open("sqlite", path)+migrations convention
// used throughout this codebase's storage adapters.
type SQLiteJobStore struct {
	db *sql.DB
}

// NewSQLiteJobStore opens (and migrates) a SQLite-backed job store at path.
func NewSQLiteJobStore(path string) (*SQLiteJobStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("refimpl: open sqlite: %w", err)
	}
	store := &SQLiteJobStore{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteJobStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS run_results (
	job_id TEXT PRIMARY KEY,
	result_json TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS memory_lessons (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	failures INTEGER NOT NULL,
	max_retries INTEGER NOT NULL,
	lesson TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("refimpl: migrate: %w", err)
	}
	return nil
}

// SaveRunResult implements types.JobStore.
func (s *SQLiteJobStore) SaveRunResult(ctx context.Context, jobID string, result any) error {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("refimpl: marshal run result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO run_results (job_id, result_json, created_at) VALUES (?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET result_json = excluded.result_json, created_at = excluded.created_at`,
		jobID, string(b), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("refimpl: save run result: %w", err)
	}
	return nil
}

// Persist implements types.MemoryWriteback.
func (s *SQLiteJobStore) Persist(ctx context.Context, record types.MemoryWritebackRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO memory_lessons (failures, max_retries, lesson, created_at) VALUES (?, ?, ?, ?)`,
		record.Failures, record.MaxRetries, record.Lesson, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("refimpl: persist memory record: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteJobStore) Close() error { return s.db.Close() }
