// Package store persists the task registry in SQLite so the queue
// survives process restarts. Chunk-level progress lives in per-task
// sidecar files (see chunkstore); the registry only holds task rows.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AditthyaSS/Flux/types"
)

// Store is the SQLite-backed task registry.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the registry database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: set pragma %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			destination TEXT NOT NULL,
			filename TEXT NOT NULL DEFAULT '',
			total_size INTEGER NOT NULL DEFAULT 0,
			supports_ranges BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			connections INTEGER NOT NULL DEFAULT 0,
			chunk_size INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Save inserts or replaces a task row.
func (s *Store) Save(task types.Task) error {
	query := `
		INSERT INTO tasks (
			id, url, destination, filename, total_size, supports_ranges,
			status, error, connections, chunk_size, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			destination = excluded.destination,
			filename = excluded.filename,
			total_size = excluded.total_size,
			supports_ranges = excluded.supports_ranges,
			status = excluded.status,
			error = excluded.error,
			connections = excluded.connections,
			chunk_size = excluded.chunk_size,
			updated_at = excluded.updated_at
	`
	_, err := s.db.Exec(query,
		task.ID, task.URL, task.Destination, task.Filename,
		task.TotalSize, task.SupportsRanges, string(task.Status), task.Error,
		task.Connections, task.ChunkSize, task.CreatedAt, time.Now().UTC())
	return err
}

const taskColumns = `id, url, destination, filename, total_size,
	supports_ranges, status, error, connections, chunk_size, created_at`

// Get retrieves one task. Returns types.ErrTaskNotFound for unknown ids.
func (s *Store) Get(id string) (types.Task, error) {
	row := s.db.QueryRow(
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return types.Task{}, types.ErrTaskNotFound
	}
	return task, err
}

// List returns all tasks in creation order.
func (s *Store) List() ([]types.Task, error) {
	rows, err := s.db.Query(
		`SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ListByStatus returns tasks with the given status in creation order.
func (s *Store) ListByStatus(status types.TaskStatus) ([]types.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at ASC`,
		string(status))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Delete removes a task row. Returns types.ErrTaskNotFound when no row
// matched.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return types.ErrTaskNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (types.Task, error) {
	var task types.Task
	var status string
	err := row.Scan(
		&task.ID, &task.URL, &task.Destination, &task.Filename,
		&task.TotalSize, &task.SupportsRanges, &status, &task.Error,
		&task.Connections, &task.ChunkSize, &task.CreatedAt)
	if err != nil {
		return types.Task{}, err
	}
	task.Status = types.TaskStatus(status)
	return task, nil
}
