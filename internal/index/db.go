// Package index keeps a SQLite mirror of the project tree for fast
// cross-project status queries.
//
// The index is a derived cache. It is never written back to the file tree,
// and it can be deleted and rebuilt with FullSync at any time.
//
// Architecture:
//   - Database file: <base_dir>/.taskflow-index.db (configurable)
//   - WAL mode: readers are not blocked while the watcher writes
//   - Schema: projects, tasks
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mschirtzinger/taskflow/internal/types"
)

// DB wraps the index database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the index database at path.
// The caller must call Close.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the tables and indexes. It is idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		name TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created TEXT NOT NULL,
		next_task_id INTEGER NOT NULL,
		total_tasks INTEGER NOT NULL,
		completed_tasks INTEGER NOT NULL,
		synced_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		project TEXT NOT NULL,
		id TEXT NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created TEXT NOT NULL,
		started TEXT,
		completed TEXT,
		current_iteration INTEGER NOT NULL DEFAULT 0,
		total_iterations INTEGER NOT NULL DEFAULT 0,
		synced_at TEXT NOT NULL,
		PRIMARY KEY (project, id)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project, status);
	CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func now() string {
	return string(types.NewTimestamp(time.Now()))
}

// UpsertProject inserts or replaces a project row.
func (db *DB) UpsertProject(ctx context.Context, p *types.Project) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}
	query := `
	INSERT INTO projects (name, status, description, created, next_task_id, total_tasks, completed_tasks, synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		status = excluded.status,
		description = excluded.description,
		created = excluded.created,
		next_task_id = excluded.next_task_id,
		total_tasks = excluded.total_tasks,
		completed_tasks = excluded.completed_tasks,
		synced_at = excluded.synced_at
	`
	_, err := db.conn.ExecContext(ctx, query,
		p.Name, string(p.Status), p.Description, string(p.Created),
		p.NextTaskID, p.TotalTasks, p.CompletedTasks, now())
	if err != nil {
		return fmt.Errorf("failed to upsert project %s: %w", p.Name, err)
	}
	return nil
}

// DeleteProject removes a project and all of its task rows.
// Missing rows are not an error.
func (db *DB) DeleteProject(ctx context.Context, name string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE project = ?`, name); err != nil {
		return fmt.Errorf("failed to delete tasks of project %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", name, err)
	}
	return tx.Commit()
}

// UpsertTask inserts or replaces a task row.
func (db *DB) UpsertTask(ctx context.Context, t *types.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	query := `
	INSERT INTO tasks (
		project, id, title, status, description, notes, created,
		started, completed, current_iteration, total_iterations, synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(project, id) DO UPDATE SET
		title = excluded.title,
		status = excluded.status,
		description = excluded.description,
		notes = excluded.notes,
		created = excluded.created,
		started = excluded.started,
		completed = excluded.completed,
		current_iteration = excluded.current_iteration,
		total_iterations = excluded.total_iterations,
		synced_at = excluded.synced_at
	`
	_, err := db.conn.ExecContext(ctx, query,
		t.Project, t.ID, t.Title, string(t.Status), t.Description, t.Notes, string(t.Created),
		tsToNullString(t.Started), tsToNullString(t.Completed),
		t.CurrentIteration, t.TotalIterations, now())
	if err != nil {
		return fmt.Errorf("failed to upsert task %s/%s: %w", t.Project, t.ID, err)
	}
	return nil
}

// DeleteTask removes a task row. Missing rows are not an error.
func (db *DB) DeleteTask(ctx context.Context, project, id string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM tasks WHERE project = ? AND id = ?`, project, id)
	if err != nil {
		return fmt.Errorf("failed to delete task %s/%s: %w", project, id, err)
	}
	return nil
}

// Reset removes every row.
func (db *DB) Reset(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM tasks; DELETE FROM projects;`); err != nil {
		return fmt.Errorf("failed to reset index: %w", err)
	}
	return nil
}

// Filter narrows ListTasks. Zero values match everything.
type Filter struct {
	Project string
	Status  types.TaskStatus
	Limit   int
}

// ListTasks returns matching tasks ordered by project then id.
func (db *DB) ListTasks(ctx context.Context, f Filter) ([]*types.Task, error) {
	var conditions []string
	var args []any
	if f.Project != "" {
		conditions = append(conditions, "project = ?")
		args = append(args, f.Project)
	}
	if f.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(f.Status))
	}

	query := `
		SELECT project, id, title, status, description, notes, created,
		       started, completed, current_iteration, total_iterations
		FROM tasks`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY project ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetTask returns one task row, or sql.ErrNoRows.
func (db *DB) GetTask(ctx context.Context, project, id string) (*types.Task, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT project, id, title, status, description, notes, created,
		       started, completed, current_iteration, total_iterations
		FROM tasks WHERE project = ? AND id = ?`, project, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, sql.ErrNoRows
	}
	return tasks[0], nil
}

func scanTasks(rows *sql.Rows) ([]*types.Task, error) {
	tasks := []*types.Task{}
	for rows.Next() {
		var t types.Task
		var status, created string
		var started, completed sql.NullString
		err := rows.Scan(
			&t.Project, &t.ID, &t.Title, &status, &t.Description, &t.Notes, &created,
			&started, &completed, &t.CurrentIteration, &t.TotalIterations,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Status = types.TaskStatus(status)
		t.Created = types.Timestamp(created)
		t.Started = nullStringToTS(started)
		t.Completed = nullStringToTS(completed)
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// CountByStatus counts tasks per status, across all projects when project is empty.
// Every status appears in the result, with zero if there are none.
func (db *DB) CountByStatus(ctx context.Context, project string) (map[types.TaskStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM tasks`
	var args []any
	if project != "" {
		query += ` WHERE project = ?`
		args = append(args, project)
	}
	query += ` GROUP BY status`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.TaskStatus]int, len(types.TaskStatuses))
	for _, st := range types.TaskStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[types.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

// TaskCount returns the number of task rows.
func (db *DB) TaskCount(ctx context.Context) (int, error) {
	return db.count(ctx, "tasks")
}

// ProjectCount returns the number of project rows.
func (db *DB) ProjectCount(ctx context.Context) (int, error) {
	return db.count(ctx, "projects")
}

func (db *DB) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// LastSync returns the most recent synced_at across all rows, or "" if empty.
func (db *DB) LastSync(ctx context.Context) (string, error) {
	var ts sql.NullString
	err := db.conn.QueryRowContext(ctx, `
		SELECT MAX(s) FROM (
			SELECT MAX(synced_at) AS s FROM projects
			UNION ALL
			SELECT MAX(synced_at) AS s FROM tasks
		)`).Scan(&ts)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read last sync time: %w", err)
	}
	return ts.String, nil
}

func tsToNullString(ts *types.Timestamp) sql.NullString {
	if ts == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*ts), Valid: true}
}

func nullStringToTS(ns sql.NullString) *types.Timestamp {
	if !ns.Valid {
		return nil
	}
	ts := types.Timestamp(ns.String)
	return &ts
}
