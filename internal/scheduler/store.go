package scheduler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const timeFormat = time.RFC3339Nano

// Store persists tasks and their execution history.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the scheduler database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open scheduler db: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("scheduler schema: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			schedule_json TEXT NOT NULL,
			payload_json  TEXT NOT NULL,
			enabled       INTEGER NOT NULL DEFAULT 1,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS executions (
			id           TEXT PRIMARY KEY,
			task_id      TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			scheduled_at TEXT NOT NULL,
			started_at   TEXT,
			completed_at TEXT,
			status       TEXT NOT NULL,
			result       TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_executions_task ON executions(task_id, scheduled_at DESC);
		CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
	`)
	return err
}

// NewID generates a time-ordered task or execution ID.
func NewID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.New().String()
}

// CreateTask inserts a task, assigning an ID and timestamps as needed.
func (s *Store) CreateTask(t *Task) error {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = time.Now()

	schedule, payload, err := encodeTask(t)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO tasks (id, name, schedule_json, payload_json, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, schedule, payload, boolInt(t.Enabled),
		t.CreatedAt.Format(timeFormat), t.UpdatedAt.Format(timeFormat))
	return err
}

// UpdateTask rewrites a task's mutable fields.
func (s *Store) UpdateTask(t *Task) error {
	t.UpdatedAt = time.Now()
	schedule, payload, err := encodeTask(t)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE tasks SET name = ?, schedule_json = ?, payload_json = ?, enabled = ?, updated_at = ?
		 WHERE id = ?`,
		t.Name, schedule, payload, boolInt(t.Enabled), t.UpdatedAt.Format(timeFormat), t.ID)
	return err
}

// DeleteTask removes a task; executions cascade.
func (s *Store) DeleteTask(id string) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	return err
}

const taskColumns = `id, name, schedule_json, payload_json, enabled, created_at, updated_at`

// GetTask retrieves a task by ID.
func (s *Store) GetTask(id string) (*Task, error) {
	return scanTask(s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
}

// GetTaskByName retrieves a task by name; nil, nil when absent.
func (s *Store) GetTaskByName(name string) (*Task, error) {
	t, err := scanTask(s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE name = ? LIMIT 1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// ListTasks returns tasks newest-first, optionally only enabled ones.
func (s *Store) ListTasks(enabledOnly bool) ([]*Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	rows, err := s.db.Query(q + ` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CreateExecution inserts an execution record.
func (s *Store) CreateExecution(e *Execution) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	_, err := s.db.Exec(
		`INSERT INTO executions (id, task_id, scheduled_at, started_at, completed_at, status, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskID, e.ScheduledAt.Format(timeFormat),
		optTime(e.StartedAt), optTime(e.CompletedAt), e.Status, e.Result)
	return err
}

// UpdateExecution rewrites an execution's progress fields.
func (s *Store) UpdateExecution(e *Execution) error {
	_, err := s.db.Exec(
		`UPDATE executions SET started_at = ?, completed_at = ?, status = ?, result = ? WHERE id = ?`,
		optTime(e.StartedAt), optTime(e.CompletedAt), e.Status, e.Result, e.ID)
	return err
}

// ListExecutions returns a task's runs, newest-first.
func (s *Store) ListExecutions(taskID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, task_id, scheduled_at, started_at, completed_at, status, result
		 FROM executions WHERE task_id = ? ORDER BY scheduled_at DESC LIMIT ?`,
		taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// PendingExecutions returns runs recorded but never started, oldest
// first, for the missed-run sweep at startup.
func (s *Store) PendingExecutions() ([]*Execution, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, scheduled_at, started_at, completed_at, status, result
		 FROM executions WHERE status = ? ORDER BY scheduled_at ASC`,
		StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*Task, error) {
	var t Task
	var schedule, payload, createdAt, updatedAt string
	var enabled int
	if err := r.Scan(&t.ID, &t.Name, &schedule, &payload, &enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(schedule), &t.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &t.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	t.Enabled = enabled == 1
	t.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	t.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &t, nil
}

func scanExecution(r rowScanner) (*Execution, error) {
	var e Execution
	var scheduledAt string
	var startedAt, completedAt, result sql.NullString
	if err := r.Scan(&e.ID, &e.TaskID, &scheduledAt, &startedAt, &completedAt, &e.Status, &result); err != nil {
		return nil, err
	}
	e.ScheduledAt, _ = time.Parse(timeFormat, scheduledAt)
	if startedAt.Valid {
		t, _ := time.Parse(timeFormat, startedAt.String)
		e.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(timeFormat, completedAt.String)
		e.CompletedAt = &t
	}
	e.Result = result.String
	return &e, nil
}

func collectExecutions(rows *sql.Rows) ([]*Execution, error) {
	var execs []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

func encodeTask(t *Task) (schedule, payload string, err error) {
	sb, err := json.Marshal(t.Schedule)
	if err != nil {
		return "", "", fmt.Errorf("encode schedule: %w", err)
	}
	pb, err := json.Marshal(t.Payload)
	if err != nil {
		return "", "", fmt.Errorf("encode payload: %w", err)
	}
	return string(sb), string(pb), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func optTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(timeFormat)
}
