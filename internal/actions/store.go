// Package actions stores the user's action items: commitments captured
// from meetings and emails, proposals awaiting acceptance, and their
// completion lifecycle. Every lifecycle mutation emits a typed signal via
// the caller-supplied emitter so the intelligence layer sees action churn.
package actions

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Status values an action moves through. Proposed actions come from the
// email extraction pass and wait for the user to accept or reject them.
const (
	StatusProposed  = "proposed"
	StatusOpen      = "open"
	StatusCompleted = "completed"
	StatusRejected  = "rejected"
)

// Action is a single tracked commitment.
type Action struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Status         string    `json:"status"`
	Priority       string    `json:"priority,omitempty"` // high, medium, low
	CommitmentType string    `json:"commitment_type,omitempty"`
	Owner          string    `json:"owner,omitempty"`
	EntityKind     string    `json:"entity_kind,omitempty"`
	EntityID       string    `json:"entity_id,omitempty"`
	SourceEmailID  string    `json:"source_email_id,omitempty"`
	MeetingID      string    `json:"meeting_id,omitempty"`
	DueDate        time.Time `json:"due_date,omitempty"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Overdue reports whether the action has a due date in the past and is
// still open or proposed.
func (a Action) Overdue(now time.Time) bool {
	if a.DueDate.IsZero() {
		return false
	}
	return (a.Status == StatusOpen || a.Status == StatusProposed) && a.DueDate.Before(now)
}

// Store persists actions in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates an action store on an existing database connection.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate actions: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS actions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			priority TEXT,
			commitment_type TEXT,
			owner TEXT,
			entity_kind TEXT,
			entity_id TEXT,
			source_email_id TEXT,
			meeting_id TEXT,
			due_date TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(status);
		CREATE INDEX IF NOT EXISTS idx_actions_entity ON actions(entity_kind, entity_id);
		CREATE INDEX IF NOT EXISTS idx_actions_source_email ON actions(source_email_id);
	`)
	return err
}

// Create inserts a new action. A blank ID assigns one; a blank status
// defaults to open.
func (s *Store) Create(a *Action) (*Action, error) {
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = "act-" + uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusOpen
	}
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO actions (id, title, status, priority, commitment_type, owner, entity_kind, entity_id, source_email_id, meeting_id, due_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Title, a.Status, nullStr(a.Priority), nullStr(a.CommitmentType), nullStr(a.Owner),
		nullStr(a.EntityKind), nullStr(a.EntityID), nullStr(a.SourceEmailID), nullStr(a.MeetingID),
		nullTime(a.DueDate), now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert action: %w", err)
	}
	return a, nil
}

// UpsertProposed inserts a proposed action with a caller-derived
// deterministic ID (email id + index), never downgrading an action the
// user already accepted, completed, or rejected.
func (s *Store) UpsertProposed(a *Action) error {
	now := time.Now().UTC().Format(time.RFC3339)
	a.Status = StatusProposed
	_, err := s.db.Exec(`
		INSERT INTO actions (id, title, status, priority, commitment_type, owner, entity_kind, entity_id, source_email_id, meeting_id, due_date, created_at, updated_at)
		VALUES (?, ?, 'proposed', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			commitment_type = excluded.commitment_type,
			owner = excluded.owner,
			due_date = excluded.due_date,
			updated_at = excluded.updated_at
		WHERE actions.status = 'proposed'
	`, a.ID, a.Title, nullStr(a.Priority), nullStr(a.CommitmentType), nullStr(a.Owner),
		nullStr(a.EntityKind), nullStr(a.EntityID), nullStr(a.SourceEmailID), nullStr(a.MeetingID),
		nullTime(a.DueDate), now, now)
	if err != nil {
		return fmt.Errorf("upsert proposed action: %w", err)
	}
	return nil
}

// Get retrieves an action by ID.
func (s *Store) Get(id string) (*Action, error) {
	return scanAction(s.db.QueryRow(`
		SELECT id, title, status, priority, commitment_type, owner, entity_kind, entity_id, source_email_id, meeting_id, due_date, completed_at, created_at, updated_at
		FROM actions WHERE id = ?
	`, id))
}

// List returns actions filtered by status; an empty status returns all,
// newest first.
func (s *Store) List(status string) ([]*Action, error) {
	query := `
		SELECT id, title, status, priority, commitment_type, owner, entity_kind, entity_id, source_email_id, meeting_id, due_date, completed_at, created_at, updated_at
		FROM actions`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []*Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetStatus transitions an action's status. Completing stamps
// completed_at; reopening clears it.
func (s *Store) SetStatus(id, status string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var completedAt any
	if status == StatusCompleted {
		completedAt = now
	}
	res, err := s.db.Exec(`
		UPDATE actions SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?
	`, status, completedAt, now, id)
	if err != nil {
		return fmt.Errorf("set action status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetPriority updates an action's priority.
func (s *Store) SetPriority(id, priority string) error {
	res, err := s.db.Exec(`
		UPDATE actions SET priority = ?, updated_at = ? WHERE id = ?
	`, priority, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("set action priority: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Update rewrites the mutable descriptive fields of an action.
func (s *Store) Update(a *Action) error {
	res, err := s.db.Exec(`
		UPDATE actions SET title = ?, owner = ?, due_date = ?, entity_kind = ?, entity_id = ?, updated_at = ?
		WHERE id = ?
	`, a.Title, nullStr(a.Owner), nullTime(a.DueDate), nullStr(a.EntityKind), nullStr(a.EntityID),
		time.Now().UTC().Format(time.RFC3339), a.ID)
	if err != nil {
		return fmt.Errorf("update action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountOverdue returns how many open or proposed actions for an entity
// have a due date in the past. The propagation engine's overdue-threshold
// rule reads this.
func (s *Store) CountOverdue(entityKind, entityID string, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM actions
		WHERE entity_kind = ? AND entity_id = ?
		  AND status IN ('open', 'proposed')
		  AND due_date IS NOT NULL AND due_date < ?
	`, entityKind, entityID, now.UTC().Format(time.RFC3339)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count overdue actions: %w", err)
	}
	return n, nil
}

func scanAction(row interface{ Scan(...any) error }) (*Action, error) {
	a := &Action{}
	var priority, commitmentType, owner, entityKind, entityID, sourceEmailID, meetingID sql.NullString
	var dueDate, completedAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&a.ID, &a.Title, &a.Status, &priority, &commitmentType, &owner,
		&entityKind, &entityID, &sourceEmailID, &meetingID, &dueDate, &completedAt,
		&createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan action: %w", err)
	}
	a.Priority = priority.String
	a.CommitmentType = commitmentType.String
	a.Owner = owner.String
	a.EntityKind = entityKind.String
	a.EntityID = entityID.String
	a.SourceEmailID = sourceEmailID.String
	a.MeetingID = meetingID.String
	a.DueDate = parseTime(dueDate.String)
	a.CompletedAt = parseTime(completedAt.String)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
