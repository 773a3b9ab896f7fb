package entitystore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccountEvent is a lifecycle milestone on an account: a renewal, a
// churn, an expansion.
type AccountEvent struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	EventType string    `json:"event_type"` // renewal, churn, expansion
	EventDate time.Time `json:"event_date"`
	ARR       float64   `json:"arr,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) migrateAccountEvents() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS account_events (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			event_type TEXT NOT NULL,
			event_date TEXT NOT NULL,
			arr REAL,
			note TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_account_events_account
			ON account_events(account_id, event_type);
	`)
	return err
}

// AddAccountEvent records a lifecycle event.
func (s *Store) AddAccountEvent(e *AccountEvent) (*AccountEvent, error) {
	if e.ID == "" {
		e.ID = "ae-" + uuid.NewString()
	}
	e.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO account_events (id, account_id, event_type, event_date, arr, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.AccountID, e.EventType, e.EventDate.UTC().Format(time.RFC3339), e.ARR,
		nullStr(e.Note), e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert account event: %w", err)
	}
	return e, nil
}

// HasAccountEvent reports whether an account has any event of a type.
func (s *Store) HasAccountEvent(accountID, eventType string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM account_events WHERE account_id = ? AND event_type = ?
	`, accountID, eventType).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query account events: %w", err)
	}
	return n > 0, nil
}

// AccountEvents lists an account's lifecycle events, newest first.
func (s *Store) AccountEvents(accountID string) ([]*AccountEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, account_id, event_type, event_date, arr, note, created_at
		FROM account_events WHERE account_id = ? ORDER BY event_date DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query account events: %w", err)
	}
	defer rows.Close()

	var out []*AccountEvent
	for rows.Next() {
		e := &AccountEvent{}
		var eventDate, createdAt string
		var note sql.NullString
		var arr sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.AccountID, &e.EventType, &eventDate, &arr, &note, &createdAt); err != nil {
			return nil, fmt.Errorf("scan account event: %w", err)
		}
		e.ARR = arr.Float64
		e.Note = note.String
		e.EventDate = parseTime(eventDate)
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateContractEnd moves an account's contract end date.
func (s *Store) UpdateContractEnd(accountID string, end time.Time) error {
	_, err := s.db.Exec(`UPDATE accounts SET contract_end = ?, updated_at = ? WHERE id = ?`,
		end.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), accountID)
	if err != nil {
		return fmt.Errorf("update contract end: %w", err)
	}
	return nil
}
