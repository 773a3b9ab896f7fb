package entitystore

import (
	"fmt"
	"strings"
	"time"
)

// ListAccounts returns active accounts, optionally including archived
// ones, ordered by name.
func (s *Store) ListAccounts(includeArchived bool) ([]*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + activeFilter
	if !includeArchived {
		query += ` AND archived = 0`
	}
	query += ` ORDER BY name`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListPeople returns all active people ordered by name.
func (s *Store) ListPeople() ([]*Person, error) {
	rows, err := s.db.Query(`SELECT ` + personColumns + ` FROM people WHERE ` + activeFilter + ` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query people: %w", err)
	}
	defer rows.Close()

	var out []*Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindAccountByName returns the active account whose id or name matches
// case-insensitively, or nil if none does.
func (s *Store) FindAccountByName(idOrName string) (*Account, error) {
	needle := strings.ToLower(strings.TrimSpace(idOrName))
	if needle == "" {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT `+accountColumns+` FROM accounts
		WHERE `+activeFilter+` AND (LOWER(id) = ? OR LOWER(name) = ?)
		LIMIT 1
	`, needle, needle)
	if err != nil {
		return nil, fmt.Errorf("find account by name: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanAccountRow(rows)
}

// DeletePerson removes a person and cascades the link tables. The system
// itself never calls this; it backs the user-initiated delete command.
func (s *Store) DeletePerson(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM person_entity WHERE person_id = ?`, id); err != nil {
		return fmt.Errorf("delete person links: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM people WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	return tx.Commit()
}

// ArchivePerson soft-deletes a person; the row survives for audit but no
// listing or lookup returns it.
func (s *Store) ArchivePerson(id string) error {
	_, err := s.db.Exec(`UPDATE people SET deleted_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("archive person: %w", err)
	}
	return nil
}

// MergePeople moves every reference from remove onto keep, then deletes
// the removed person.
func (s *Store) MergePeople(keepID, removeID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Move links that don't already exist on the kept person; drop the rest.
	if _, err := tx.Exec(`
		UPDATE OR IGNORE person_entity SET person_id = ? WHERE person_id = ?
	`, keepID, removeID); err != nil {
		return fmt.Errorf("move person links: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM person_entity WHERE person_id = ?`, removeID); err != nil {
		return fmt.Errorf("drop leftover links: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM people WHERE id = ?`, removeID); err != nil {
		return fmt.Errorf("delete merged person: %w", err)
	}
	if _, err := tx.Exec(`UPDATE people SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), keepID); err != nil {
		return fmt.Errorf("touch kept person: %w", err)
	}
	return tx.Commit()
}
