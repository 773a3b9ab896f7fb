package entitystore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Relationship values for a person.
const (
	RelationshipInternal = "internal"
	RelationshipExternal = "external"
	RelationshipUnknown  = "unknown"
)

func (s *Store) migratePersonColumns() {
	// Additive columns appended after initial release; repeated runs
	// tolerate "duplicate column name".
	for _, stmt := range []string{
		`ALTER TABLE people ADD COLUMN relationship TEXT NOT NULL DEFAULT 'unknown'`,
		`ALTER TABLE people ADD COLUMN aliases TEXT`,
		`ALTER TABLE people ADD COLUMN meeting_count INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE people ADD COLUMN first_seen TEXT`,
		`ALTER TABLE people ADD COLUMN last_seen TEXT`,
		`ALTER TABLE people ADD COLUMN linkedin_url TEXT`,
		`ALTER TABLE people ADD COLUMN twitter_handle TEXT`,
		`ALTER TABLE people ADD COLUMN bio TEXT`,
		`ALTER TABLE people ADD COLUMN photo_url TEXT`,
		`ALTER TABLE people ADD COLUMN last_enriched_at TEXT`,
	} {
		if _, err := s.db.Exec(stmt); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			s.logger.Warn("person migration step failed", "stmt", stmt, "error", err)
		}
	}
}

// SetPersonRelationship reclassifies a person's relationship.
func (s *Store) SetPersonRelationship(id, relationship string) error {
	_, err := s.db.Exec(`UPDATE people SET relationship = ?, updated_at = ? WHERE id = ?`,
		relationship, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("set person relationship: %w", err)
	}
	return nil
}

// SetPersonName fills in a person's display name.
func (s *Store) SetPersonName(id, name string) error {
	_, err := s.db.Exec(`UPDATE people SET name = ?, updated_at = ? WHERE id = ?`,
		name, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("set person name: %w", err)
	}
	return nil
}

// SetPersonEnrichment records profile-enrichment results on a person and
// stamps last_enriched_at.
func (s *Store) SetPersonEnrichment(id string, title, company, linkedinURL, twitterHandle, bio, photoURL string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE people SET
			title = COALESCE(NULLIF(?, ''), title),
			company = COALESCE(NULLIF(?, ''), company),
			linkedin_url = COALESCE(NULLIF(?, ''), linkedin_url),
			twitter_handle = COALESCE(NULLIF(?, ''), twitter_handle),
			bio = COALESCE(NULLIF(?, ''), bio),
			photo_url = COALESCE(NULLIF(?, ''), photo_url),
			last_enriched_at = ?, updated_at = ?
		WHERE id = ?
	`, title, company, linkedinURL, twitterHandle, bio, photoURL, now, now, id)
	if err != nil {
		return fmt.Errorf("set person enrichment: %w", err)
	}
	return nil
}

// AddPersonAlias records an additional email address for a person.
func (s *Store) AddPersonAlias(id, alias string) error {
	alias = strings.ToLower(strings.TrimSpace(alias))
	if alias == "" {
		return nil
	}
	var raw sql.NullString
	if err := s.db.QueryRow(`SELECT aliases FROM people WHERE id = ?`, id).Scan(&raw); err != nil {
		return fmt.Errorf("load person aliases: %w", err)
	}
	var aliases []string
	if raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &aliases); err != nil {
			aliases = nil
		}
	}
	for _, a := range aliases {
		if a == alias {
			return nil
		}
	}
	aliases = append(aliases, alias)
	encoded, err := json.Marshal(aliases)
	if err != nil {
		return fmt.Errorf("marshal aliases: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE people SET aliases = ?, updated_at = ? WHERE id = ?`,
		string(encoded), time.Now().UTC().Format(time.RFC3339), id); err != nil {
		return fmt.Errorf("save person aliases: %w", err)
	}
	return nil
}

// FindPersonByAlias matches the primary email first, then the alias list.
func (s *Store) FindPersonByAlias(email string) (*Person, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if p, err := s.FindPersonByEmail(email); err == nil {
		return p, nil
	} else if err != sql.ErrNoRows {
		return nil, err
	}
	marker, err := json.Marshal(email)
	if err != nil {
		return nil, fmt.Errorf("marshal alias marker: %w", err)
	}
	return scanPerson(s.db.QueryRow(
		`SELECT `+personColumns+` FROM people WHERE `+activeFilter+` AND aliases LIKE ? LIMIT 1`,
		"%"+string(marker)+"%"))
}

// PeopleWithUnknownRelationship returns people awaiting classification.
func (s *Store) PeopleWithUnknownRelationship() ([]*Person, error) {
	return s.queryPeople(`relationship = 'unknown'`)
}

// UnnamedPeople returns people whose display name still equals their
// email address or is empty.
func (s *Store) UnnamedPeople() ([]*Person, error) {
	return s.queryPeople(`(name = '' OR name = email OR name IS NULL)`)
}

func (s *Store) queryPeople(where string) ([]*Person, error) {
	rows, err := s.db.Query(`SELECT ` + personColumns + ` FROM people WHERE ` + activeFilter + ` AND ` + where)
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

// RecomputePersonMeetingCounts reconciles people.meeting_count with the
// meeting_entity join, returning how many rows changed.
func (s *Store) RecomputePersonMeetingCounts() (int, error) {
	result, err := s.db.Exec(`
		UPDATE people SET meeting_count = (
			SELECT COUNT(*) FROM meeting_entity
			WHERE meeting_entity.entity_kind = 'person' AND meeting_entity.entity_id = people.id
		)
		WHERE meeting_count != (
			SELECT COUNT(*) FROM meeting_entity
			WHERE meeting_entity.entity_kind = 'person' AND meeting_entity.entity_id = people.id
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("recompute person meeting counts: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// TouchPersonSeen maintains the first_seen/last_seen observation window
// and bumps meeting_count when a meeting attendance is recorded.
func (s *Store) TouchPersonSeen(id string, at time.Time, countMeeting bool) error {
	ts := at.UTC().Format(time.RFC3339)
	bump := 0
	if countMeeting {
		bump = 1
	}
	_, err := s.db.Exec(`
		UPDATE people SET
			first_seen = COALESCE(first_seen, ?),
			last_seen = CASE WHEN last_seen IS NULL OR last_seen < ? THEN ? ELSE last_seen END,
			meeting_count = meeting_count + ?,
			updated_at = ?
		WHERE id = ?
	`, ts, ts, ts, bump, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touch person seen: %w", err)
	}
	return nil
}
