package resolver

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

// GroupHash computes a deterministic, order-independent hash for a set of
// attendee emails: lowercase, trim, sort, dedup, join, SHA-256. Two
// attendee lists hash equal iff their lowercased sets are equal.
func GroupHash(emails []string) string {
	set := make(map[string]bool, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			set[e] = true
		}
	}
	sorted := make([]string, 0, len(set))
	for e := range set {
		sorted = append(sorted, e)
	}
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:])
}

// GroupPattern is a learned mapping from an attendee set to an entity.
type GroupPattern struct {
	GroupHash       string
	AttendeeEmails  []string
	EntityKind      signalbus.EntityKind
	EntityID        string
	OccurrenceCount int
	LastSeenAt      time.Time
	Confidence      float64
}

// UpsertGroupPattern records that this attendee set met about this entity
// again. Confidence ramps as min(0.85, 0.5 + 0.05 × occurrences).
func (r *Resolver) UpsertGroupPattern(attendees []string, kind signalbus.EntityKind, entityID string) error {
	emails := cleanEmails(attendees)
	if len(emails) < 2 {
		return nil
	}
	hash := GroupHash(emails)
	emailsJSON, err := json.Marshal(emails)
	if err != nil {
		return fmt.Errorf("marshal attendee emails: %w", err)
	}
	_, err = r.db.Exec(`
		INSERT INTO attendee_group_patterns
			(group_hash, attendee_emails, entity_kind, entity_id, occurrence_count, last_seen_at, confidence)
		VALUES (?, ?, ?, ?, 1, ?, 0.55)
		ON CONFLICT(group_hash) DO UPDATE SET
			occurrence_count = occurrence_count + 1,
			last_seen_at = excluded.last_seen_at,
			confidence = MIN(0.85, 0.5 + 0.05 * (occurrence_count + 1))
	`, hash, string(emailsJSON), kind, entityID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert group pattern: %w", err)
	}
	return nil
}

// LookupGroupPattern returns the learned pattern for an attendee set, or
// nil if this exact set has never been observed.
func (r *Resolver) LookupGroupPattern(emails []string) (*GroupPattern, error) {
	hash := GroupHash(emails)
	row := r.db.QueryRow(`
		SELECT group_hash, attendee_emails, entity_kind, entity_id, occurrence_count, last_seen_at, confidence
		FROM attendee_group_patterns WHERE group_hash = ?
	`, hash)

	p := &GroupPattern{}
	var emailsJSON, lastSeen string
	switch err := row.Scan(&p.GroupHash, &emailsJSON, &p.EntityKind, &p.EntityID, &p.OccurrenceCount, &lastSeen, &p.Confidence); err {
	case nil:
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, fmt.Errorf("query group pattern: %w", err)
	}
	if err := json.Unmarshal([]byte(emailsJSON), &p.AttendeeEmails); err != nil {
		p.AttendeeEmails = nil
	}
	if t, err := time.Parse(time.RFC3339, lastSeen); err == nil {
		p.LastSeenAt = t
	}
	return p, nil
}

// MinePatterns scans meetings from the last 90 days and reinforces group
// patterns for every (attendee set, linked entity) pair, returning how
// many patterns were touched. The entity-resolution trigger task runs
// this periodically.
func (r *Resolver) MinePatterns() (int, error) {
	rows, err := r.db.Query(`
		SELECT id, attendees FROM meetings_history
		WHERE start_time >= ? AND attendees IS NOT NULL AND attendees != ''
		ORDER BY start_time DESC
	`, time.Now().UTC().AddDate(0, 0, -90).Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("query recent meetings: %w", err)
	}
	defer rows.Close()

	type meetingRow struct {
		id        string
		attendees string
	}
	var meetingRows []meetingRow
	for rows.Next() {
		var m meetingRow
		if err := rows.Scan(&m.id, &m.attendees); err != nil {
			return 0, fmt.Errorf("scan meeting: %w", err)
		}
		meetingRows = append(meetingRows, m)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	updated := 0
	for _, m := range meetingRows {
		emails := cleanEmails(strings.Split(m.attendees, ","))
		if len(emails) < 2 {
			continue
		}
		refs, err := r.entities.MeetingEntities(m.id)
		if err != nil {
			continue
		}
		for _, ref := range refs {
			if err := r.UpsertGroupPattern(emails, signalbus.EntityKind(ref.Kind), ref.ID); err != nil {
				r.logger.Warn("pattern mine upsert failed", "meeting_id", m.id, "error", err)
				continue
			}
			updated++
		}
	}
	return updated, nil
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
