// Package meetings persists meeting history, post-meeting captures, and
// the content file index. The meeting row's ID is the upstream
// calendar event ID so repeated calendar polls converge on one record.
package meetings

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Intelligence states a meeting's enrichment moves through.
const (
	IntelNone       = "none"
	IntelEnriching  = "enriching"
	IntelEnriched   = "enriched"
	IntelRefreshing = "refreshing"
)

// Meeting is one calendar event's durable record.
type Meeting struct {
	ID                string    `json:"id"` // upstream calendar event id
	Title             string    `json:"title"`
	MeetingType       string    `json:"meeting_type"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time,omitempty"`
	Attendees         string    `json:"attendees,omitempty"` // comma-separated emails
	Description       string    `json:"description,omitempty"`
	AccountID         string    `json:"account_id,omitempty"`
	PrepContextJSON   string    `json:"prep_context_json,omitempty"`
	PrepFrozenJSON    string    `json:"prep_frozen_json,omitempty"`
	PrepFrozenAt      time.Time `json:"prep_frozen_at,omitempty"`
	TranscriptPath    string    `json:"transcript_path,omitempty"`
	IntelligenceState string    `json:"intelligence_state"`
	LastEnrichedAt    time.Time `json:"last_enriched_at,omitempty"`
	HasNewSignals     bool      `json:"has_new_signals"`
}

// AttendeeEmails splits the stored attendee string into lowercased email
// addresses, tolerating both comma-separated and whitespace-padded forms.
func (m Meeting) AttendeeEmails() []string {
	var out []string
	for _, part := range strings.Split(m.Attendees, ",") {
		e := strings.ToLower(strings.TrimSpace(part))
		if strings.Contains(e, "@") {
			out = append(out, e)
		}
	}
	return out
}

// Capture is a win, risk, decision, or action extracted post-meeting.
type Capture struct {
	ID          string    `json:"id"`
	MeetingID   string    `json:"meeting_id"`
	AccountID   string    `json:"account_id,omitempty"`
	ProjectID   string    `json:"project_id,omitempty"`
	CaptureType string    `json:"capture_type"` // win, risk, decision, action
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists meetings, captures, and the content index.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a meeting store on an existing database connection.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate meetings: %w", err)
	}
	if err := s.migrateContent(); err != nil {
		return nil, fmt.Errorf("migrate content index: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS meetings_history (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			meeting_type TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT,
			attendees TEXT,
			description TEXT,
			account_id TEXT,
			prep_context_json TEXT,
			prep_frozen_json TEXT,
			prep_frozen_at TEXT,
			transcript_path TEXT,
			intelligence_state TEXT NOT NULL DEFAULT 'none',
			last_enriched_at TEXT,
			has_new_signals INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_meetings_start ON meetings_history(start_time);
		CREATE INDEX IF NOT EXISTS idx_meetings_account ON meetings_history(account_id);

		CREATE TABLE IF NOT EXISTS captures (
			id TEXT PRIMARY KEY,
			meeting_id TEXT NOT NULL,
			account_id TEXT,
			project_id TEXT,
			capture_type TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_captures_meeting ON captures(meeting_id);
		CREATE INDEX IF NOT EXISTS idx_captures_account ON captures(account_id);

		CREATE TABLE IF NOT EXISTS post_meeting_emails (
			id TEXT PRIMARY KEY,
			meeting_id TEXT NOT NULL,
			email_signal_id TEXT NOT NULL,
			thread_id TEXT,
			actions_extracted INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE (meeting_id, email_signal_id)
		);
	`)
	return err
}

// Upsert creates or refreshes a meeting row from a calendar poll. Prep
// columns are preserved on update: a re-polled event must not wipe a
// frozen prep.
func (s *Store) Upsert(m *Meeting) error {
	if m.IntelligenceState == "" {
		m.IntelligenceState = IntelNone
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO meetings_history (id, title, meeting_type, start_time, end_time, attendees, description, account_id, intelligence_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			meeting_type = excluded.meeting_type,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			attendees = excluded.attendees,
			description = excluded.description,
			account_id = COALESCE(excluded.account_id, meetings_history.account_id)
	`, m.ID, m.Title, m.MeetingType, m.StartTime.UTC().Format(time.RFC3339),
		nullTime(m.EndTime), nullStr(m.Attendees), nullStr(m.Description), nullStr(m.AccountID),
		m.IntelligenceState, now)
	if err != nil {
		return fmt.Errorf("upsert meeting: %w", err)
	}
	return nil
}

// Get retrieves a meeting by ID.
func (s *Store) Get(id string) (*Meeting, error) {
	return scanMeeting(s.db.QueryRow(meetingSelect+` WHERE id = ?`, id))
}

const meetingSelect = `
	SELECT id, title, meeting_type, start_time, end_time, attendees, description, account_id,
	       prep_context_json, prep_frozen_json, prep_frozen_at, transcript_path,
	       intelligence_state, last_enriched_at, has_new_signals
	FROM meetings_history`

// ListBetween returns meetings whose start time falls inside [from, to),
// ordered by start time.
func (s *Store) ListBetween(from, to time.Time) ([]*Meeting, error) {
	rows, err := s.db.Query(meetingSelect+`
		WHERE start_time >= ? AND start_time < ?
		ORDER BY start_time ASC
	`, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query meetings between: %w", err)
	}
	return collectMeetings(rows)
}

// UpcomingForEntity returns IDs of meetings linked to an entity (via the
// meeting_entity table) starting within the next `within` duration. The
// propagation engine's prep-invalidation side channel reads this.
func (s *Store) UpcomingForEntity(entityKind, entityID string, within time.Duration) ([]string, error) {
	now := time.Now().UTC()
	rows, err := s.db.Query(`
		SELECT DISTINCT me.meeting_id
		FROM meeting_entity me
		JOIN meetings_history mh ON mh.id = me.meeting_id
		WHERE me.entity_kind = ? AND me.entity_id = ?
		  AND mh.start_time >= ? AND mh.start_time <= ?
	`, entityKind, entityID, now.Format(time.RFC3339), now.Add(within).Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query upcoming meetings for entity: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan meeting id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecentlyEnded returns meetings with a non-empty attendee list that ended
// between 1 and `withinHours` hours ago, for post-meeting email
// correlation.
func (s *Store) RecentlyEnded(withinHours int) ([]*Meeting, error) {
	now := time.Now().UTC()
	rows, err := s.db.Query(meetingSelect+`
		WHERE end_time IS NOT NULL
		  AND attendees IS NOT NULL AND attendees != ''
		  AND end_time <= ? AND end_time >= ?
		ORDER BY end_time DESC
	`, now.Add(-1*time.Hour).Format(time.RFC3339), now.Add(-time.Duration(withinHours)*time.Hour).Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query recently ended meetings: %w", err)
	}
	return collectMeetings(rows)
}

// RecentForEntity returns the most recent meetings linked to an entity,
// newest first, capped at limit.
func (s *Store) RecentForEntity(entityKind, entityID string, limit int) ([]*Meeting, error) {
	rows, err := s.db.Query(meetingSelect+`
		WHERE id IN (SELECT meeting_id FROM meeting_entity WHERE entity_kind = ? AND entity_id = ?)
		ORDER BY start_time DESC LIMIT ?
	`, entityKind, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent meetings for entity: %w", err)
	}
	return collectMeetings(rows)
}

// FreezePrep writes the generated prep JSON and its timestamp in one
// statement; the write is the commit point the GUI's prep-ready event
// refers to.
func (s *Store) FreezePrep(meetingID, prepJSON string) error {
	res, err := s.db.Exec(`
		UPDATE meetings_history SET prep_frozen_json = ?, prep_frozen_at = ?, has_new_signals = 0
		WHERE id = ?
	`, prepJSON, time.Now().UTC().Format(time.RFC3339), meetingID)
	if err != nil {
		return fmt.Errorf("freeze prep: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkNewSignals flags that signals arrived after the meeting's prep was
// frozen, so the next prep pass regenerates unconditionally.
func (s *Store) MarkNewSignals(meetingID string) error {
	_, err := s.db.Exec(`UPDATE meetings_history SET has_new_signals = 1 WHERE id = ?`, meetingID)
	if err != nil {
		return fmt.Errorf("mark new signals: %w", err)
	}
	return nil
}

// SetIntelligenceState transitions a meeting's enrichment state and, when
// entering enriched, stamps last_enriched_at.
func (s *Store) SetIntelligenceState(meetingID, state string) error {
	var enrichedAt any
	if state == IntelEnriched {
		enrichedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		UPDATE meetings_history SET intelligence_state = ?, last_enriched_at = COALESCE(?, last_enriched_at)
		WHERE id = ?
	`, state, enrichedAt, meetingID)
	if err != nil {
		return fmt.Errorf("set intelligence state: %w", err)
	}
	return nil
}

// SetTranscriptPath records where a meeting's transcript landed on disk.
func (s *Store) SetTranscriptPath(meetingID, path string) error {
	_, err := s.db.Exec(`UPDATE meetings_history SET transcript_path = ? WHERE id = ?`, path, meetingID)
	if err != nil {
		return fmt.Errorf("set transcript path: %w", err)
	}
	return nil
}

// AddCapture records a post-meeting capture.
func (s *Store) AddCapture(c *Capture) (*Capture, error) {
	if c.ID == "" {
		c.ID = "cap-" + uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO captures (id, meeting_id, account_id, project_id, capture_type, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.MeetingID, nullStr(c.AccountID), nullStr(c.ProjectID), c.CaptureType, c.Content,
		c.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert capture: %w", err)
	}
	return c, nil
}

// RecentCaptures returns the newest captures for an account, capped at limit.
func (s *Store) RecentCaptures(accountID string, limit int) ([]*Capture, error) {
	rows, err := s.db.Query(`
		SELECT id, meeting_id, account_id, project_id, capture_type, content, created_at
		FROM captures WHERE account_id = ? ORDER BY created_at DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query captures: %w", err)
	}
	defer rows.Close()

	var out []*Capture
	for rows.Next() {
		c := &Capture{}
		var accountID, projectID sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.MeetingID, &accountID, &projectID, &c.CaptureType, &c.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		c.AccountID = accountID.String
		c.ProjectID = projectID.String
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordPostMeetingEmail persists a meeting/email correlation, idempotent
// on the (meeting, email signal) pair.
func (s *Store) RecordPostMeetingEmail(meetingID, emailSignalID, threadID string) (bool, error) {
	res, err := s.db.Exec(`
		INSERT INTO post_meeting_emails (id, meeting_id, email_signal_id, thread_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(meeting_id, email_signal_id) DO NOTHING
	`, "pme-"+uuid.NewString(), meetingID, emailSignalID, nullStr(threadID),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("record post-meeting email: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func collectMeetings(rows *sql.Rows) ([]*Meeting, error) {
	defer rows.Close()
	var out []*Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMeeting(row interface{ Scan(...any) error }) (*Meeting, error) {
	m := &Meeting{}
	var endTime, attendees, description, accountID sql.NullString
	var prepContext, prepFrozen, prepFrozenAt, transcriptPath, lastEnrichedAt sql.NullString
	var startTime string
	var hasNewSignals int
	if err := row.Scan(&m.ID, &m.Title, &m.MeetingType, &startTime, &endTime, &attendees,
		&description, &accountID, &prepContext, &prepFrozen, &prepFrozenAt, &transcriptPath,
		&m.IntelligenceState, &lastEnrichedAt, &hasNewSignals); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan meeting: %w", err)
	}
	m.StartTime = parseTime(startTime)
	m.EndTime = parseTime(endTime.String)
	m.Attendees = attendees.String
	m.Description = description.String
	m.AccountID = accountID.String
	m.PrepContextJSON = prepContext.String
	m.PrepFrozenJSON = prepFrozen.String
	m.PrepFrozenAt = parseTime(prepFrozenAt.String)
	m.TranscriptPath = transcriptPath.String
	m.LastEnrichedAt = parseTime(lastEnrichedAt.String)
	m.HasNewSignals = hasNewSignals != 0
	return m, nil
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
