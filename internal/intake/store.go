package intake

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Enrichment states an email moves through.
const (
	EnrichPending  = "pending"
	EnrichEnriched = "enriched"
	EnrichFailed   = "failed"
)

// maxEnrichmentAttempts bounds retries before an email is marked failed.
const maxEnrichmentAttempts = 3

// Email is one triaged inbound email's durable record. Only headers and
// derived fields persist; the body never does.
type Email struct {
	ID                string    `json:"id"`
	ThreadID          string    `json:"thread_id,omitempty"`
	SenderEmail       string    `json:"sender_email"`
	SenderName        string    `json:"sender_name,omitempty"`
	Subject           string    `json:"subject"`
	Snippet           string    `json:"snippet,omitempty"`
	Priority          string    `json:"priority"`
	EntityKind        string    `json:"entity_kind,omitempty"`
	EntityID          string    `json:"entity_id,omitempty"`
	EnrichmentState   string    `json:"enrichment_state"`
	EnrichAttempts    int       `json:"enrich_attempts"`
	ContextualSummary string    `json:"contextual_summary,omitempty"`
	Sentiment         string    `json:"sentiment,omitempty"`
	Urgency           string    `json:"urgency,omitempty"`
	RelevanceScore    float64   `json:"relevance_score,omitempty"`
	ScoreReason       string    `json:"score_reason,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// Store persists triaged emails and the per-entity cadence histograms.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates the intake store on an existing database connection.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate intake: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS emails (
			id TEXT PRIMARY KEY,
			thread_id TEXT,
			sender_email TEXT NOT NULL,
			sender_name TEXT,
			subject TEXT,
			snippet TEXT,
			priority TEXT NOT NULL,
			entity_kind TEXT,
			entity_id TEXT,
			enrichment_state TEXT NOT NULL DEFAULT 'pending',
			enrich_attempts INTEGER NOT NULL DEFAULT 0,
			contextual_summary TEXT,
			sentiment TEXT,
			urgency TEXT,
			relevance_score REAL,
			score_reason TEXT,
			received_at TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_emails_state ON emails(enrichment_state);
		CREATE INDEX IF NOT EXISTS idx_emails_entity ON emails(entity_kind, entity_id);
		CREATE INDEX IF NOT EXISTS idx_emails_received ON emails(received_at);

		CREATE TABLE IF NOT EXISTS entity_email_cadence (
			entity_kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			period TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			rolling_avg REAL NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (entity_kind, entity_id, period)
		);
	`)
	return err
}

// Record inserts a newly classified email, idempotent on the upstream ID.
func (s *Store) Record(e *Email) error {
	if e.EnrichmentState == "" {
		e.EnrichmentState = EnrichPending
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	_, err := s.db.Exec(`
		INSERT INTO emails (id, thread_id, sender_email, sender_name, subject, snippet, priority, entity_kind, entity_id, enrichment_state, received_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, e.ID, nullStr(e.ThreadID), e.SenderEmail, nullStr(e.SenderName), nullStr(e.Subject),
		nullStr(e.Snippet), e.Priority, nullStr(e.EntityKind), nullStr(e.EntityID),
		e.EnrichmentState, nullTime(e.ReceivedAt), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record email: %w", err)
	}
	return nil
}

// PendingEnrichment returns emails awaiting enrichment with attempts
// remaining, oldest first, capped at limit.
func (s *Store) PendingEnrichment(limit int) ([]*Email, error) {
	rows, err := s.db.Query(emailSelect+`
		WHERE enrichment_state = 'pending' AND enrich_attempts < ?
		ORDER BY received_at ASC LIMIT ?
	`, maxEnrichmentAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending emails: %w", err)
	}
	return collectEmails(rows)
}

const emailSelect = `
	SELECT id, thread_id, sender_email, sender_name, subject, snippet, priority,
	       entity_kind, entity_id, enrichment_state, enrich_attempts,
	       contextual_summary, sentiment, urgency, relevance_score, score_reason,
	       received_at, created_at
	FROM emails`

// Get retrieves one email by ID.
func (s *Store) Get(id string) (*Email, error) {
	rows, err := s.db.Query(emailSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query email: %w", err)
	}
	list, err := collectEmails(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, sql.ErrNoRows
	}
	return list[0], nil
}

// ListRecent returns emails received after the cutoff, newest first.
func (s *Store) ListRecent(since time.Time, limit int) ([]*Email, error) {
	rows, err := s.db.Query(emailSelect+`
		WHERE received_at >= ? ORDER BY received_at DESC LIMIT ?
	`, since.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent emails: %w", err)
	}
	return collectEmails(rows)
}

// SaveEnrichment persists a successful enrichment result.
func (s *Store) SaveEnrichment(id, summary, sentiment, urgency string, entityKind, entityID string) error {
	_, err := s.db.Exec(`
		UPDATE emails SET
			enrichment_state = 'enriched',
			enrich_attempts = enrich_attempts + 1,
			contextual_summary = ?, sentiment = ?, urgency = ?,
			entity_kind = COALESCE(?, entity_kind), entity_id = COALESCE(?, entity_id)
		WHERE id = ?
	`, summary, sentiment, urgency, nullStr(entityKind), nullStr(entityID), id)
	if err != nil {
		return fmt.Errorf("save enrichment: %w", err)
	}
	return nil
}

// MarkEnrichmentFailure bumps the attempt counter; past the retry bound
// the state transitions to failed.
func (s *Store) MarkEnrichmentFailure(id string) error {
	_, err := s.db.Exec(`
		UPDATE emails SET
			enrich_attempts = enrich_attempts + 1,
			enrichment_state = CASE WHEN enrich_attempts + 1 >= ? THEN 'failed' ELSE 'pending' END
		WHERE id = ?
	`, maxEnrichmentAttempts, id)
	if err != nil {
		return fmt.Errorf("mark enrichment failure: %w", err)
	}
	return nil
}

// SaveScore persists a relevance score and its reason.
func (s *Store) SaveScore(id string, score float64, reason string) error {
	_, err := s.db.Exec(`UPDATE emails SET relevance_score = ?, score_reason = ? WHERE id = ?`,
		score, reason, id)
	if err != nil {
		return fmt.Errorf("save score: %w", err)
	}
	return nil
}

// EmailsBetween returns emails received inside [from, to), used by the
// post-meeting correlation pass.
func (s *Store) EmailsBetween(from, to time.Time) ([]*Email, error) {
	rows, err := s.db.Query(emailSelect+`
		WHERE received_at >= ? AND received_at < ? ORDER BY received_at ASC
	`, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query emails between: %w", err)
	}
	return collectEmails(rows)
}

// BumpCadence increments the weekly histogram for an entity and refreshes
// the rolling average over the trailing eight periods.
func (s *Store) BumpCadence(entityKind, entityID string, receivedAt time.Time) error {
	year, week := receivedAt.UTC().ISOWeek()
	period := fmt.Sprintf("%d-W%02d", year, week)
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin cadence tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`
		INSERT INTO entity_email_cadence (entity_kind, entity_id, period, message_count, rolling_avg, updated_at)
		VALUES (?, ?, ?, 1, 1, ?)
		ON CONFLICT(entity_kind, entity_id, period) DO UPDATE SET
			message_count = message_count + 1,
			updated_at = excluded.updated_at
	`, entityKind, entityID, period, now); err != nil {
		return fmt.Errorf("bump cadence: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE entity_email_cadence SET rolling_avg = (
			SELECT AVG(message_count) FROM (
				SELECT message_count FROM entity_email_cadence
				WHERE entity_kind = ? AND entity_id = ?
				ORDER BY period DESC LIMIT 8
			)
		)
		WHERE entity_kind = ? AND entity_id = ? AND period = ?
	`, entityKind, entityID, entityKind, entityID, period); err != nil {
		return fmt.Errorf("update rolling average: %w", err)
	}
	return tx.Commit()
}

func collectEmails(rows *sql.Rows) ([]*Email, error) {
	defer rows.Close()
	var out []*Email
	for rows.Next() {
		e := &Email{}
		var threadID, senderName, subject, snippet, entityKind, entityID sql.NullString
		var summary, sentiment, urgency, scoreReason, receivedAt sql.NullString
		var score sql.NullFloat64
		var createdAt string
		if err := rows.Scan(&e.ID, &threadID, &e.SenderEmail, &senderName, &subject, &snippet,
			&e.Priority, &entityKind, &entityID, &e.EnrichmentState, &e.EnrichAttempts,
			&summary, &sentiment, &urgency, &score, &scoreReason, &receivedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		e.ThreadID = threadID.String
		e.SenderName = senderName.String
		e.Subject = subject.String
		e.Snippet = snippet.String
		e.EntityKind = entityKind.String
		e.EntityID = entityID.String
		e.ContextualSummary = summary.String
		e.Sentiment = sentiment.String
		e.Urgency = urgency.String
		e.RelevanceScore = score.Float64
		e.ScoreReason = scoreReason.String
		e.ReceivedAt = parseTime(receivedAt.String)
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
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
