package intake

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

// followupConfidence is the fixed confidence of post_meeting_followup
// signals.
const followupConfidence = 0.70

// Emitter records a signal and runs propagation on it.
type Emitter interface {
	Emit(kind signalbus.EntityKind, entityID, signalType string, source signalbus.Source, value string, confidence float64, halfLifeDays float64) (signalbus.Signal, error)
}

// Correlator links post-meeting emails back to the meetings they follow
// up on. Runs nightly.
type Correlator struct {
	store    *Store
	meetings *meetings.Store
	emitter  Emitter
	logger   *slog.Logger
}

// NewCorrelator wires the correlation pass.
func NewCorrelator(store *Store, ms *meetings.Store, emitter Emitter, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{store: store, meetings: ms, emitter: emitter, logger: logger}
}

// Run scans meetings that ended 1-48h ago and finds emails from their
// attendees received within 24h of the end. Each new correlation gets a
// post_meeting_emails row and a post_meeting_followup signal on the
// account (or the meeting itself when no account is linked). Returns how
// many new correlations were recorded.
func (c *Correlator) Run() (int, error) {
	ended, err := c.meetings.RecentlyEnded(48)
	if err != nil {
		return 0, err
	}

	correlated := 0
	for _, m := range ended {
		attendees := make(map[string]bool)
		for _, a := range m.AttendeeEmails() {
			attendees[a] = true
		}
		if len(attendees) == 0 {
			continue
		}

		emails, err := c.store.EmailsBetween(m.EndTime, m.EndTime.Add(24*time.Hour))
		if err != nil {
			c.logger.Warn("post-meeting email query failed", "meeting_id", m.ID, "error", err)
			continue
		}

		for _, email := range emails {
			if !attendees[email.SenderEmail] {
				continue
			}
			inserted, err := c.meetings.RecordPostMeetingEmail(m.ID, email.ID, email.ThreadID)
			if err != nil {
				c.logger.Warn("correlation record failed", "meeting_id", m.ID, "email_id", email.ID, "error", err)
				continue
			}
			if !inserted {
				continue
			}
			correlated++

			value, _ := json.Marshal(map[string]string{
				"meeting_id":    m.ID,
				"meeting_title": m.Title,
				"email_id":      email.ID,
				"sender_email":  email.SenderEmail,
			})
			kind, id := signalbus.EntityKind("meeting"), m.ID
			if m.AccountID != "" {
				kind, id = signalbus.EntityAccount, m.AccountID
			}
			if _, err := c.emitter.Emit(kind, id, "post_meeting_followup", signalbus.SourcePostMeetingEmail, string(value), followupConfidence, 0); err != nil {
				c.logger.Warn("followup signal emit failed", "meeting_id", m.ID, "error", err)
			}
		}
	}
	return correlated, nil
}
