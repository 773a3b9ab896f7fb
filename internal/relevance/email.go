package relevance

import (
	"strings"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

// noiseSenders are sender-address fragments that mark automated mail.
var noiseSenders = []string{
	"noreply", "no-reply", "donotreply", "do-not-reply", "comment-reply",
	"notifications@", "mailer-daemon", "drive-shares", "calendar-notification", "notify@",
}

// noiseSubjectPrefixes mark calendar notifications, not conversations.
var noiseSubjectPrefixes = []string{
	"Accepted:", "Declined:", "Tentatively accepted:",
	"Updated invitation:", "Canceled event:", "Invitation:",
}

// EmailItem is the scorer-facing view of an enriched email.
type EmailItem struct {
	SenderEmail string
	Subject     string
	Summary     string // contextual summary when enriched, else snippet
	Urgency     string
	Sentiment   string
	EntityKind  signalbus.EntityKind
	EntityID    string
	ReceivedAt  time.Time
}

// ScoreEmail applies the two domain short-circuits — automated senders
// and calendar-notification subjects return at most 0.05 with a fixed
// reason — then defers to the composite scorer.
func (s *Scorer) ScoreEmail(email EmailItem, meetingContext string) Scored {
	sender := strings.ToLower(email.SenderEmail)
	for _, pat := range noiseSenders {
		if strings.Contains(sender, pat) {
			return Scored{Total: 0.01, Reason: "automated sender"}
		}
	}
	for _, prefix := range noiseSubjectPrefixes {
		if strings.HasPrefix(email.Subject, prefix) {
			return Scored{Total: 0.02, Reason: "calendar notification"}
		}
	}

	content := email.Summary
	if content == "" {
		content = email.Subject
	}
	return s.Score(Item{
		EntityKind:  email.EntityKind,
		EntityID:    email.EntityID,
		ContentText: email.Subject + " " + content,
		Urgency:     email.Urgency,
		Sentiment:   email.Sentiment,
		CreatedAt:   email.ReceivedAt,
	}, meetingContext)
}
