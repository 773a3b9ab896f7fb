package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/actions"
	"github.com/jamesgiroux/dailyos-core/internal/aiadapter"
)

// extractedCommitment is one element of the JSON array the AI answers
// the action-extraction prompt with.
type extractedCommitment struct {
	Title          string `json:"title"`
	CommitmentType string `json:"commitment_type"`
	DueDate        string `json:"due_date,omitempty"`
	Owner          string `json:"owner,omitempty"`
}

var validCommitmentTypes = map[string]bool{"commitment": true, "request": true, "deadline": true}

// ActionExtractor runs the commitment-extraction pass over high-priority
// emails. Proposed actions get deterministic IDs derived
// from the email ID and element index so reruns upsert instead of
// duplicating, and a user-completed action is never downgraded.
type ActionExtractor struct {
	actions *actions.Store
	ai      aiadapter.Completer
	logger  *slog.Logger
}

// NewActionExtractor wires the extraction pass.
func NewActionExtractor(as *actions.Store, ai aiadapter.Completer, logger *slog.Logger) *ActionExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionExtractor{actions: as, ai: ai, logger: logger}
}

// Extract proposes actions from one high-priority email. The body is
// read transiently and never persisted. Returns how many proposals were
// upserted.
func (x *ActionExtractor) Extract(ctx context.Context, email *Email, body string) (int, error) {
	if email.Priority != PriorityHigh {
		return 0, nil
	}

	prompt := buildExtractionPrompt(email, body)
	raw, err := x.ai.Complete(ctx, prompt)
	if err != nil {
		return 0, fmt.Errorf("ai complete: %w", err)
	}
	jsonText, ok := aiadapter.ExtractJSONArray(raw)
	if !ok {
		return 0, fmt.Errorf("no JSON array in completion")
	}
	var commitments []extractedCommitment
	if err := json.Unmarshal([]byte(jsonText), &commitments); err != nil {
		return 0, fmt.Errorf("parse commitments: %w", err)
	}

	upserted := 0
	for i, c := range commitments {
		if c.Title == "" {
			continue
		}
		if !validCommitmentTypes[c.CommitmentType] {
			c.CommitmentType = "commitment"
		}
		var due time.Time
		if c.DueDate != "" {
			if t, err := time.Parse("2006-01-02", c.DueDate); err == nil {
				due = t
			}
		}
		a := &actions.Action{
			ID:             fmt.Sprintf("act-email-%s-%d", email.ID, i),
			Title:          c.Title,
			CommitmentType: c.CommitmentType,
			Owner:          c.Owner,
			DueDate:        due,
			SourceEmailID:  email.ID,
			EntityKind:     email.EntityKind,
			EntityID:       email.EntityID,
		}
		if err := x.actions.UpsertProposed(a); err != nil {
			x.logger.Warn("proposed action upsert failed", "email_id", email.ID, "index", i, "error", err)
			continue
		}
		upserted++
	}
	return upserted, nil
}

func buildExtractionPrompt(email *Email, body string) string {
	content := body
	if content == "" {
		content = email.Snippet
	}
	return fmt.Sprintf(
		"Extract commitments from this email. Answer with a JSON array of objects "+
			"{\"title\": string, \"commitment_type\": \"commitment\"|\"request\"|\"deadline\", "+
			"\"due_date\": \"YYYY-MM-DD\" (optional), \"owner\": string (optional)}. "+
			"Answer [] if there are none.\n\nFrom: %s\nSubject: %s\n\n%s",
		email.SenderEmail, email.Subject, content)
}
