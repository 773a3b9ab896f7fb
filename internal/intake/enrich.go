package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jamesgiroux/dailyos-core/internal/aiadapter"
	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/resolver"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

// enrichmentResult is the JSON object the AI must answer with.
type enrichmentResult struct {
	ContextualSummary string `json:"contextual_summary"`
	Sentiment         string `json:"sentiment"`
	Urgency           string `json:"urgency"`
}

var validSentiments = map[string]bool{"positive": true, "neutral": true, "negative": true, "mixed": true}
var validUrgencies = map[string]bool{"high": true, "medium": true, "low": true}

// Enricher runs the AI-assisted enrichment pass over pending emails.
// All DB reads happen before the AI call and all writes after it; the
// store is never held across Complete.
type Enricher struct {
	store    *Store
	resolver *resolver.Resolver
	meetings *meetings.Store
	bus      *signalbus.Store
	ai       aiadapter.Completer
	logger   *slog.Logger
}

// NewEnricher wires the enrichment pass. ai should already carry the
// deadline wrapper.
func NewEnricher(store *Store, res *resolver.Resolver, ms *meetings.Store, bus *signalbus.Store, ai aiadapter.Completer, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{store: store, resolver: res, meetings: ms, bus: bus, ai: ai, logger: logger}
}

// EnrichPending processes up to limit pending emails, returning how many
// enriched successfully. bodyFor supplies the transient message body for
// an email ID (empty is tolerated — the snippet carries the gist).
func (e *Enricher) EnrichPending(ctx context.Context, limit int, bodyFor func(id string) string) (int, error) {
	pending, err := e.store.PendingEnrichment(limit)
	if err != nil {
		return 0, err
	}

	enriched := 0
	for _, email := range pending {
		if ctx.Err() != nil {
			return enriched, ctx.Err()
		}
		if err := e.enrichOne(ctx, email, bodyFor); err != nil {
			e.logger.Warn("email enrichment failed", "email_id", email.ID, "error", err)
			if err := e.store.MarkEnrichmentFailure(email.ID); err != nil {
				e.logger.Warn("failure mark failed", "email_id", email.ID, "error", err)
			}
			continue
		}
		enriched++
	}
	return enriched, nil
}

func (e *Enricher) enrichOne(ctx context.Context, email *Email, bodyFor func(id string) string) error {
	// Step 1: resolve the sender to an entity.
	entityKind, entityID, resolved := e.resolver.ResolveEmailSender(email.SenderEmail)

	// Step 2: gather relationship context (bounded reads, then release).
	var contextBlock string
	if resolved {
		contextBlock = e.relationshipContext(entityKind, entityID)
	}

	body := ""
	if bodyFor != nil {
		body = bodyFor(email.ID)
	}

	// Step 3: one structured prompt, one call, 60s deadline inside ai.
	prompt := buildEnrichmentPrompt(email, body, contextBlock)
	raw, err := e.ai.Complete(ctx, prompt)
	if err != nil {
		return fmt.Errorf("ai complete: %w", err)
	}

	// Step 4: parse, tolerating surrounding text.
	jsonText, ok := aiadapter.ExtractJSON(raw)
	if !ok {
		return fmt.Errorf("no JSON object in completion")
	}
	var result enrichmentResult
	if err := json.Unmarshal([]byte(jsonText), &result); err != nil {
		return fmt.Errorf("parse enrichment JSON: %w", err)
	}
	if !validSentiments[result.Sentiment] {
		result.Sentiment = "neutral"
	}
	if !validUrgencies[result.Urgency] {
		result.Urgency = "medium"
	}

	// Step 5: persist result and state.
	ek, eid := "", ""
	if resolved {
		ek, eid = string(entityKind), entityID
	}
	if err := e.store.SaveEnrichment(email.ID, result.ContextualSummary, result.Sentiment, result.Urgency, ek, eid); err != nil {
		return err
	}

	if resolved {
		if err := e.store.BumpCadence(ek, eid, email.ReceivedAt); err != nil {
			e.logger.Warn("cadence bump failed", "email_id", email.ID, "error", err)
		}
		value, _ := json.Marshal(map[string]string{
			"email_id":  email.ID,
			"sentiment": result.Sentiment,
			"urgency":   result.Urgency,
		})
		if _, err := e.bus.Emit(entityKind, entityID, "email_enriched", signalbus.SourceEmailEnrichment, string(value), 0.7, 0); err != nil {
			e.logger.Warn("enrichment signal emit failed", "email_id", email.ID, "error", err)
		}
	}
	return nil
}

// relationshipContext assembles the entity's intelligence context: up to
// five recent meetings and ten active signals.
func (e *Enricher) relationshipContext(kind signalbus.EntityKind, entityID string) string {
	var b strings.Builder

	if recent, err := e.meetings.RecentForEntity(string(kind), entityID, 5); err == nil && len(recent) > 0 {
		b.WriteString("Recent meetings:\n")
		for _, m := range recent {
			fmt.Fprintf(&b, "- %s (%s)\n", m.Title, m.StartTime.Format("2006-01-02"))
		}
	}

	if sigs, err := e.bus.ListActive(kind, entityID); err == nil && len(sigs) > 0 {
		b.WriteString("Active signals:\n")
		count := 0
		for _, sig := range sigs {
			if count >= 10 {
				break
			}
			fmt.Fprintf(&b, "- %s (%.2f, via %s)\n", sig.SignalType, sig.Confidence, sig.Source)
			count++
		}
	}
	return b.String()
}

func buildEnrichmentPrompt(email *Email, body, contextBlock string) string {
	var b strings.Builder
	b.WriteString("Summarize this email in the context of the relationship below.\n")
	b.WriteString("Answer with a single JSON object: {\"contextual_summary\": string, ")
	b.WriteString("\"sentiment\": \"positive\"|\"neutral\"|\"negative\"|\"mixed\", ")
	b.WriteString("\"urgency\": \"high\"|\"medium\"|\"low\"}.\n\n")
	fmt.Fprintf(&b, "From: %s\nSubject: %s\n", email.SenderEmail, email.Subject)
	if body != "" {
		fmt.Fprintf(&b, "Body:\n%s\n", body)
	} else if email.Snippet != "" {
		fmt.Fprintf(&b, "Snippet: %s\n", email.Snippet)
	}
	if contextBlock != "" {
		b.WriteString("\nRelationship context:\n")
		b.WriteString(contextBlock)
	}
	return b.String()
}
