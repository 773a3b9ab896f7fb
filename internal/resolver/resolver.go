// Package resolver turns raw inbound records — calendar events, emails —
// into (entity, confidence) resolutions by fusing the outputs of several
// independent signal producers. Corrections from the user feed
// back into per-source reliability via the signal bus's Beta posteriors.
package resolver

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/fusion"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

// Decision thresholds.
const (
	autoLinkThreshold   = 0.85
	flaggedThreshold    = 0.70
	unresolvedThreshold = 0.50
	ambiguityMargin     = 0.05
)

// OutcomeKind is the closed set of resolution results.
type OutcomeKind string

const (
	Resolved         OutcomeKind = "resolved"
	ResolvedWithFlag OutcomeKind = "resolved_with_flag"
	AmbiguousChoice  OutcomeKind = "ambiguous_choice"
	Unresolved       OutcomeKind = "unresolved"
)

// Candidate is one entity proposal with its fused confidence.
type Candidate struct {
	EntityKind signalbus.EntityKind `json:"entityKind"`
	EntityID   string               `json:"entityId"`
	Confidence float64              `json:"confidence"`
	Sources    []signalbus.Source   `json:"sources"`
}

// Outcome is the resolver's decision for one inbound record.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	Entity     *Candidate  `json:"entity,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// MeetingEvent is the raw calendar record the resolver consumes. The
// protocol adapter that fetched it is out of scope; only this shape is
// contractual.
type MeetingEvent struct {
	ID          string
	Title       string
	Description string
	Attendees   []string // email addresses
	StartTime   time.Time
}

// Embedder generates text embeddings for the similarity producer. Nil
// disables that producer; resolution degrades to the other five.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// proposal is one producer's raw output before fusion.
type proposal struct {
	kind       signalbus.EntityKind
	entityID   string
	confidence float64
	source     signalbus.Source
}

// Resolver fuses producer proposals into resolution outcomes.
type Resolver struct {
	db          *sql.DB
	entities    *entitystore.Store
	bus         *signalbus.Store
	embedder    Embedder
	userDomains []string
	logger      *slog.Logger
}

// New creates a resolver. userDomains are the user's own email domains;
// attendees on them never vote for an account. The attendee group pattern
// table is migrated here since the resolver owns it.
func New(db *sql.DB, entities *entitystore.Store, bus *signalbus.Store, embedder Embedder, userDomains []string, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		db:          db,
		entities:    entities,
		bus:         bus,
		embedder:    embedder,
		userDomains: normalizeDomains(userDomains),
		logger:      logger,
	}
	if err := r.migrate(); err != nil {
		return nil, fmt.Errorf("migrate resolver: %w", err)
	}
	return r, nil
}

func (r *Resolver) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS attendee_group_patterns (
			group_hash TEXT PRIMARY KEY,
			attendee_emails TEXT NOT NULL,
			entity_kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			occurrence_count INTEGER NOT NULL DEFAULT 1,
			last_seen_at TEXT NOT NULL,
			confidence REAL NOT NULL
		);

		CREATE TABLE IF NOT EXISTS entity_resolution_feedback (
			id TEXT PRIMARY KEY,
			meeting_id TEXT NOT NULL,
			old_entity_kind TEXT,
			old_entity_id TEXT,
			new_entity_kind TEXT,
			new_entity_id TEXT,
			signal_source TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_resolution_feedback_meeting
			ON entity_resolution_feedback(meeting_id);
	`)
	return err
}

// ResolveMeeting runs all producers against a calendar event, fuses per
// candidate, applies the decision policy, and — on a confident result —
// auto-links the meeting and records resolution signals.
func (r *Resolver) ResolveMeeting(event MeetingEvent) (Outcome, error) {
	proposals := r.gatherProposals(event)
	if len(proposals) == 0 {
		return Outcome{Kind: Unresolved, Reason: "no producer proposed a candidate"}, nil
	}

	candidates := r.fuseCandidates(proposals)
	outcome := decide(candidates)

	// Record a resolution signal per proposal at the candidate's fused
	// confidence; the value JSON names the producing source so
	// corrections can locate the offending source later.
	fusedFor := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		fusedFor[string(c.EntityKind)+"/"+c.EntityID] = c.Confidence
	}
	for _, p := range proposals {
		value, _ := json.Marshal(map[string]string{
			"event_id": event.ID,
			"source":   string(p.source),
			"outcome":  string(outcome.Kind),
		})
		conf := fusedFor[string(p.kind)+"/"+p.entityID]
		if _, err := r.bus.Emit(p.kind, p.entityID, "entity_resolution", p.source, string(value), conf, 0); err != nil {
			r.logger.Warn("resolution signal emit failed", "entity_id", p.entityID, "error", err)
		}
	}

	if outcome.Entity != nil && (outcome.Kind == Resolved || outcome.Kind == ResolvedWithFlag) {
		if err := r.autoLink(event, *outcome.Entity); err != nil {
			r.logger.Warn("auto-link failed", "meeting_id", event.ID, "error", err)
		}
	}
	return outcome, nil
}

// ResolveEmailSender maps an email sender address to an entity: person
// alias first, then domain → account.
func (r *Resolver) ResolveEmailSender(sender string) (signalbus.EntityKind, string, bool) {
	sender = strings.ToLower(strings.TrimSpace(sender))
	if p, err := r.entities.FindPersonByAlias(sender); err == nil && p != nil {
		return signalbus.EntityPerson, p.ID, true
	}
	domain := emailDomain(sender)
	if domain == "" || r.isUserDomain(domain) {
		return "", "", false
	}
	accounts, err := r.entities.LookupAccountsByAnyDomain(domain)
	if err != nil || len(accounts) == 0 {
		return "", "", false
	}
	return signalbus.EntityAccount, accounts[0].ID, true
}

// fuseCandidates groups proposals by entity and fuses each group with
// per-event weights: source base weight × learned reliability (decay is
// unity — proposals are born now).
func (r *Resolver) fuseCandidates(proposals []proposal) []Candidate {
	type key struct {
		kind signalbus.EntityKind
		id   string
	}
	groups := make(map[key][]proposal)
	for _, p := range proposals {
		k := key{p.kind, p.entityID}
		groups[k] = append(groups[k], p)
	}

	var out []Candidate
	for k, group := range groups {
		var weighted []fusion.WeightedSignal
		var sources []signalbus.Source
		for _, p := range group {
			reliability, err := r.bus.GetLearnedReliability(p.source, p.kind, "entity_resolution")
			if err != nil {
				reliability = 0.5
			}
			// The Beta prior mean 0.5 is neutral: it must neither boost
			// nor halve a source the user has never corrected, so the
			// weight multiplies by reliability normalized to that prior.
			factor := reliability / 0.5
			if factor < 0.02 {
				factor = 0.02
			} else if factor > 2 {
				factor = 2
			}
			weighted = append(weighted, fusion.WeightedSignal{
				Confidence: p.confidence,
				Weight:     signalbus.BaseWeight(p.source) * factor,
			})
			sources = append(sources, p.source)
		}
		out = append(out, Candidate{
			EntityKind: k.kind,
			EntityID:   k.id,
			Confidence: fusion.Fuse(weighted),
			Sources:    sources,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

// decide applies the threshold policy to ranked candidates.
func decide(candidates []Candidate) Outcome {
	if len(candidates) == 0 {
		return Outcome{Kind: Unresolved}
	}
	best := candidates[0]
	if best.Confidence < unresolvedThreshold {
		return Outcome{Kind: Unresolved, Candidates: candidates}
	}

	margin := best.Confidence
	if len(candidates) > 1 {
		margin = best.Confidence - candidates[1].Confidence
	}
	if len(candidates) > 1 && margin <= ambiguityMargin {
		return Outcome{Kind: AmbiguousChoice, Candidates: candidates}
	}

	switch {
	case best.Confidence >= autoLinkThreshold:
		return Outcome{Kind: Resolved, Entity: &best, Candidates: candidates}
	case best.Confidence >= flaggedThreshold:
		return Outcome{Kind: ResolvedWithFlag, Entity: &best, Reason: "medium-confidence", Candidates: candidates}
	default:
		// Above the unresolved floor but below the flag bar: surface the
		// choice rather than guessing.
		return Outcome{Kind: AmbiguousChoice, Candidates: candidates}
	}
}

// autoLink writes the meeting_entity row (idempotent), bumps last
// contact, and reinforces the attendee group pattern for this meeting.
func (r *Resolver) autoLink(event MeetingEvent, winner Candidate) error {
	if err := r.entities.LinkMeeting(event.ID, entitystore.EntityKind(winner.EntityKind), winner.EntityID); err != nil {
		return err
	}
	if err := r.entities.TouchLastContact(entitystore.EntityKind(winner.EntityKind), winner.EntityID, event.StartTime); err != nil {
		r.logger.Warn("touch last contact failed", "entity_id", winner.EntityID, "error", err)
	}
	if len(cleanEmails(event.Attendees)) >= 2 {
		if err := r.UpsertGroupPattern(event.Attendees, winner.EntityKind, winner.EntityID); err != nil {
			r.logger.Warn("group pattern upsert failed", "meeting_id", event.ID, "error", err)
		}
	}
	r.logger.Info("meeting auto-linked",
		"meeting_id", event.ID, "entity_kind", winner.EntityKind,
		"entity_id", winner.EntityID, "confidence", winner.Confidence)
	return nil
}

func (r *Resolver) isUserDomain(domain string) bool {
	for _, d := range r.userDomains {
		if d == domain {
			return true
		}
	}
	return false
}

func normalizeDomains(domains []string) []string {
	var out []string
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// cleanEmails lowercases, trims, and filters attendee strings to ones
// that look like email addresses.
func cleanEmails(attendees []string) []string {
	var out []string
	for _, a := range attendees {
		e := strings.ToLower(strings.TrimSpace(a))
		if strings.Contains(e, "@") {
			out = append(out, e)
		}
	}
	return out
}
