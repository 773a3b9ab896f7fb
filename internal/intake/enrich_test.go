package intake

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jamesgiroux/dailyos-core/internal/actions"
	"github.com/jamesgiroux/dailyos-core/internal/aiadapter"
	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/resolver"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

type intakeFixture struct {
	db       *sql.DB
	store    *Store
	entities *entitystore.Store
	bus      *signalbus.Store
	meetings *meetings.Store
	resolver *resolver.Resolver
	actions  *actions.Store
}

func setupIntake(t *testing.T) *intakeFixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, nil)
	if err != nil {
		t.Fatalf("intake store: %v", err)
	}
	entities, err := entitystore.NewStore(db, nil)
	if err != nil {
		t.Fatalf("entity store: %v", err)
	}
	bus, err := signalbus.NewStore(db, nil)
	if err != nil {
		t.Fatalf("bus: %v", err)
	}
	ms, err := meetings.NewStore(db, nil)
	if err != nil {
		t.Fatalf("meetings: %v", err)
	}
	res, err := resolver.New(db, entities, bus, nil, []string{"ourco.com"}, nil)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	as, err := actions.NewStore(db, nil)
	if err != nil {
		t.Fatalf("actions: %v", err)
	}
	return &intakeFixture{db: db, store: store, entities: entities, bus: bus, meetings: ms, resolver: res, actions: as}
}

func stubAI(response string) aiadapter.Completer {
	return aiadapter.CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		return response, nil
	})
}

func TestEnrichPendingResolvesAndPersists(t *testing.T) {
	f := setupIntake(t)
	if _, err := f.entities.UpsertAccount(&entitystore.Account{ID: "acme", Name: "Acme", Domain: "acme.com"}); err != nil {
		t.Fatalf("account: %v", err)
	}
	if err := f.store.Record(&Email{
		ID: "e1", SenderEmail: "alice@acme.com", Subject: "Renewal question",
		Priority: PriorityHigh, ReceivedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	ai := stubAI(`Sure! {"contextual_summary": "Alice asks about renewal terms", "sentiment": "neutral", "urgency": "high"}`)
	enricher := NewEnricher(f.store, f.resolver, f.meetings, f.bus, ai, nil)

	n, err := enricher.EnrichPending(context.Background(), 10, nil)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if n != 1 {
		t.Fatalf("enriched = %d, want 1", n)
	}

	email, err := f.store.Get("e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if email.EnrichmentState != EnrichEnriched {
		t.Errorf("state = %s, want enriched", email.EnrichmentState)
	}
	if email.ContextualSummary != "Alice asks about renewal terms" || email.Urgency != "high" {
		t.Errorf("unexpected enrichment: %+v", email)
	}
	if email.EntityID != "acme" || email.EntityKind != "account" {
		t.Errorf("sender should resolve to acme, got %s/%s", email.EntityKind, email.EntityID)
	}

	// Cadence histogram bumped for the account.
	var count int
	if err := f.db.QueryRow(`SELECT message_count FROM entity_email_cadence WHERE entity_id = 'acme'`).Scan(&count); err != nil {
		t.Fatalf("cadence: %v", err)
	}
	if count != 1 {
		t.Errorf("cadence count = %d, want 1", count)
	}
}

func TestEnrichFailureIncrementsAttemptsThenFails(t *testing.T) {
	f := setupIntake(t)
	if err := f.store.Record(&Email{
		ID: "e1", SenderEmail: "x@nowhere.dev", Subject: "hi",
		Priority: PriorityMedium, ReceivedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	ai := stubAI("I could not produce the structure you wanted.")
	enricher := NewEnricher(f.store, f.resolver, f.meetings, f.bus, ai, nil)

	for i := 0; i < maxEnrichmentAttempts; i++ {
		if _, err := enricher.EnrichPending(context.Background(), 10, nil); err != nil {
			t.Fatalf("enrich: %v", err)
		}
	}
	email, _ := f.store.Get("e1")
	if email.EnrichmentState != EnrichFailed {
		t.Errorf("state = %s, want failed after %d attempts", email.EnrichmentState, maxEnrichmentAttempts)
	}
	if email.EnrichAttempts != maxEnrichmentAttempts {
		t.Errorf("attempts = %d, want %d", email.EnrichAttempts, maxEnrichmentAttempts)
	}
}

func TestExtractProposesDeterministicActions(t *testing.T) {
	f := setupIntake(t)
	email := &Email{
		ID: "e1", SenderEmail: "alice@acme.com", Subject: "Next steps",
		Priority: PriorityHigh, EntityKind: "account", EntityID: "acme",
	}

	ai := stubAI(`Here you go: [{"title": "Send the order form", "commitment_type": "commitment", "due_date": "2026-08-15"}, {"title": "Review pricing", "commitment_type": "request"}]`)
	extractor := NewActionExtractor(f.actions, ai, nil)

	n, err := extractor.Extract(context.Background(), email, "body text")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if n != 2 {
		t.Fatalf("proposed = %d, want 2", n)
	}

	// Rerun is idempotent: same deterministic IDs upsert, no duplicates.
	if _, err := extractor.Extract(context.Background(), email, "body text"); err != nil {
		t.Fatalf("re-extract: %v", err)
	}
	proposed, err := f.actions.List(actions.StatusProposed)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(proposed) != 2 {
		t.Fatalf("proposed actions = %d, want 2 (idempotent)", len(proposed))
	}

	// A user-completed action is never downgraded back to proposed.
	if err := f.actions.SetStatus("act-email-e1-0", actions.StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := extractor.Extract(context.Background(), email, "body text"); err != nil {
		t.Fatalf("re-extract: %v", err)
	}
	a, _ := f.actions.Get("act-email-e1-0")
	if a.Status != actions.StatusCompleted {
		t.Errorf("status = %s, completed action must not be downgraded", a.Status)
	}
}

func TestExtractSkipsNonHighPriority(t *testing.T) {
	f := setupIntake(t)
	extractor := NewActionExtractor(f.actions, stubAI("[]"), nil)
	n, err := extractor.Extract(context.Background(), &Email{ID: "e1", Priority: PriorityMedium}, "")
	if err != nil || n != 0 {
		t.Errorf("got (%d, %v), want (0, nil)", n, err)
	}
}

func TestCorrelatorLinksPostMeetingEmails(t *testing.T) {
	f := setupIntake(t)
	end := time.Now().UTC().Add(-3 * time.Hour)
	if err := f.meetings.Upsert(&meetings.Meeting{
		ID: "m1", Title: "Acme sync", MeetingType: "customer",
		StartTime: end.Add(-time.Hour), EndTime: end,
		Attendees: "alice@acme.com,me@ourco.com", AccountID: "acme",
	}); err != nil {
		t.Fatalf("meeting: %v", err)
	}
	if err := f.store.Record(&Email{
		ID: "e1", SenderEmail: "alice@acme.com", Subject: "Following up",
		Priority: PriorityHigh, ReceivedAt: end.Add(2 * time.Hour),
	}); err != nil {
		t.Fatalf("email: %v", err)
	}
	// An email from a non-attendee must not correlate.
	if err := f.store.Record(&Email{
		ID: "e2", SenderEmail: "stranger@elsewhere.com", Subject: "Hi",
		Priority: PriorityLow, ReceivedAt: end.Add(2 * time.Hour),
	}); err != nil {
		t.Fatalf("email: %v", err)
	}

	corr := NewCorrelator(f.store, f.meetings, busEmitter{f.bus}, nil)
	n, err := corr.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 1 {
		t.Fatalf("correlated = %d, want 1", n)
	}

	// Rerun records nothing new.
	n, err = corr.Run()
	if err != nil || n != 0 {
		t.Fatalf("rerun got (%d, %v), want (0, nil)", n, err)
	}

	active, err := f.bus.ListActive(signalbus.EntityAccount, "acme")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	found := false
	for _, sig := range active {
		if sig.SignalType == "post_meeting_followup" && sig.Confidence == followupConfidence {
			found = true
		}
	}
	if !found {
		t.Errorf("expected post_meeting_followup at %.2f, got %+v", followupConfidence, active)
	}
}

type busEmitter struct{ bus *signalbus.Store }

func (b busEmitter) Emit(kind signalbus.EntityKind, entityID, signalType string, source signalbus.Source, value string, confidence float64, halfLifeDays float64) (signalbus.Signal, error) {
	return b.bus.Emit(kind, entityID, signalType, source, value, confidence, halfLifeDays)
}
