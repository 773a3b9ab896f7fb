package resolver

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

type fixture struct {
	db       *sql.DB
	entities *entitystore.Store
	bus      *signalbus.Store
	resolver *Resolver
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	entities, err := entitystore.NewStore(db, nil)
	if err != nil {
		t.Fatalf("entity store: %v", err)
	}
	bus, err := signalbus.NewStore(db, nil)
	if err != nil {
		t.Fatalf("signal bus: %v", err)
	}
	// Meetings schema is needed for MinePatterns queries.
	if _, err := meetings.NewStore(db, nil); err != nil {
		t.Fatalf("meetings store: %v", err)
	}
	r, err := New(db, entities, bus, nil, []string{"ourco.com"}, nil)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	return &fixture{db: db, entities: entities, bus: bus, resolver: r}
}

func mustAccount(t *testing.T, f *fixture, id, name, domain string) {
	t.Helper()
	if _, err := f.entities.UpsertAccount(&entitystore.Account{ID: id, Name: name, Domain: domain}); err != nil {
		t.Fatalf("upsert account: %v", err)
	}
}

func TestResolveMeetingByAttendeeDomainAndKeyword(t *testing.T) {
	f := setup(t)
	mustAccount(t, f, "acme", "Acme", "acme.com")

	outcome, err := f.resolver.ResolveMeeting(MeetingEvent{
		ID:        "evt-1",
		Title:     "Acme QBR",
		Attendees: []string{"alice@acme.com", "bob@ourco.com"},
		StartTime: time.Now().Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.Kind != Resolved {
		t.Fatalf("outcome = %s (%+v), want resolved", outcome.Kind, outcome)
	}
	if outcome.Entity.EntityID != "acme" {
		t.Errorf("entity = %s, want acme", outcome.Entity.EntityID)
	}
	if outcome.Entity.Confidence < autoLinkThreshold {
		t.Errorf("confidence = %f, want >= %f", outcome.Entity.Confidence, autoLinkThreshold)
	}

	// Auto-link persisted.
	refs, err := f.entities.MeetingEntities("evt-1")
	if err != nil {
		t.Fatalf("meeting entities: %v", err)
	}
	if len(refs) != 1 || refs[0].ID != "acme" {
		t.Fatalf("expected meeting linked to acme, got %+v", refs)
	}

	// A resolution signal at >= 0.85 fused confidence exists on acme.
	sigs, err := f.bus.ResolutionSignalsForMeeting("evt-1")
	if err != nil {
		t.Fatalf("resolution signals: %v", err)
	}
	if len(sigs) == 0 {
		t.Fatal("expected resolution signals recorded")
	}
	for _, sig := range sigs {
		if sig.EntityID != "acme" {
			t.Errorf("unexpected resolution signal on %s", sig.EntityID)
		}
	}
}

func TestResolveMeetingUnresolvedWithoutEvidence(t *testing.T) {
	f := setup(t)
	mustAccount(t, f, "acme", "Acme", "acme.com")

	outcome, err := f.resolver.ResolveMeeting(MeetingEvent{
		ID:        "evt-2",
		Title:     "Lunch",
		Attendees: []string{"carol@ourco.com"},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.Kind != Unresolved {
		t.Fatalf("outcome = %s, want unresolved", outcome.Kind)
	}
}

func TestResolveMeetingAmbiguousOnCloseCandidates(t *testing.T) {
	f := setup(t)
	mustAccount(t, f, "acme-east", "Acme East", "acme-east.com")
	mustAccount(t, f, "acme-west", "Acme West", "acme-west.com")

	outcome, err := f.resolver.ResolveMeeting(MeetingEvent{
		ID:        "evt-3",
		Title:     "Quarterly check-in",
		Attendees: []string{"a@acme-east.com", "b@acme-west.com", "me@ourco.com"},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.Kind != AmbiguousChoice {
		t.Fatalf("outcome = %s (%+v), want ambiguous_choice", outcome.Kind, outcome)
	}
	if len(outcome.Candidates) != 2 {
		t.Errorf("expected 2 candidates, got %d", len(outcome.Candidates))
	}
}

func TestGroupHashOrderAndCaseIndependent(t *testing.T) {
	a := GroupHash([]string{"Bob@Acme.com", "alice@acme.com"})
	b := GroupHash([]string{"ALICE@ACME.COM", "bob@acme.com"})
	if a != b {
		t.Error("hash should be order- and case-independent")
	}
	c := GroupHash([]string{"alice@acme.com", "alice@acme.com", "bob@acme.com"})
	if a != c {
		t.Error("hash should deduplicate")
	}
	d := GroupHash([]string{"alice@acme.com"})
	if a == d {
		t.Error("different sets must hash differently")
	}
}

func TestGroupPatternConfidenceRamps(t *testing.T) {
	f := setup(t)
	attendees := []string{"alice@acme.com", "bob@partner.com"}

	for i := 0; i < 3; i++ {
		if err := f.resolver.UpsertGroupPattern(attendees, signalbus.EntityAccount, "acme"); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	p, err := f.resolver.LookupGroupPattern(attendees)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if p == nil {
		t.Fatal("expected pattern")
	}
	if p.OccurrenceCount != 3 {
		t.Errorf("occurrences = %d, want 3", p.OccurrenceCount)
	}
	if diff := p.Confidence - 0.65; diff < -0.001 || diff > 0.001 {
		t.Errorf("confidence = %f, want 0.65", p.Confidence)
	}
}

func TestGroupPatternConfidenceCaps(t *testing.T) {
	f := setup(t)
	attendees := []string{"alice@acme.com", "bob@partner.com"}
	for i := 0; i < 12; i++ {
		if err := f.resolver.UpsertGroupPattern(attendees, signalbus.EntityAccount, "acme"); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	p, _ := f.resolver.LookupGroupPattern(attendees)
	if p.Confidence > 0.85 {
		t.Errorf("confidence = %f, must cap at 0.85", p.Confidence)
	}
}

func TestCorrectionUpdatesWeights(t *testing.T) {
	f := setup(t)
	mustAccount(t, f, "wrong-acme", "Wrong Acme", "wrong.com")
	mustAccount(t, f, "correct-acme", "Correct Acme", "correct.com")

	// Seed resolution signals: keyword proposed the wrong account,
	// attendee_vote proposed the right one.
	meetingID := "evt-9"
	valueFor := func(src string) string {
		return `{"event_id":"` + meetingID + `","source":"` + src + `","outcome":"resolved"}`
	}
	if _, err := f.bus.Emit(signalbus.EntityAccount, "wrong-acme", "entity_resolution", signalbus.SourceKeyword, valueFor("keyword"), 0.8, 0); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if _, err := f.bus.Emit(signalbus.EntityAccount, "correct-acme", "entity_resolution", signalbus.SourceAttendeeVote, valueFor("attendee_vote"), 0.7, 0); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := f.entities.LinkMeeting(meetingID, entitystore.KindAccount, "wrong-acme"); err != nil {
		t.Fatalf("link: %v", err)
	}

	err := f.resolver.RecordCorrection(meetingID,
		[]EntityRef{{Kind: signalbus.EntityAccount, ID: "wrong-acme"}},
		EntityRef{Kind: signalbus.EntityAccount, ID: "correct-acme"})
	if err != nil {
		t.Fatalf("record correction: %v", err)
	}

	// Feedback row inserted.
	var n int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM entity_resolution_feedback WHERE meeting_id = ?`, meetingID).Scan(&n); err != nil {
		t.Fatalf("count feedback: %v", err)
	}
	if n != 1 {
		t.Errorf("feedback rows = %d, want 1", n)
	}

	// keyword penalized: reliability below prior 0.5.
	keywordRel, err := f.bus.GetLearnedReliability(signalbus.SourceKeyword, signalbus.EntityAccount, "entity_resolution")
	if err != nil {
		t.Fatalf("reliability: %v", err)
	}
	if keywordRel >= 0.5 {
		t.Errorf("keyword reliability = %f, want < 0.5", keywordRel)
	}

	// attendee_vote rewarded: reliability above prior.
	voteRel, err := f.bus.GetLearnedReliability(signalbus.SourceAttendeeVote, signalbus.EntityAccount, "entity_resolution")
	if err != nil {
		t.Fatalf("reliability: %v", err)
	}
	if voteRel <= 0.5 {
		t.Errorf("attendee_vote reliability = %f, want > 0.5", voteRel)
	}

	// Link moved to the corrected entity.
	refs, _ := f.entities.MeetingEntities(meetingID)
	if len(refs) != 1 || refs[0].ID != "correct-acme" {
		t.Fatalf("expected link moved to correct-acme, got %+v", refs)
	}
}

func TestResolveEmailSenderPersonThenDomain(t *testing.T) {
	f := setup(t)
	mustAccount(t, f, "acme", "Acme", "acme.com")
	if _, err := f.entities.UpsertPerson(&entitystore.Person{ID: "p-alice", Name: "Alice", Email: "alice@acme.com"}); err != nil {
		t.Fatalf("upsert person: %v", err)
	}

	kind, id, ok := f.resolver.ResolveEmailSender("Alice@Acme.com")
	if !ok || kind != signalbus.EntityPerson || id != "p-alice" {
		t.Errorf("person alias should win: got (%s, %s, %v)", kind, id, ok)
	}

	kind, id, ok = f.resolver.ResolveEmailSender("unknown@acme.com")
	if !ok || kind != signalbus.EntityAccount || id != "acme" {
		t.Errorf("domain fallback should find acme: got (%s, %s, %v)", kind, id, ok)
	}

	if _, _, ok := f.resolver.ResolveEmailSender("colleague@ourco.com"); ok {
		t.Error("user-domain sender must not resolve to an account")
	}
}
