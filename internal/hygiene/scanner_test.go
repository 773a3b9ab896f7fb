package hygiene

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

type hygieneFixture struct {
	db       *sql.DB
	entities *entitystore.Store
	meetings *meetings.Store
	bus      *signalbus.Store
}

func setup(t *testing.T) *hygieneFixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	entities, err := entitystore.NewStore(db, nil)
	if err != nil {
		t.Fatalf("entities: %v", err)
	}
	ms, err := meetings.NewStore(db, nil)
	if err != nil {
		t.Fatalf("meetings: %v", err)
	}
	bus, err := signalbus.NewStore(db, nil)
	if err != nil {
		t.Fatalf("bus: %v", err)
	}
	return &hygieneFixture{db: db, entities: entities, meetings: ms, bus: bus}
}

func (f *hygieneFixture) scanner(queue EnrichmentQueue) *Scanner {
	return NewScanner(f.db, f.entities, f.meetings, f.bus, queue, nil, []string{"ourco.com"}, nil)
}

func TestRenewalRollover(t *testing.T) {
	f := setup(t)
	pastEnd := time.Now().UTC().AddDate(0, 0, -5).Truncate(time.Second)
	if _, err := f.entities.UpsertAccount(&entitystore.Account{
		ID: "a2", Name: "A2", ARR: 50000, ContractEnd: pastEnd,
	}); err != nil {
		t.Fatalf("account: %v", err)
	}

	report := f.scanner(nil).Run()
	if report.Fixes.RenewalsRolledOver != 1 {
		t.Fatalf("renewals_rolled_over = %d, want 1", report.Fixes.RenewalsRolledOver)
	}

	events, err := f.entities.AccountEvents("a2")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != "renewal" {
		t.Fatalf("expected one renewal event, got %+v", events)
	}
	if !events[0].EventDate.Equal(pastEnd) {
		t.Errorf("event date = %v, want previous contract end %v", events[0].EventDate, pastEnd)
	}
	if events[0].ARR != 50000 {
		t.Errorf("event arr = %f, want account arr 50000", events[0].ARR)
	}

	acct, err := f.entities.GetAccount("a2")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	want := pastEnd.AddDate(0, 12, 0)
	if !acct.ContractEnd.Equal(want) {
		t.Errorf("contract end = %v, want %v (+12 months)", acct.ContractEnd, want)
	}
}

func TestRenewalRolloverSkipsChurnedAccounts(t *testing.T) {
	f := setup(t)
	if _, err := f.entities.UpsertAccount(&entitystore.Account{
		ID: "gone", Name: "Gone", ContractEnd: time.Now().UTC().AddDate(0, 0, -10),
	}); err != nil {
		t.Fatalf("account: %v", err)
	}
	if _, err := f.entities.AddAccountEvent(&entitystore.AccountEvent{
		AccountID: "gone", EventType: "churn", EventDate: time.Now().UTC().AddDate(0, 0, -20),
	}); err != nil {
		t.Fatalf("churn event: %v", err)
	}

	report := f.scanner(nil).Run()
	if report.Fixes.RenewalsRolledOver != 0 {
		t.Errorf("churned account must not roll over, got %d", report.Fixes.RenewalsRolledOver)
	}
}

func TestUnknownRelationshipsReclassified(t *testing.T) {
	f := setup(t)
	if _, err := f.entities.UpsertPerson(&entitystore.Person{ID: "p1", Name: "Pat", Email: "pat@ourco.com"}); err != nil {
		t.Fatalf("person: %v", err)
	}
	if _, err := f.entities.UpsertPerson(&entitystore.Person{ID: "p2", Name: "Alice", Email: "alice@acme.com"}); err != nil {
		t.Fatalf("person: %v", err)
	}

	report := f.scanner(nil).Run()
	if report.Fixes.RelationshipsReclassified != 2 {
		t.Fatalf("reclassified = %d, want 2", report.Fixes.RelationshipsReclassified)
	}

	p1, _ := f.entities.GetPerson("p1")
	if p1.Relationship != entitystore.RelationshipInternal {
		t.Errorf("p1 relationship = %s, want internal", p1.Relationship)
	}
	p2, _ := f.entities.GetPerson("p2")
	if p2.Relationship != entitystore.RelationshipExternal {
		t.Errorf("p2 relationship = %s, want external", p2.Relationship)
	}
}

func TestNamesResolvedFromEmailLocalPart(t *testing.T) {
	f := setup(t)
	if _, err := f.entities.UpsertPerson(&entitystore.Person{
		ID: "p1", Name: "jane.doe@acme.com", Email: "jane.doe@acme.com",
	}); err != nil {
		t.Fatalf("person: %v", err)
	}

	report := f.scanner(nil).Run()
	if report.Fixes.NamesResolved != 1 {
		t.Fatalf("names resolved = %d, want 1", report.Fixes.NamesResolved)
	}
	p, _ := f.entities.GetPerson("p1")
	if p.Name != "Jane Doe" {
		t.Errorf("name = %q, want Jane Doe", p.Name)
	}
}

func TestAutoLinkPeopleByDomain(t *testing.T) {
	f := setup(t)
	if _, err := f.entities.UpsertAccount(&entitystore.Account{ID: "acme", Name: "Acme", Domain: "acme.com"}); err != nil {
		t.Fatalf("account: %v", err)
	}
	if _, err := f.entities.UpsertPerson(&entitystore.Person{
		ID: "p1", Name: "Alice", Email: "alice@acme.com",
		Relationship: entitystore.RelationshipExternal,
	}); err != nil {
		t.Fatalf("person: %v", err)
	}

	report := f.scanner(nil).Run()
	if report.Fixes.PeopleLinkedByDomain != 1 {
		t.Fatalf("linked by domain = %d, want 1", report.Fixes.PeopleLinkedByDomain)
	}
	refs, _ := f.entities.PersonEntities("p1")
	if len(refs) != 1 || refs[0].ID != "acme" {
		t.Errorf("expected link to acme, got %+v", refs)
	}
}

func TestOrphanedMeetingsLinkedByAccountName(t *testing.T) {
	f := setup(t)
	if _, err := f.entities.UpsertAccount(&entitystore.Account{ID: "acme", Name: "Acme Corp"}); err != nil {
		t.Fatalf("account: %v", err)
	}
	if err := f.meetings.Upsert(&meetings.Meeting{
		ID: "m1", Title: "Sync", MeetingType: "customer",
		StartTime: time.Now().UTC().AddDate(0, 0, -2),
		AccountID: "Acme Corp", // name string, not an id
	}); err != nil {
		t.Fatalf("meeting: %v", err)
	}

	report := f.scanner(nil).Run()
	if report.Fixes.OrphanedMeetingsLinked != 1 {
		t.Fatalf("orphans linked = %d, want 1", report.Fixes.OrphanedMeetingsLinked)
	}
	refs, _ := f.entities.MeetingEntities("m1")
	if len(refs) != 1 || refs[0].ID != "acme" {
		t.Errorf("expected m1 linked to acme, got %+v", refs)
	}
}

type recordingQueue struct {
	budget int
	items  []string
}

func (q *recordingQueue) EnqueueEnrichment(entityKind, entityID, reason string) bool {
	if len(q.items) >= q.budget {
		return false
	}
	q.items = append(q.items, entityKind+"/"+entityID)
	return true
}

func TestAIEnrichmentsRespectBudget(t *testing.T) {
	f := setup(t)
	for _, id := range []string{"a1", "a2", "a3"} {
		if _, err := f.entities.UpsertAccount(&entitystore.Account{ID: id, Name: id}); err != nil {
			t.Fatalf("account: %v", err)
		}
	}

	queue := &recordingQueue{budget: 2}
	report := f.scanner(queue).Run()
	if report.Fixes.AIEnrichmentsEnqueued != 2 {
		t.Errorf("enqueued = %d, want 2 (budget-capped)", report.Fixes.AIEnrichmentsEnqueued)
	}
}
