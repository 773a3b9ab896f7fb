package entitystore

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestAccountRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	end := time.Now().UTC().AddDate(1, 0, 0).Truncate(time.Second)
	in := &Account{
		ID: "acme", Name: "Acme", Domain: "Acme.COM", Stage: "customer",
		ARR: 120000, Health: "green", ContractEnd: end,
		Keywords: []string{"acme", "acme corp"},
	}
	if _, err := s.UpsertAccount(in); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetAccount("acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Acme" || got.ARR != 120000 || !got.ContractEnd.Equal(end) {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Keywords) != 2 {
		t.Errorf("keywords = %v", got.Keywords)
	}
}

func TestLookupAccountsByDomainCaseInsensitive(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.UpsertAccount(&Account{ID: "acme", Name: "Acme", Domain: "acme.com"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := s.LookupAccountsByDomain("ACME.com")
	if err != nil || len(got) != 1 {
		t.Fatalf("lookup got (%v, %v), want one account", got, err)
	}
}

func TestSecondaryDomains(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.UpsertAccount(&Account{ID: "acme", Name: "Acme", Domain: "acme.com"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.AddAccountDomain("acme", "acme.io"); err != nil {
		t.Fatalf("add domain: %v", err)
	}
	got, err := s.LookupAccountsByAnyDomain("acme.io")
	if err != nil || len(got) != 1 || got[0].ID != "acme" {
		t.Fatalf("secondary lookup got (%v, %v)", got, err)
	}
}

func TestTouchLastContactOnlyAdvances(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.UpsertAccount(&Account{ID: "acme", Name: "Acme"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	recent := time.Now().UTC().Truncate(time.Second)
	if err := s.TouchLastContact(KindAccount, "acme", recent); err != nil {
		t.Fatalf("touch: %v", err)
	}
	// An older touch must not regress the mark.
	if err := s.TouchLastContact(KindAccount, "acme", recent.AddDate(0, 0, -7)); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ := s.GetAccount("acme")
	if !got.LastContact.Equal(recent) {
		t.Errorf("last contact = %v, want %v", got.LastContact, recent)
	}
}

func TestMeetingLinkIdempotent(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.UpsertAccount(&Account{ID: "acme", Name: "Acme"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.LinkMeeting("m1", KindAccount, "acme"); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := s.LinkMeeting("m1", KindAccount, "acme"); err != nil {
		t.Fatalf("relink: %v", err)
	}
	refs, err := s.MeetingEntities("m1")
	if err != nil || len(refs) != 1 {
		t.Fatalf("refs = %v (%v), want exactly one", refs, err)
	}
}

func TestPersonAliases(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.UpsertPerson(&Person{ID: "p1", Name: "Alice", Email: "alice@acme.com"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.AddPersonAlias("p1", "Alice.Alvarez@acme.com"); err != nil {
		t.Fatalf("alias: %v", err)
	}
	// Duplicate alias is a no-op.
	if err := s.AddPersonAlias("p1", "alice.alvarez@acme.com"); err != nil {
		t.Fatalf("alias: %v", err)
	}

	got, err := s.FindPersonByAlias("alice.alvarez@acme.com")
	if err != nil || got == nil || got.ID != "p1" {
		t.Fatalf("alias lookup got (%v, %v)", got, err)
	}
	if len(got.Aliases) != 1 {
		t.Errorf("aliases = %v, want 1", got.Aliases)
	}
}

func TestMergePeopleMovesLinksThenDeletes(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.UpsertAccount(&Account{ID: "acme", Name: "Acme"}); err != nil {
		t.Fatalf("account: %v", err)
	}
	for _, id := range []string{"keep", "remove"} {
		if _, err := s.UpsertPerson(&Person{ID: id, Name: id}); err != nil {
			t.Fatalf("person: %v", err)
		}
	}
	if err := s.LinkPersonEntity("remove", KindAccount, "acme", "champion"); err != nil {
		t.Fatalf("link: %v", err)
	}

	if err := s.MergePeople("keep", "remove"); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, err := s.GetPerson("remove"); err != sql.ErrNoRows {
		t.Errorf("removed person should be gone, got %v", err)
	}
	refs, _ := s.PersonEntities("keep")
	if len(refs) != 1 || refs[0].ID != "acme" {
		t.Errorf("links not moved: %v", refs)
	}
}

func TestAccountHierarchy(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.UpsertAccount(&Account{ID: "parent", Name: "Parent"}); err != nil {
		t.Fatalf("parent: %v", err)
	}
	if _, err := s.UpsertAccount(&Account{ID: "child", Name: "Child", ParentID: "parent"}); err != nil {
		t.Fatalf("child: %v", err)
	}
	parent, children, err := s.AccountHierarchy("child")
	if err != nil {
		t.Fatalf("hierarchy: %v", err)
	}
	if parent == nil || parent.ID != "parent" {
		t.Errorf("parent = %v", parent)
	}
	if len(children) != 0 {
		t.Errorf("leaf should have no children: %v", children)
	}
	_, children, err = s.AccountHierarchy("parent")
	if err != nil || len(children) != 1 || children[0].ID != "child" {
		t.Errorf("parent's children = %v (%v)", children, err)
	}
}

func TestAccountEventsAndHasAccountEvent(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.UpsertAccount(&Account{ID: "acme", Name: "Acme", ARR: 50000}); err != nil {
		t.Fatalf("account: %v", err)
	}
	date := time.Now().UTC().Truncate(time.Second)
	if _, err := s.AddAccountEvent(&AccountEvent{AccountID: "acme", EventType: "renewal", EventDate: date, ARR: 50000}); err != nil {
		t.Fatalf("event: %v", err)
	}
	has, err := s.HasAccountEvent("acme", "renewal")
	if err != nil || !has {
		t.Errorf("HasAccountEvent = (%v, %v), want true", has, err)
	}
	has, _ = s.HasAccountEvent("acme", "churn")
	if has {
		t.Error("no churn event expected")
	}
}
