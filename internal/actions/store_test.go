package actions

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

func TestCreateDefaultsToOpen(t *testing.T) {
	s := setupTestStore(t)
	a, err := s.Create(&Action{Title: "Send the deck"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Status != StatusOpen || a.ID == "" {
		t.Errorf("unexpected action: %+v", a)
	}
}

func TestCompleteAndReopenLifecycle(t *testing.T) {
	s := setupTestStore(t)
	a, err := s.Create(&Action{Title: "Follow up"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.SetStatus(a.ID, StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ := s.Get(a.ID)
	if got.Status != StatusCompleted || got.CompletedAt.IsZero() {
		t.Errorf("completed action: %+v", got)
	}

	if err := s.SetStatus(a.ID, StatusOpen); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, _ = s.Get(a.ID)
	if got.Status != StatusOpen || !got.CompletedAt.IsZero() {
		t.Errorf("reopened action should clear completed_at: %+v", got)
	}
}

func TestSetStatusUnknownID(t *testing.T) {
	s := setupTestStore(t)
	if err := s.SetStatus("nope", StatusCompleted); err != sql.ErrNoRows {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestUpsertProposedNeverDowngrades(t *testing.T) {
	s := setupTestStore(t)
	a := &Action{ID: "act-email-e1-0", Title: "Send pricing", SourceEmailID: "e1"}
	if err := s.UpsertProposed(a); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := s.SetStatus(a.ID, StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Re-proposing the same commitment must not reopen or retitle it.
	if err := s.UpsertProposed(&Action{ID: a.ID, Title: "Different title", SourceEmailID: "e1"}); err != nil {
		t.Fatalf("re-propose: %v", err)
	}
	got, _ := s.Get(a.ID)
	if got.Status != StatusCompleted || got.Title != "Send pricing" {
		t.Errorf("completed proposal was modified: %+v", got)
	}
}

func TestCountOverdue(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	mk := func(title string, due time.Time, status string) {
		a := &Action{Title: title, DueDate: due, EntityKind: "account", EntityID: "acme", Status: status}
		if _, err := s.Create(a); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
	}
	mk("overdue-1", now.AddDate(0, 0, -2), StatusOpen)
	mk("overdue-2", now.AddDate(0, 0, -1), StatusOpen)
	mk("future", now.AddDate(0, 0, 3), StatusOpen)
	mk("done", now.AddDate(0, 0, -5), StatusCompleted)

	n, err := s.CountOverdue("account", "acme", now)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("overdue = %d, want 2", n)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.Create(&Action{Title: "a"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.UpsertProposed(&Action{ID: "p1", Title: "b"}); err != nil {
		t.Fatalf("propose: %v", err)
	}

	open, err := s.List(StatusOpen)
	if err != nil || len(open) != 1 {
		t.Errorf("open = %d (%v), want 1", len(open), err)
	}
	all, err := s.List("")
	if err != nil || len(all) != 2 {
		t.Errorf("all = %d (%v), want 2", len(all), err)
	}
}
