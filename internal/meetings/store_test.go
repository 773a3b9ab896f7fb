package meetings

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
)

func setupTestStore(t *testing.T) (*Store, *entitystore.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, nil)
	if err != nil {
		t.Fatalf("meetings store: %v", err)
	}
	entities, err := entitystore.NewStore(db, nil)
	if err != nil {
		t.Fatalf("entity store: %v", err)
	}
	return store, entities
}

func TestUpsertPreservesFrozenPrep(t *testing.T) {
	s, _ := setupTestStore(t)
	start := time.Now().UTC().Add(2 * time.Hour)
	if err := s.Upsert(&Meeting{ID: "m1", Title: "Acme QBR", MeetingType: "qbr", StartTime: start}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.FreezePrep("m1", `{"v":1}`); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	// A re-poll of the same calendar event must not wipe the prep.
	if err := s.Upsert(&Meeting{ID: "m1", Title: "Acme QBR (updated)", MeetingType: "qbr", StartTime: start}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, err := s.Get("m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Acme QBR (updated)" {
		t.Errorf("title not refreshed: %q", got.Title)
	}
	if got.PrepFrozenJSON != `{"v":1}` {
		t.Errorf("frozen prep lost on upsert: %q", got.PrepFrozenJSON)
	}
}

func TestUpcomingForEntityWindow(t *testing.T) {
	s, entities := setupTestStore(t)
	now := time.Now().UTC()

	add := func(id string, start time.Time) {
		if err := s.Upsert(&Meeting{ID: id, Title: id, MeetingType: "customer", StartTime: start}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
		if err := entities.LinkMeeting(id, entitystore.KindAccount, "acme"); err != nil {
			t.Fatalf("link %s: %v", id, err)
		}
	}
	add("soon", now.Add(2*time.Hour))
	add("later", now.Add(72*time.Hour))
	add("past", now.Add(-2*time.Hour))

	ids, err := s.UpcomingForEntity("account", "acme", 48*time.Hour)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(ids) != 1 || ids[0] != "soon" {
		t.Errorf("upcoming = %v, want [soon]", ids)
	}
}

func TestRecentlyEndedWindow(t *testing.T) {
	s, _ := setupTestStore(t)
	now := time.Now().UTC()

	add := func(id string, end time.Time, attendees string) {
		if err := s.Upsert(&Meeting{
			ID: id, Title: id, MeetingType: "customer",
			StartTime: end.Add(-time.Hour), EndTime: end, Attendees: attendees,
		}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	add("in-window", now.Add(-3*time.Hour), "a@x.com")
	add("too-fresh", now.Add(-10*time.Minute), "a@x.com")
	add("too-old", now.Add(-72*time.Hour), "a@x.com")
	add("no-attendees", now.Add(-3*time.Hour), "")

	got, err := s.RecentlyEnded(48)
	if err != nil {
		t.Fatalf("recently ended: %v", err)
	}
	if len(got) != 1 || got[0].ID != "in-window" {
		ids := make([]string, 0, len(got))
		for _, m := range got {
			ids = append(ids, m.ID)
		}
		t.Errorf("recently ended = %v, want [in-window]", ids)
	}
}

func TestAttendeeEmails(t *testing.T) {
	m := Meeting{Attendees: "Alice@Acme.com, bob@ourco.com, not-an-email"}
	got := m.AttendeeEmails()
	if len(got) != 2 || got[0] != "alice@acme.com" {
		t.Errorf("attendee emails = %v", got)
	}
}

func TestCapturesRoundTrip(t *testing.T) {
	s, _ := setupTestStore(t)
	if _, err := s.AddCapture(&Capture{MeetingID: "m1", AccountID: "acme", CaptureType: "win", Content: "expansion interest"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := s.RecentCaptures("acme", 5)
	if err != nil || len(got) != 1 {
		t.Fatalf("captures = %v (%v)", got, err)
	}
	if got[0].CaptureType != "win" {
		t.Errorf("capture = %+v", got[0])
	}
}

func TestContentIndexAndSummaries(t *testing.T) {
	s, _ := setupTestStore(t)
	f, err := s.IndexContentFile(&ContentFile{
		EntityID: "acme", Filename: "notes.md",
		RelativePath: "Accounts/acme/notes.md", AbsolutePath: "/ws/Accounts/acme/notes.md",
		Format: "md", Priority: 2, ModifiedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("index: %v", err)
	}

	unsummarized, err := s.UnsummarizedContentFiles(10)
	if err != nil || len(unsummarized) != 1 {
		t.Fatalf("unsummarized = %v (%v)", unsummarized, err)
	}
	if err := s.SetContentSummary(f.ID, "Expansion notes."); err != nil {
		t.Fatalf("summary: %v", err)
	}
	unsummarized, _ = s.UnsummarizedContentFiles(10)
	if len(unsummarized) != 0 {
		t.Errorf("still unsummarized: %v", unsummarized)
	}

	highlights, err := s.ContentHighlights("acme", 3)
	if err != nil || len(highlights) != 1 {
		t.Fatalf("highlights = %v (%v)", highlights, err)
	}
}

func TestStoreChunksStampsEmbeddings(t *testing.T) {
	s, _ := setupTestStore(t)
	f, err := s.IndexContentFile(&ContentFile{
		EntityID: "acme", Filename: "notes.md",
		RelativePath: "notes.md", AbsolutePath: "/ws/notes.md",
		ModifiedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("index: %v", err)
	}

	pending, _ := s.FilesNeedingEmbeddings(10)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if err := s.StoreChunks(f.ID, []ContentChunk{
		{ChunkText: "hello", Embedding: []byte{1, 2, 3, 4}},
	}); err != nil {
		t.Fatalf("store chunks: %v", err)
	}
	pending, _ = s.FilesNeedingEmbeddings(10)
	if len(pending) != 0 {
		t.Errorf("still pending after chunk store: %v", pending)
	}
}
