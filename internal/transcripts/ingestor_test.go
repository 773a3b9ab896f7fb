package transcripts

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

type busEmitter struct{ bus *signalbus.Store }

func (b busEmitter) Emit(kind signalbus.EntityKind, entityID, signalType string, source signalbus.Source, value string, confidence float64, halfLifeDays float64) (signalbus.Signal, error) {
	return b.bus.Emit(kind, entityID, signalType, source, value, confidence, halfLifeDays)
}

func setupIngestor(t *testing.T) (*Ingestor, *meetings.Store, *signalbus.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ms, err := meetings.NewStore(db, nil)
	if err != nil {
		t.Fatalf("meetings: %v", err)
	}
	bus, err := signalbus.NewStore(db, nil)
	if err != nil {
		t.Fatalf("bus: %v", err)
	}
	return NewIngestor(ms, busEmitter{bus}, nil), ms, bus
}

func TestScanDirectoryAttachesByTitleAndTime(t *testing.T) {
	ingestor, ms, bus := setupIngestor(t)
	now := time.Now().UTC()

	if err := ms.Upsert(&meetings.Meeting{
		ID: "m1", Title: "Acme QBR", MeetingType: "qbr",
		StartTime: now.Add(-30 * time.Minute), AccountID: "acme",
	}); err != nil {
		t.Fatalf("meeting: %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "2026-07-06-acme-qbr.vtt"), []byte("WEBVTT\n\nhello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	attached, err := ingestor.ScanDirectory(dir, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if attached != 1 {
		t.Fatalf("attached = %d, want 1", attached)
	}

	m, _ := ms.Get("m1")
	if m.TranscriptPath == "" {
		t.Error("transcript path not recorded")
	}

	active, _ := bus.ListActive(signalbus.EntityAccount, "acme")
	found := false
	for _, sig := range active {
		if sig.SignalType == "transcript_available" {
			found = true
		}
	}
	if !found {
		t.Error("expected transcript_available signal on acme")
	}

	// Rescan does not re-attach: the meeting already has a transcript.
	attached, _ = ingestor.ScanDirectory(dir, now.Add(-time.Hour))
	if attached != 0 {
		t.Errorf("rescan attached = %d, want 0", attached)
	}
}

func TestScanCacheWritesAndAttaches(t *testing.T) {
	ingestor, ms, _ := setupIngestor(t)
	now := time.Now().UTC()

	if err := ms.Upsert(&meetings.Meeting{
		ID: "m1", Title: "Bigcorp kickoff", MeetingType: "customer",
		StartTime: now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("meeting: %v", err)
	}

	dir := t.TempDir()
	cache := filepath.Join(dir, "cache.json")
	payload := `[{"id": "doc-1", "title": "Bigcorp kickoff", "created_at": "` +
		now.Add(-time.Hour).Format(time.RFC3339) + `", "transcript": "notes..."}]`
	if err := os.WriteFile(cache, []byte(payload), 0o644); err != nil {
		t.Fatalf("write cache: %v", err)
	}

	attached, err := ingestor.ScanCache(cache)
	if err != nil {
		t.Fatalf("scan cache: %v", err)
	}
	if attached != 1 {
		t.Fatalf("attached = %d, want 1", attached)
	}
	if _, err := os.Stat(filepath.Join(dir, "transcript-doc-1.md")); err != nil {
		t.Error("transcript file not written beside cache")
	}
}

func TestNoMatchWithoutTitleOverlap(t *testing.T) {
	ingestor, ms, _ := setupIngestor(t)
	now := time.Now().UTC()

	if err := ms.Upsert(&meetings.Meeting{
		ID: "m1", Title: "Finance review", MeetingType: "internal",
		StartTime: now,
	}); err != nil {
		t.Fatalf("meeting: %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "acme-sync.vtt"), []byte("WEBVTT"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	attached, err := ingestor.ScanDirectory(dir, now.Add(-time.Hour))
	if err != nil || attached != 0 {
		t.Errorf("got (%d, %v), want (0, nil)", attached, err)
	}
}
