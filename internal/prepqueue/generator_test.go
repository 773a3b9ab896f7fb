package prepqueue

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jamesgiroux/dailyos-core/internal/actions"
	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/events"
	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

type procFixture struct {
	proc     *Processor
	queue    *Queue
	meetings *meetings.Store
	entities *entitystore.Store
	bus      *signalbus.Store
	events   *events.Bus
}

func setupProcessor(t *testing.T) *procFixture {
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
	es, err := entitystore.NewStore(db, nil)
	if err != nil {
		t.Fatalf("entities: %v", err)
	}
	bus, err := signalbus.NewStore(db, nil)
	if err != nil {
		t.Fatalf("bus: %v", err)
	}
	as, err := actions.NewStore(db, nil)
	if err != nil {
		t.Fatalf("actions: %v", err)
	}
	eb := events.New()
	queue := NewQueue()
	return &procFixture{
		proc:     NewProcessor(queue, ms, es, bus, as, eb, nil),
		queue:    queue,
		meetings: ms,
		entities: es,
		bus:      bus,
		events:   eb,
	}
}

func seedMeeting(t *testing.T, f *procFixture, id string) {
	t.Helper()
	if _, err := f.entities.UpsertAccount(&entitystore.Account{
		ID: "acme", Name: "Acme", Stage: "customer", ARR: 120000,
		ContractEnd: time.Now().UTC().Add(60 * 24 * time.Hour),
	}); err != nil {
		t.Fatalf("account: %v", err)
	}
	if err := f.meetings.Upsert(&meetings.Meeting{
		ID: id, Title: "Acme QBR", MeetingType: "qbr",
		StartTime: time.Now().UTC().Add(2 * time.Hour),
		Attendees: "alice@acme.com,me@ourco.com",
		AccountID: "acme",
	}); err != nil {
		t.Fatalf("meeting: %v", err)
	}
	if err := f.entities.LinkMeeting(id, entitystore.KindAccount, "acme"); err != nil {
		t.Fatalf("link: %v", err)
	}
}

func TestProcessFreezesPrepAndEmitsReady(t *testing.T) {
	f := setupProcessor(t)
	seedMeeting(t, f, "m1")
	if _, err := f.bus.Emit(signalbus.EntityAccount, "acme", "stakeholder_change", signalbus.SourcePropagation, "", 0.85, 0); err != nil {
		t.Fatalf("emit: %v", err)
	}

	ch := f.events.Subscribe(4)
	defer f.events.Unsubscribe(ch)

	if err := f.proc.Process(&Request{MeetingID: "m1", Priority: Background}); err != nil {
		t.Fatalf("process: %v", err)
	}

	m, err := f.meetings.Get("m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.PrepFrozenJSON == "" {
		t.Fatal("prep_frozen_json not written")
	}
	if m.PrepFrozenAt.IsZero() {
		t.Fatal("prep_frozen_at not stamped")
	}

	var prep MeetingPrep
	if err := json.Unmarshal([]byte(m.PrepFrozenJSON), &prep); err != nil {
		t.Fatalf("unmarshal prep: %v", err)
	}
	if prep.MeetingID != "m1" || len(prep.Entities) != 1 || prep.Entities[0].ID != "acme" {
		t.Errorf("unexpected prep: %+v", prep)
	}
	if len(prep.Signals) == 0 {
		t.Error("expected signals in prep")
	}

	select {
	case evt := <-ch:
		if evt.Kind != events.KindPrepReady || evt.Data["meeting_id"] != "m1" {
			t.Errorf("unexpected event: %+v", evt)
		}
	default:
		t.Error("expected prep-ready event")
	}
}

func TestProcessSkipsFrozenPrepUnlessInvalidated(t *testing.T) {
	f := setupProcessor(t)
	seedMeeting(t, f, "m1")

	if err := f.proc.Process(&Request{MeetingID: "m1", Priority: Background}); err != nil {
		t.Fatalf("process: %v", err)
	}
	first, _ := f.meetings.Get("m1")

	time.Sleep(1100 * time.Millisecond) // second-resolution timestamps

	// Non-invalidated request is a no-op.
	if err := f.proc.Process(&Request{MeetingID: "m1", Priority: Background}); err != nil {
		t.Fatalf("process: %v", err)
	}
	second, _ := f.meetings.Get("m1")
	if !second.PrepFrozenAt.Equal(first.PrepFrozenAt) {
		t.Error("non-invalidated request must not regenerate")
	}

	// Invalidated request regenerates unconditionally.
	if err := f.proc.Process(&Request{MeetingID: "m1", Priority: Background, Invalidated: true}); err != nil {
		t.Fatalf("process: %v", err)
	}
	third, _ := f.meetings.Get("m1")
	if third.PrepFrozenAt.Equal(first.PrepFrozenAt) {
		t.Error("invalidated request must regenerate")
	}
}
