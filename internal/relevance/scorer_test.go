package relevance

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

func setupScorer(t *testing.T) (*Scorer, *signalbus.Store, *entitystore.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	bus, err := signalbus.NewStore(db, nil)
	if err != nil {
		t.Fatalf("bus: %v", err)
	}
	entities, err := entitystore.NewStore(db, nil)
	if err != nil {
		t.Fatalf("entities: %v", err)
	}
	return NewScorer(bus, entities, nil, nil), bus, entities
}

func TestAutomatedSenderShortCircuits(t *testing.T) {
	s, _, _ := setupScorer(t)
	scored := s.ScoreEmail(EmailItem{
		SenderEmail: "noreply@svc.com",
		Subject:     "Your report is ready",
		ReceivedAt:  time.Now(),
	}, "")
	if scored.Total > 0.05 {
		t.Errorf("total = %f, want <= 0.05", scored.Total)
	}
	if scored.Reason != "automated sender" {
		t.Errorf("reason = %q, want 'automated sender'", scored.Reason)
	}
}

func TestCalendarNotificationShortCircuits(t *testing.T) {
	s, _, _ := setupScorer(t)
	scored := s.ScoreEmail(EmailItem{
		SenderEmail: "alice@acme.com",
		Subject:     "Accepted: Weekly sync",
		ReceivedAt:  time.Now(),
	}, "")
	if scored.Total > 0.05 || scored.Reason != "calendar notification" {
		t.Errorf("got (%f, %q), want low score with calendar-notification reason", scored.Total, scored.Reason)
	}
}

func TestUrgentRenewalEmailFromActiveAccountScoresHigh(t *testing.T) {
	s, bus, entities := setupScorer(t)
	if _, err := entities.UpsertAccount(&entitystore.Account{ID: "acme", Name: "Acme"}); err != nil {
		t.Fatalf("account: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := bus.Emit(signalbus.EntityAccount, "acme", "sig-"+string(rune('a'+i)), signalbus.SourceCalendar, "", 0.8, 0); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	scored := s.ScoreEmail(EmailItem{
		SenderEmail: "alice@acme.com",
		Subject:     "Re: Contract renewal",
		Summary:     "renewal discussion",
		Urgency:     "high",
		EntityKind:  signalbus.EntityAccount,
		EntityID:    "acme",
		ReceivedAt:  time.Now(),
	}, "")
	if scored.Total < 0.70 {
		t.Errorf("total = %f, want >= 0.70", scored.Total)
	}
	for _, want := range []string{"Acme", "urgent", "renewal"} {
		if !strings.Contains(scored.Reason, want) {
			t.Errorf("reason %q missing %q", scored.Reason, want)
		}
	}
}

func TestKeywordPicksHighestWeight(t *testing.T) {
	s, _, _ := setupScorer(t)
	scored := s.Score(Item{
		ContentText: "budget discussion ahead of the renewal",
		CreatedAt:   time.Now(),
	}, "")
	if scored.KeywordScore != 0.15 {
		t.Errorf("keyword score = %f, want 0.15 (renewal outranks budget)", scored.KeywordScore)
	}
	if !strings.Contains(scored.Reason, "renewal") {
		t.Errorf("reason = %q, want renewal", scored.Reason)
	}
}

func TestRecencyDecays(t *testing.T) {
	s, _, _ := setupScorer(t)
	fresh := s.Score(Item{ContentText: "x", CreatedAt: time.Now()}, "")
	old := s.Score(Item{ContentText: "x", CreatedAt: time.Now().AddDate(0, 0, -14)}, "")
	if fresh.RecencyScore <= old.RecencyScore {
		t.Errorf("fresh %f should outscore old %f", fresh.RecencyScore, old.RecencyScore)
	}
	if diff := old.RecencyScore - 0.05; diff < -0.01 || diff > 0.01 {
		t.Errorf("14-day-old recency = %f, want ~0.05 (one half-life)", old.RecencyScore)
	}
}

func TestTotalClamped(t *testing.T) {
	s, _, _ := setupScorer(t)
	scored := s.Score(Item{
		ContentText: "renewal contract expansion escalation churn",
		Urgency:     "high",
		CreatedAt:   time.Now(),
	}, "")
	if scored.Total > 1.0 || scored.Total < 0 {
		t.Errorf("total = %f, must be in [0,1]", scored.Total)
	}
}

func TestComputeGapsAndFocusBlocks(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 7, 6, 0, 0, 0, 0, loc)
	mk := func(h1, m1, h2, m2 int) Interval {
		return Interval{
			Start: time.Date(2026, 7, 6, h1, m1, 0, 0, loc),
			End:   time.Date(2026, 7, 6, h2, m2, 0, 0, loc),
		}
	}

	gaps := ComputeGaps([]Interval{mk(10, 0, 11, 0), mk(14, 0, 15, 0)}, day, loc)
	if len(gaps) != 3 {
		t.Fatalf("gaps = %d (%+v), want 3 (9-10, 11-14, 15-17)", len(gaps), gaps)
	}
	if gaps[1].Minutes != 180 {
		t.Errorf("middle gap = %d minutes, want 180", gaps[1].Minutes)
	}

	blocks := SuggestFocusBlocks(gaps)
	if len(blocks) != 3 {
		t.Fatalf("blocks = %d, want 3 (all gaps >= 60m)", len(blocks))
	}
	if blocks[0].Minutes != 180 {
		t.Errorf("longest block first: got %d", blocks[0].Minutes)
	}
	if !strings.Contains(blocks[0].Label, "Deep work") {
		t.Errorf("180m block label = %q, want deep work", blocks[0].Label)
	}
}

func TestAllDayEventsSkipped(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 7, 6, 0, 0, 0, 0, loc)
	allDay := Interval{
		Start: time.Date(2026, 7, 6, 0, 0, 0, 0, loc),
		End:   time.Date(2026, 7, 7, 0, 0, 0, 0, loc),
	}
	gaps := ComputeGaps([]Interval{allDay}, day, loc)
	if len(gaps) != 1 || gaps[0].Minutes != 480 {
		t.Errorf("all-day event should leave the full work day free, got %+v", gaps)
	}
}
