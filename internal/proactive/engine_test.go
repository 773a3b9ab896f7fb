package proactive

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

func setupEnv(t *testing.T) (*Env, *signalbus.Store) {
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
	mstore, err := meetings.NewStore(db, nil)
	if err != nil {
		t.Fatalf("meetings store: %v", err)
	}
	bus, err := signalbus.NewStore(db, nil)
	if err != nil {
		t.Fatalf("signal bus: %v", err)
	}
	return &Env{DB: db, Entities: entities, Meetings: mstore}, bus
}

// busEmitter adapts the raw bus to the Emitter interface for tests that
// don't need propagation.
type busEmitter struct{ bus *signalbus.Store }

func (b busEmitter) Emit(kind signalbus.EntityKind, entityID, signalType string, source signalbus.Source, value string, confidence float64, halfLifeDays float64) (signalbus.Signal, error) {
	return b.bus.Emit(kind, entityID, signalType, source, value, confidence, halfLifeDays)
}

func TestScanEmitsSignalAndRecordsInsight(t *testing.T) {
	env, bus := setupEnv(t)
	if _, err := env.Entities.UpsertAccount(&entitystore.Account{
		ID: "acme", Name: "Acme",
		ContractEnd: time.Now().UTC().Add(20 * 24 * time.Hour),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	engine, err := DefaultEngine(env, busEmitter{bus}, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	n, err := engine.RunScan(Context{Today: time.Now().UTC(), Profile: "cs"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n == 0 {
		t.Fatal("expected at least one insight")
	}

	active, err := bus.ListActive(signalbus.EntityAccount, "acme")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	found := false
	for _, sig := range active {
		if sig.SignalType == "renewal_proximity" && sig.Source == signalbus.SourceProactive {
			found = true
		}
	}
	if !found {
		t.Errorf("expected renewal_proximity signal, got %+v", active)
	}

	insights, err := engine.ActiveInsights()
	if err != nil {
		t.Fatalf("insights: %v", err)
	}
	if len(insights) == 0 {
		t.Fatal("expected persisted insights")
	}
}

func TestFingerprintDedupWithinWindow(t *testing.T) {
	env, bus := setupEnv(t)
	if _, err := env.Entities.UpsertAccount(&entitystore.Account{
		ID: "acme", Name: "Acme",
		ContractEnd: time.Now().UTC().Add(20 * 24 * time.Hour),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	engine, err := DefaultEngine(env, busEmitter{bus}, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	today := time.Now().UTC()
	first, _ := engine.RunScan(Context{Today: today, Profile: "cs"})
	second, _ := engine.RunScan(Context{Today: today, Profile: "cs"})
	if first == 0 {
		t.Fatal("first scan should emit")
	}
	if second != 0 {
		t.Errorf("second scan emitted %d, want 0 (fingerprint dedup)", second)
	}
}

func TestFingerprintStability(t *testing.T) {
	day := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := Fingerprint("acme", "renewal_proximity", day)
	b := Fingerprint("acme", "renewal_proximity", day.Add(5*time.Hour))
	if a != b {
		t.Error("same day bucket must produce the same fingerprint")
	}
	c := Fingerprint("acme", "renewal_proximity", day.AddDate(0, 0, 1))
	if a == c {
		t.Error("different day bucket must change the fingerprint")
	}
}

func TestRelationshipDriftDetectsDrop(t *testing.T) {
	env, bus := setupEnv(t)
	if _, err := env.Entities.UpsertAccount(&entitystore.Account{ID: "acme", Name: "Acme"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	now := time.Now().UTC()

	// Four meetings 31-59 days ago, none since.
	for i := 0; i < 4; i++ {
		id := "m-old-" + string(rune('a'+i))
		if err := env.Meetings.Upsert(&meetings.Meeting{
			ID: id, Title: "Sync", MeetingType: "customer",
			StartTime: now.AddDate(0, 0, -35-i*5),
		}); err != nil {
			t.Fatalf("upsert meeting: %v", err)
		}
		if err := env.Entities.LinkMeeting(id, entitystore.KindAccount, "acme"); err != nil {
			t.Fatalf("link: %v", err)
		}
	}

	insights := DetectRelationshipDrift(env, Context{Today: now})
	if len(insights) != 1 {
		t.Fatalf("expected 1 drift insight, got %d", len(insights))
	}
	if insights[0].SignalType != "meeting_frequency_drop" {
		t.Errorf("signal type = %s", insights[0].SignalType)
	}
	_ = bus
}

func TestProfileFilter(t *testing.T) {
	env, bus := setupEnv(t)
	engine, err := NewEngine(env, busEmitter{bus}, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	ran := false
	engine.Register("sales_only", []string{"sales"}, func(env *Env, ctx Context) []RawInsight {
		ran = true
		return nil
	})
	if _, err := engine.RunScan(Context{Today: time.Now().UTC(), Profile: "cs"}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if ran {
		t.Error("sales-only detector must not run under cs profile")
	}
}
