package signalbus

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *Store {
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

func TestEmitAssignsIDAndIsListedActive(t *testing.T) {
	store := setupTestStore(t)

	sig, err := store.Emit(EntityAccount, "acct-1", "stakeholder_change", SourceCalendar, "alice@example.com", 0.8, 0)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if sig.ID == "" {
		t.Fatal("expected non-empty signal ID")
	}
	if sig.DecayHalfLifeDays != DefaultHalfLife(SourceCalendar) {
		t.Errorf("half life = %v, want default %v", sig.DecayHalfLifeDays, DefaultHalfLife(SourceCalendar))
	}

	active, err := store.ListActive(EntityAccount, "acct-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != sig.ID {
		t.Fatalf("expected single active signal %q, got %+v", sig.ID, active)
	}
}

func TestEmitSupersedesPriorEventOnSameTypeAndEntity(t *testing.T) {
	store := setupTestStore(t)

	first, err := store.Emit(EntityAccount, "acct-1", "title_change", SourceEmailEnrichment, "VP Sales", 0.7, 0)
	if err != nil {
		t.Fatalf("emit first: %v", err)
	}
	second, err := store.Emit(EntityAccount, "acct-1", "title_change", SourceEmailEnrichment, "CRO", 0.75, 0)
	if err != nil {
		t.Fatalf("emit second: %v", err)
	}

	active, err := store.ListActive(EntityAccount, "acct-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != second.ID {
		t.Fatalf("expected only the second event active, got %+v", active)
	}

	row := store.db.QueryRow(`SELECT superseded_by FROM signal_events WHERE id = ?`, first.ID)
	var supersededBy string
	if err := row.Scan(&supersededBy); err != nil {
		t.Fatalf("scan superseded_by: %v", err)
	}
	if supersededBy != second.ID {
		t.Errorf("superseded_by = %q, want %q", supersededBy, second.ID)
	}
}

func TestEmitDoesNotSupersedeDifferentSignalTypesOrEntities(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.Emit(EntityAccount, "acct-1", "title_change", SourceEmailEnrichment, "VP", 0.7, 0); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if _, err := store.Emit(EntityAccount, "acct-1", "company_change", SourceEmailEnrichment, "Acme", 0.7, 0); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if _, err := store.Emit(EntityAccount, "acct-2", "title_change", SourceEmailEnrichment, "CEO", 0.7, 0); err != nil {
		t.Fatalf("emit: %v", err)
	}

	active, err := store.ListActive(EntityAccount, "acct-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active signals for acct-1, got %d", len(active))
	}
}

func TestGetLearnedReliabilityDefaultsToPriorMean(t *testing.T) {
	store := setupTestStore(t)

	r, err := store.GetLearnedReliability(SourceKeyword, EntityAccount, "renewal_risk")
	if err != nil {
		t.Fatalf("get learned reliability: %v", err)
	}
	if r != 0.5 {
		t.Fatalf("expected prior mean 0.5 for unseen triple, got %v", r)
	}
}

func TestUpdateWeightShiftsReliability(t *testing.T) {
	store := setupTestStore(t)

	if err := store.UpdateWeight(SourceKeyword, EntityAccount, "renewal_risk", 5, 0); err != nil {
		t.Fatalf("update weight: %v", err)
	}

	r, err := store.GetLearnedReliability(SourceKeyword, EntityAccount, "renewal_risk")
	if err != nil {
		t.Fatalf("get learned reliability: %v", err)
	}
	if r <= 0.5 {
		t.Fatalf("expected reliability to increase after positive feedback, got %v", r)
	}
}

func TestUpdateWeightClampsToPositive(t *testing.T) {
	store := setupTestStore(t)

	if err := store.UpdateWeight(SourceKeyword, EntityAccount, "churn_risk", -10, -10); err != nil {
		t.Fatalf("update weight: %v", err)
	}

	alpha, beta, err := store.getPosterior(SourceKeyword, EntityAccount, "churn_risk")
	if err != nil {
		t.Fatalf("get posterior: %v", err)
	}
	if alpha < 0.01 || beta < 0.01 {
		t.Fatalf("expected alpha/beta clamped to >= 0.01, got alpha=%v beta=%v", alpha, beta)
	}
}

func TestListActiveExcludesDecayedBelowEpsilon(t *testing.T) {
	store := setupTestStore(t)

	sig, err := store.Emit(EntityAccount, "acct-1", "engagement_warning", SourceEmbedding, "low signal", 0.05, 1)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	_, err = store.db.Exec(`UPDATE signal_events SET created_at = ? WHERE id = ?`,
		"2000-01-01T00:00:00Z", sig.ID)
	if err != nil {
		t.Fatalf("backdate signal: %v", err)
	}

	active, err := store.ListActive(EntityAccount, "acct-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected decayed signal to be excluded, got %+v", active)
	}
}
