package orchestrator

import "testing"

func TestEnrichQueueBudget(t *testing.T) {
	q := NewEnrichQueue(2)

	if !q.EnqueueEnrichment("account", "a1", "missing_intelligence") {
		t.Fatal("first enqueue should fit the budget")
	}
	if !q.EnqueueEnrichment("account", "a2", "missing_intelligence") {
		t.Fatal("second enqueue should fit the budget")
	}
	if q.EnqueueEnrichment("account", "a3", "missing_intelligence") {
		t.Fatal("third enqueue must be refused by the budget")
	}
	if q.Len() != 2 {
		t.Errorf("len = %d, want 2", q.Len())
	}

	// A new pass restores the budget.
	q.ResetBudget()
	if !q.EnqueueEnrichment("account", "a3", "missing_intelligence") {
		t.Error("enqueue after budget reset should succeed")
	}
}

func TestEnrichQueueDedup(t *testing.T) {
	q := NewEnrichQueue(10)
	q.EnqueueEnrichment("person", "p1", "never_enriched")
	if q.EnqueueEnrichment("person", "p1", "never_enriched") {
		t.Error("duplicate enqueue must be refused")
	}
	if q.Len() != 1 {
		t.Errorf("len = %d, want 1", q.Len())
	}

	// Once dequeued, the entity may be queued again.
	if _, ok := q.Dequeue(); !ok {
		t.Fatal("dequeue should return the pending item")
	}
	if !q.EnqueueEnrichment("person", "p1", "never_enriched") {
		t.Error("re-enqueue after dequeue should succeed")
	}
}

func TestEnrichQueueManualBypassesBudget(t *testing.T) {
	q := NewEnrichQueue(0)
	if q.EnqueueEnrichment("person", "p1", "x") {
		t.Fatal("zero budget must refuse hygiene enqueues")
	}
	if !q.EnqueueManual("person", "p1", "bulk_enrich") {
		t.Fatal("manual enqueue must bypass the budget")
	}
}

func TestClassifyInboxFile(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"acme-notes.md", "## Attendees\n- alice", "meeting_notes"},
		{"todo.md", "- [ ] send deck", "action_items"},
		{"account-q3.md", "ARR grew 20%", "account_update"},
		{"context.md", "some prose", "meeting_context"},
	}
	for _, tc := range cases {
		if got := classifyInboxFile(tc.name, tc.content); got != tc.want {
			t.Errorf("classifyInboxFile(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}
