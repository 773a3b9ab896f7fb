package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
)

func testWorkspace(t *testing.T) *Workspace {
	t.Helper()
	return New(t.TempDir(), nil)
}

func TestWriteAtomicCommitsViaRename(t *testing.T) {
	w := testWorkspace(t)
	if err := w.WriteAtomic("sub/dir/file.json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(w.Root(), "sub/dir/file.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("content = %s", data)
	}
	if _, err := os.Stat(filepath.Join(w.Root(), "sub/dir/file.json.tmp")); !os.IsNotExist(err) {
		t.Error("tmp file must not survive the commit")
	}
}

func TestDisabledWorkspaceIsNoOp(t *testing.T) {
	w := New("", nil)
	if err := w.WriteAtomic("x.json", []byte("{}")); err != nil {
		t.Fatalf("disabled write must be a no-op, got %v", err)
	}
}

func TestPersonArtifactShape(t *testing.T) {
	w := testWorkspace(t)
	p := &entitystore.Person{ID: "p-alice", Name: "Alice", Email: "alice@acme.com", Relationship: "external"}
	links := []entitystore.EntityRef{{Kind: entitystore.KindAccount, ID: "acme", Relationship: "champion"}}
	if err := w.WritePersonArtifact(p, links); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(w.Root(), "People", "p-alice", "person.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var artifact map[string]any
	if err := json.Unmarshal(data, &artifact); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if artifact["version"] != float64(1) || artifact["entityType"] != "person" {
		t.Errorf("discriminators wrong: %v", artifact)
	}
	linked, ok := artifact["linkedEntities"].([]any)
	if !ok || len(linked) != 1 {
		t.Fatalf("linkedEntities = %v", artifact["linkedEntities"])
	}
	first := linked[0].(map[string]any)
	if first["entityId"] != "acme" || first["relationship"] != "champion" {
		t.Errorf("link = %v", first)
	}
}

func TestAuditWriteAndPrune(t *testing.T) {
	w := testWorkspace(t)
	path, err := w.WriteAudit("account", "acme", "raw model output")
	if err != nil {
		t.Fatalf("write audit: %v", err)
	}
	if !strings.HasSuffix(path, "_account_acme.txt") {
		t.Errorf("audit path = %q", path)
	}

	// Fresh files survive pruning.
	pruned, err := w.PruneAudit()
	if err != nil || pruned != 0 {
		t.Fatalf("prune got (%d, %v), want (0, nil)", pruned, err)
	}

	// Age the file past retention by mtime and prune again.
	old := time.Now().Add(-31 * 24 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	pruned, err = w.PruneAudit()
	if err != nil || pruned != 1 {
		t.Fatalf("prune got (%d, %v), want (1, nil)", pruned, err)
	}
}

func TestImpactRollupIdempotentPerDay(t *testing.T) {
	w := testWorkspace(t)
	day := time.Date(2026, 7, 6, 12, 0, 0, 0, time.UTC) // a Monday
	entries := []ImpactEntry{
		{Label: "Expansion signal", Content: "Acme asked about the enterprise tier", MeetingTitle: "Acme QBR"},
		{Label: "Churn risk", Content: "Budget freeze mentioned", MeetingTitle: "Acme QBR", IsRisk: true},
	}

	if err := w.RollupImpact(day, entries); err != nil {
		t.Fatalf("rollup: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(w.Root(), impactPath(day)))
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	text := string(first)
	if !strings.Contains(text, "## Customer Outcomes") || !strings.Contains(text, "## Risk Management") {
		t.Fatal("missing H2 sections")
	}
	if !strings.Contains(text, "### Monday, Jul 6") {
		t.Errorf("missing day header:\n%s", text)
	}
	if !strings.Contains(text, "- **Expansion signal**: Acme asked about the enterprise tier *(from Acme QBR)*") {
		t.Errorf("missing outcome entry:\n%s", text)
	}
	// The risk entry must land in the risk section, after its header.
	riskIdx := strings.Index(text, "## Risk Management")
	if !strings.Contains(text[riskIdx:], "- **Churn risk**") {
		t.Errorf("risk entry not in risk section:\n%s", text)
	}

	// Second run for the same day changes nothing.
	if err := w.RollupImpact(day, entries); err != nil {
		t.Fatalf("second rollup: %v", err)
	}
	second, _ := os.ReadFile(filepath.Join(w.Root(), impactPath(day)))
	if string(second) != text {
		t.Errorf("rollup not idempotent:\nfirst:\n%s\nsecond:\n%s", text, second)
	}
}

func TestArchiveTodayRules(t *testing.T) {
	w := testWorkspace(t)
	day := time.Date(2026, 7, 6, 0, 0, 0, 0, time.UTC)

	// Missing _today/ is a no-op.
	moved, err := w.ArchiveToday(day)
	if err != nil || moved != 0 {
		t.Fatalf("missing dir got (%d, %v), want (0, nil)", moved, err)
	}

	today := filepath.Join(w.Root(), "_today")
	if err := os.MkdirAll(today, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for name, content := range map[string]string{
		"briefing.md": "# briefing",
		"week-27.md":  "# weekly",
		"notes.txt":   "plain",
		"actions.md":  "# actions",
	} {
		if err := os.WriteFile(filepath.Join(today, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	moved, err = w.ArchiveToday(day)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if moved != 2 {
		t.Fatalf("moved = %d, want 2 (briefing.md, actions.md)", moved)
	}
	if _, err := os.Stat(filepath.Join(today, "week-27.md")); err != nil {
		t.Error("week-*.md must never move")
	}
	if _, err := os.Stat(filepath.Join(today, "notes.txt")); err != nil {
		t.Error("non-md files must never move")
	}
	if _, err := os.Stat(filepath.Join(w.Root(), "_archive", "2026-07-06", "briefing.md")); err != nil {
		t.Error("briefing.md should be archived")
	}
}
