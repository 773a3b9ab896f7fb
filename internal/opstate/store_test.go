package opstate

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "opstate.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissingIsEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Get("email_poll", "me@ourco.com:INBOX")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set("email_poll", "mark", "4012"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get("email_poll", "mark")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "4012" {
		t.Errorf("got %q, want 4012", got)
	}
}

func TestSetOverwrites(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set("issues", "cursor", "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("issues", "cursor", "b"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Get("issues", "cursor"); got != "b" {
		t.Errorf("got %q, want b", got)
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set("email_poll", "mark", "100"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("issues", "mark", "200"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Get("email_poll", "mark"); got != "100" {
		t.Errorf("email_poll mark = %q", got)
	}
	if got, _ := s.Get("issues", "mark"); got != "200" {
		t.Errorf("issues mark = %q", got)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set("email_poll", "mark", "9"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("email_poll", "mark"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := s.Get("email_poll", "mark"); got != "" {
		t.Errorf("value survived delete: %q", got)
	}
	// Deleting again is fine.
	if err := s.Delete("email_poll", "mark"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opstate.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("email_poll", "mark", "77"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if got, _ := s2.Get("email_poll", "mark"); got != "77" {
		t.Errorf("got %q after reopen, want 77", got)
	}
}
