package email

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jamesgiroux/dailyos-core/internal/opstate"
)

func testOpstate(t *testing.T) *opstate.Store {
	t.Helper()
	s, err := opstate.NewStore(filepath.Join(t.TempDir(), "opstate_test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPoller(t *testing.T) *Poller {
	t.Helper()
	cfg := IMAPConfig{Host: "imap.example.com", Username: "me@example.com", Port: 993, TLS: true}
	return NewPoller(NewClient(cfg, slog.Default()), cfg, testOpstate(t), slog.Default())
}

func TestAdvanceHighWaterMarkIncreases(t *testing.T) {
	p := testPoller(t)
	key := "me@example.com:INBOX"

	messages := []Envelope{{UID: 105}, {UID: 112}, {UID: 108}}
	if err := p.advanceHighWaterMark(key, 100, messages); err != nil {
		t.Fatalf("advance: %v", err)
	}
	got, err := p.state.Get("email_poll", key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "112" {
		t.Errorf("mark = %q, want 112 (highest of unordered set)", got)
	}
}

func TestAdvanceHighWaterMarkNeverDecreases(t *testing.T) {
	p := testPoller(t)
	key := "me@example.com:INBOX"

	if err := p.state.Set("email_poll", key, "200"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := p.advanceHighWaterMark(key, 200, []Envelope{{UID: 150}}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	got, _ := p.state.Get("email_poll", key)
	if got != "200" {
		t.Errorf("mark = %q, must not decrease from 200", got)
	}
}

func TestAdvanceHighWaterMarkEmpty(t *testing.T) {
	p := testPoller(t)
	key := "me@example.com:INBOX"
	if err := p.advanceHighWaterMark(key, 50, nil); err != nil {
		t.Fatalf("advance: %v", err)
	}
	got, _ := p.state.Get("email_poll", key)
	if got != "" {
		t.Errorf("mark = %q, want unset for empty fetch", got)
	}
}

func TestExtractAddress(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Jane Doe <jane@example.com>", "jane@example.com"},
		{"jane@example.com", "jane@example.com"},
		{"  padded@example.com  ", "padded@example.com"},
	}
	for _, tc := range cases {
		if got := extractAddress(tc.in); got != tc.want {
			t.Errorf("extractAddress(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
