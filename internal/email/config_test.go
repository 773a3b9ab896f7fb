package email

import "testing"

func TestIMAPConfigConfigured(t *testing.T) {
	cases := []struct {
		name string
		cfg  IMAPConfig
		want bool
	}{
		{"empty", IMAPConfig{}, false},
		{"host only", IMAPConfig{Host: "imap.example.com"}, false},
		{"host and user", IMAPConfig{Host: "imap.example.com", Username: "me@example.com"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.Configured(); got != tc.want {
				t.Errorf("Configured() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIMAPConfigApplyDefaults(t *testing.T) {
	cfg := IMAPConfig{Host: "imap.example.com", Username: "me@example.com"}
	cfg.ApplyDefaults()
	if cfg.Port != 993 {
		t.Errorf("port = %d, want 993", cfg.Port)
	}
	if !cfg.TLS {
		t.Error("TLS should default on")
	}
}

func TestIMAPConfigApplyDefaultsPort143(t *testing.T) {
	cfg := IMAPConfig{Host: "imap.example.com", Username: "me@example.com", Port: 143}
	cfg.ApplyDefaults()
	if cfg.TLS {
		t.Error("port 143 keeps TLS off")
	}
}

func TestIMAPConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     IMAPConfig
		wantErr bool
	}{
		{"valid", IMAPConfig{Host: "h", Username: "u", Port: 993}, false},
		{"missing host", IMAPConfig{Username: "u", Port: 993}, true},
		{"missing user", IMAPConfig{Host: "h", Port: 993}, true},
		{"bad port", IMAPConfig{Host: "h", Username: "u", Port: 99999}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
