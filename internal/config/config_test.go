package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
user_domains:
  - ourco.com
workspace:
  path: /tmp/ws
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen.Port != 8799 {
		t.Errorf("port = %d, want default 8799", cfg.Listen.Port)
	}
	if cfg.Profile != "cs" {
		t.Errorf("profile = %q, want cs", cfg.Profile)
	}
	if cfg.Schedules.HygieneIntervalSecs != 4*60*60 {
		t.Errorf("hygiene interval = %d, want 4h", cfg.Schedules.HygieneIntervalSecs)
	}
	if len(cfg.UserDomains) != 1 || cfg.UserDomains[0] != "ourco.com" {
		t.Errorf("user domains = %v", cfg.UserDomains)
	}
	if !cfg.Workspace.Configured() {
		t.Error("workspace should be configured")
	}
}

func TestLoadToleratesUnknownFields(t *testing.T) {
	path := writeConfig(t, `
listen:
  port: 9000
some_future_feature:
  nested: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unknown fields must be tolerated: %v", err)
	}
	if cfg.Listen.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Listen.Port)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_IMAP_PASSWORD", "s3cret")
	path := writeConfig(t, `
email:
  host: imap.example.com
  username: me@example.com
  password: ${TEST_IMAP_PASSWORD}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Email.Password != "s3cret" {
		t.Errorf("password = %q, want expanded", cfg.Email.Password)
	}
	if !cfg.Email.Configured() {
		t.Error("email should be configured")
	}
	if cfg.Email.Port != 993 || !cfg.Email.TLS {
		t.Errorf("email defaults: port=%d tls=%v", cfg.Email.Port, cfg.Email.TLS)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	path := writeConfig(t, `
listen:
  port: 99999
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for out-of-range port")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, `log_level: shouty`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown log level")
	}
}

func TestFindConfigExplicitMustExist(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoadOrDefaultWithoutFile(t *testing.T) {
	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("load or default: %v", err)
	}
	if cfg.Listen.Port != 8799 {
		t.Errorf("default port = %d", cfg.Listen.Port)
	}
	if filepath.Base(cfg.DatabasePath()) != "dailyos.db" {
		t.Errorf("db path = %q", cfg.DatabasePath())
	}
}

func TestUnconfiguredAdapters(t *testing.T) {
	cfg := Default()
	if cfg.Calendar.Configured() || cfg.Email.Configured() || cfg.Clay.Configured() ||
		cfg.Quill.Configured() || cfg.Granola.Configured() || cfg.Issues.Configured() ||
		cfg.AI.Configured() || cfg.MQTT.Configured() {
		t.Error("no adapter should be configured by default")
	}
}
