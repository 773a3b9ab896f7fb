// Package config handles dailyos daemon configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/dailyos/config.yaml, /config/config.yaml,
// /etc/dailyos/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "dailyos", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/dailyos/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all daemon configuration. Unknown YAML keys are tolerated
// on read for forward compatibility.
type Config struct {
	Listen      ListenConfig     `yaml:"listen"`
	DataDir     string           `yaml:"data_dir"`
	Workspace   WorkspaceConfig  `yaml:"workspace"`
	UserDomains []string         `yaml:"user_domains"`
	Profile     string           `yaml:"profile"` // cs, sales, pm
	Calendar    CalendarConfig   `yaml:"calendar"`
	Email       EmailConfig      `yaml:"email"`
	Clay        ClayConfig       `yaml:"clay"`
	Gravatar    GravatarConfig   `yaml:"gravatar"`
	Quill       QuillConfig      `yaml:"quill"`
	Granola     GranolaConfig    `yaml:"granola"`
	Issues      IssuesConfig     `yaml:"issues"`
	AI          AIConfig         `yaml:"ai"`
	Embeddings  EmbeddingsConfig `yaml:"embeddings"`
	MQTT        MQTTConfig       `yaml:"mqtt"`
	Schedules   SchedulesConfig  `yaml:"schedules"`
	LogLevel    string           `yaml:"log_level"`
	Debug       bool             `yaml:"debug"`
}

// ListenConfig defines the GUI-host API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: 127.0.0.1)
	Port    int    `yaml:"port"`    // Default: 8799
}

// WorkspaceConfig defines the on-disk workspace that is the durable
// ground truth for human-editable artifacts.
type WorkspaceConfig struct {
	// Path is the workspace root. Empty disables artifact writing.
	Path string `yaml:"path"`
}

// Configured reports whether a workspace root is set.
func (w WorkspaceConfig) Configured() bool { return w.Path != "" }

// CalendarConfig defines the CalDAV calendar poller.
type CalendarConfig struct {
	URL              string `yaml:"url"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	PollIntervalSecs int    `yaml:"poll_interval_secs"`
}

// Configured reports whether the calendar poller should run.
func (c CalendarConfig) Configured() bool { return c.URL != "" }

// EmailConfig defines the IMAP email fetcher.
type EmailConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	TLS              bool   `yaml:"tls"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	PollIntervalSecs int    `yaml:"poll_interval_secs"`
}

// Configured reports whether the email fetcher should run.
func (e EmailConfig) Configured() bool { return e.Host != "" && e.Username != "" }

// ClayConfig defines the profile-enrichment poller.
type ClayConfig struct {
	APIKey            string `yaml:"api_key"`
	BaseURL           string `yaml:"base_url"`
	SweepIntervalSecs int    `yaml:"sweep_interval_secs"`
	PerSweepCap       int    `yaml:"per_sweep_cap"`
}

// Configured reports whether profile enrichment should run.
func (c ClayConfig) Configured() bool { return c.APIKey != "" }

// GravatarConfig defines the avatar batch fetcher.
type GravatarConfig struct {
	Enabled bool `yaml:"enabled"`
}

// QuillConfig defines the local transcript ingestor.
type QuillConfig struct {
	TranscriptDir    string `yaml:"transcript_dir"`
	PollIntervalSecs int    `yaml:"poll_interval_secs"`
	WorkHoursOnly    bool   `yaml:"work_hours_only"`
}

// Configured reports whether the local transcript ingestor should run.
func (q QuillConfig) Configured() bool { return q.TranscriptDir != "" }

// GranolaConfig defines the cache-based transcript ingestor.
type GranolaConfig struct {
	CachePath        string `yaml:"cache_path"`
	PollIntervalSecs int    `yaml:"poll_interval_secs"`
}

// Configured reports whether the cache ingestor should run.
func (g GranolaConfig) Configured() bool { return g.CachePath != "" }

// IssuesConfig defines the profile-graph issues poller.
type IssuesConfig struct {
	Token            string `yaml:"token"`
	Owner            string `yaml:"owner"`
	Repo             string `yaml:"repo"`
	PollIntervalSecs int    `yaml:"poll_interval_secs"`
}

// Configured reports whether the issues poller should run.
func (i IssuesConfig) Configured() bool { return i.Token != "" && i.Repo != "" }

// AIConfig defines the generative-AI adapter and its hygiene budget.
type AIConfig struct {
	Command       string            `yaml:"command"` // subprocess to invoke
	ModelTiers    map[string]string `yaml:"model_tiers"`
	HygieneBudget int               `yaml:"hygiene_budget"` // enrichments per pass
}

// Configured reports whether AI enrichment should run.
func (a AIConfig) Configured() bool { return a.Command != "" }

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`    // e.g. nomic-embed-text
	BaseURL string `yaml:"base_url"` // Ollama URL
}

// MQTTConfig defines the loopback wake/notification transport.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	TopicRoot string `yaml:"topic_root"`
}

// Configured reports whether MQTT publishing should run.
func (m MQTTConfig) Configured() bool { return m.BrokerURL != "" }

// SchedulesConfig holds loop intervals for background tasks that are not
// adapter-specific.
type SchedulesConfig struct {
	HygieneIntervalSecs    int `yaml:"hygiene_interval_secs"`
	ResolutionIntervalSecs int `yaml:"resolution_interval_secs"`
	BackupIntervalSecs     int `yaml:"backup_interval_secs"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable without
// additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}, ${IMAP_PASSWORD}).
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads the config found by FindConfig, or returns the
// default config when nothing exists on the search path and no explicit
// path was demanded.
func LoadOrDefault(explicit string) (*Config, error) {
	path, err := FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, err
		}
		return Default(), nil
	}
	return Load(path)
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Address == "" {
		c.Listen.Address = "127.0.0.1"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8799
	}
	if c.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(home, ".dailyos")
		} else {
			c.DataDir = ".dailyos"
		}
	}
	if c.Profile == "" {
		c.Profile = "cs"
	}
	if c.Calendar.PollIntervalSecs == 0 {
		c.Calendar.PollIntervalSecs = 300
	}
	if c.Email.PollIntervalSecs == 0 {
		c.Email.PollIntervalSecs = 300
	}
	if c.Email.Port == 0 {
		c.Email.Port = 993
		c.Email.TLS = true
	}
	if c.Clay.SweepIntervalSecs == 0 {
		c.Clay.SweepIntervalSecs = 3600
	}
	if c.Clay.PerSweepCap == 0 {
		c.Clay.PerSweepCap = 10
	}
	if c.Quill.PollIntervalSecs == 0 {
		c.Quill.PollIntervalSecs = 60
	}
	if c.Granola.PollIntervalSecs == 0 {
		c.Granola.PollIntervalSecs = 120
	}
	if c.Issues.PollIntervalSecs == 0 {
		c.Issues.PollIntervalSecs = 600
	}
	if c.AI.HygieneBudget == 0 {
		c.AI.HygieneBudget = 20
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "nomic-embed-text"
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = "http://localhost:11434"
	}
	if c.MQTT.TopicRoot == "" {
		c.MQTT.TopicRoot = "dailyos"
	}
	if c.Schedules.HygieneIntervalSecs == 0 {
		c.Schedules.HygieneIntervalSecs = 4 * 60 * 60
	}
	if c.Schedules.ResolutionIntervalSecs == 0 {
		c.Schedules.ResolutionIntervalSecs = 5 * 60
	}
	if c.Schedules.BackupIntervalSecs == 0 {
		c.Schedules.BackupIntervalSecs = 24 * 60 * 60
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Email.Configured() && (c.Email.Port < 1 || c.Email.Port > 65535) {
		return fmt.Errorf("email.port %d out of range (1-65535)", c.Email.Port)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for a fresh local
// install. All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// DatabasePath returns the SQLite database location under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "dailyos.db")
}

// BackupPath returns the scheduled backup location.
func (c *Config) BackupPath() string {
	return filepath.Join(c.DataDir, "dailyos.db.bak")
}

// PreMigrationBackupPath returns the automatic pre-migration backup
// location.
func (c *Config) PreMigrationBackupPath() string {
	return filepath.Join(c.DataDir, "dailyos.db.pre-migration.bak")
}

// AvatarDir returns where fetched avatars are cached.
func (c *Config) AvatarDir() string {
	return filepath.Join(c.DataDir, "avatars")
}
