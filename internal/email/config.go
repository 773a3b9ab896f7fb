package email

import "fmt"

// IMAPConfig holds IMAP server connection parameters for the single
// inbound account the daemon watches.
type IMAPConfig struct {
	// Host is the IMAP server hostname (e.g., "imap.gmail.com").
	Host string `yaml:"host"`

	// Port is the IMAP server port. Default: 993 (IMAPS).
	Port int `yaml:"port"`

	// Username is the IMAP login username (typically the email address).
	Username string `yaml:"username"`

	// Password is the IMAP login password. Supports environment variable
	// expansion via the config loader (e.g., ${IMAP_PASSWORD}).
	Password string `yaml:"password"`

	// TLS controls whether to use TLS for the connection. Default: true.
	// Set to false only for port 143 plaintext connections (not recommended).
	TLS bool `yaml:"tls"`
}

// Configured reports whether the minimum required IMAP configuration is
// present.
func (c IMAPConfig) Configured() bool {
	return c.Host != "" && c.Username != ""
}

// ApplyDefaults fills zero-value fields with sensible defaults.
func (c *IMAPConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 993
	}
	if !c.TLS && c.Port != 143 {
		c.TLS = true
	}
}

// Validate checks that the configuration is internally consistent.
func (c IMAPConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("imap.host is required")
	}
	if c.Username == "" {
		return fmt.Errorf("imap.username is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("imap.port %d out of range (1-65535)", c.Port)
	}
	return nil
}
