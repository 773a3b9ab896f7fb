package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Client is a single-account IMAP reader. A mutex serializes every
// command because one underlying connection backs them all; the
// connection is dialed lazily and re-dialed when a liveness check
// fails.
type Client struct {
	cfg    IMAPConfig
	logger *slog.Logger

	mu   sync.Mutex
	imap *imapclient.Client
}

// NewClient builds a client for the configured account. No connection
// is made until the first command.
func NewClient(cfg IMAPConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger}
}

// Connect dials and authenticates eagerly.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redial()
}

// Ping verifies the connection is alive, reconnecting if needed. The
// orchestrator's connection watcher probes through this.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensure()
}

// Close drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.imap == nil {
		return nil
	}
	err := c.imap.Close()
	c.imap = nil
	return err
}

// ensure reuses a live connection or re-dials. Caller holds c.mu.
func (c *Client) ensure() error {
	if c.imap != nil {
		if err := c.imap.Noop().Wait(); err == nil {
			return nil
		}
		c.logger.Debug("imap connection stale, reconnecting", "host", c.cfg.Host)
	}
	return c.redial()
}

// redial replaces the connection. Caller holds c.mu.
func (c *Client) redial() error {
	if c.imap != nil {
		_ = c.imap.Close()
		c.imap = nil
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	c.logger.Debug("dialing imap", "addr", addr, "tls", c.cfg.TLS)

	var conn *imapclient.Client
	var err error
	if c.cfg.TLS {
		conn, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: c.cfg.Host},
		})
	} else {
		conn, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("dial imap %s: %w", addr, err)
	}
	if err := conn.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("imap login as %s: %w", c.cfg.Username, err)
	}

	c.imap = conn
	c.logger.Info("imap connected", "host", c.cfg.Host, "user", c.cfg.Username)
	return nil
}

// openInbox connects and selects INBOX. Caller holds c.mu.
func (c *Client) openInbox() error {
	if err := c.ensure(); err != nil {
		return err
	}
	if _, err := c.imap.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("select INBOX: %w", err)
	}
	return nil
}

// formatAddress renders an IMAP address as "Name <user@host>" or the
// bare address.
func formatAddress(addr imap.Address) string {
	email := addr.Addr()
	if addr.Name != "" {
		return addr.Name + " <" + email + ">"
	}
	return email
}
