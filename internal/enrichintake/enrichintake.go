// Package enrichintake defines the typed records profile-enrichment
// providers deliver and the adapters that fetch them: a JSON/vCard HTTP
// client for the enrichment provider and a Gravatar avatar fetcher. The
// providers themselves are out of scope; only the
// PersonEnrichment shape is contractual.
package enrichintake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-vcard"

	"github.com/jamesgiroux/dailyos-core/internal/httpkit"
)

// PersonEnrichment is the typed record a provider answers with.
type PersonEnrichment struct {
	Email         string `json:"email"`
	FullName      string `json:"full_name,omitempty"`
	Title         string `json:"title,omitempty"`
	Organization  string `json:"organization,omitempty"`
	LinkedinURL   string `json:"linkedin_url,omitempty"`
	TwitterHandle string `json:"twitter_handle,omitempty"`
	Bio           string `json:"bio,omitempty"`
	PhotoURL      string `json:"photo_url,omitempty"`
	Departed      bool   `json:"departed,omitempty"`
}

// Config identifies the enrichment provider endpoint.
type Config struct {
	APIKey  string
	BaseURL string
}

// Client fetches enrichment records over HTTP. Providers answer either
// JSON or a vCard payload; both map to PersonEnrichment.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewClient creates an enrichment client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		client: httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
		logger: logger,
	}
}

// Lookup fetches the enrichment record for one email address.
func (c *Client) Lookup(ctx context.Context, email string) (*PersonEnrichment, error) {
	url := fmt.Sprintf("%s/v1/people/lookup?email=%s", strings.TrimRight(c.cfg.BaseURL, "/"), email)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json, text/vcard")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("enrichment provider returned status %d: %s", resp.StatusCode, errBody)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "vcard") {
		return ParseVCard(body, email)
	}

	var enrichment PersonEnrichment
	if err := json.Unmarshal(body, &enrichment); err != nil {
		return nil, fmt.Errorf("parse enrichment JSON: %w", err)
	}
	if enrichment.Email == "" {
		enrichment.Email = email
	}
	return &enrichment, nil
}

// ParseVCard maps a vCard payload to a PersonEnrichment. Providers that
// answer with contact cards (or user-dropped .vcf imports) go through
// this path.
func ParseVCard(data []byte, fallbackEmail string) (*PersonEnrichment, error) {
	dec := vcard.NewDecoder(bytes.NewReader(data))
	card, err := dec.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode vcard: %w", err)
	}

	enrichment := &PersonEnrichment{Email: fallbackEmail}
	if v := card.PreferredValue(vcard.FieldEmail); v != "" {
		enrichment.Email = strings.ToLower(v)
	}
	enrichment.FullName = card.PreferredValue(vcard.FieldFormattedName)
	enrichment.Title = card.PreferredValue(vcard.FieldTitle)
	enrichment.Organization = card.PreferredValue(vcard.FieldOrganization)
	enrichment.PhotoURL = card.PreferredValue(vcard.FieldPhoto)
	enrichment.Bio = card.PreferredValue(vcard.FieldNote)

	for _, field := range card[vcard.FieldURL] {
		lower := strings.ToLower(field.Value)
		switch {
		case strings.Contains(lower, "linkedin.com"):
			enrichment.LinkedinURL = field.Value
		case strings.Contains(lower, "twitter.com"), strings.Contains(lower, "x.com"):
			enrichment.TwitterHandle = field.Value
		}
	}
	return enrichment, nil
}
