package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// classifierHeaders are the bulk-mail headers the triage classifier
// reads. They are not part of the IMAP envelope, so the fetch peeks
// them from the raw header.
var classifierHeaders = []string{"List-Unsubscribe", "Precedence"}

// FetchSince returns envelopes for every message with a UID strictly
// greater than since, in ascending UID order. No limit is applied: the
// poller must see every message that arrived between cycles.
func (c *Client) FetchSince(ctx context.Context, since uint32) ([]Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.openInbox(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{
		UID: []imap.UIDSet{{imap.UIDRange{Start: imap.UID(since + 1), Stop: 0}}},
	}
	search, err := c.imap.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("uid search: %w", err)
	}
	uids := search.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	var set imap.UIDSet
	for _, uid := range uids {
		set.AddNum(uid)
	}

	fetch := c.imap.Fetch(set, &imap.FetchOptions{
		UID:      true,
		Envelope: true,
		BodySection: []*imap.FetchItemBodySection{{
			Specifier:    imap.PartSpecifierHeader,
			HeaderFields: classifierHeaders,
			Peek:         true,
		}},
	})

	var out []Envelope
	for {
		msg := fetch.Next()
		if msg == nil {
			break
		}
		env, err := collectEnvelope(msg)
		if err != nil {
			c.logger.Debug("skipping message", "error", err)
			continue
		}
		out = append(out, env)
	}
	if err := fetch.Close(); err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}
	return out, nil
}

// LatestUID returns the highest UID currently in the inbox. ok is false
// when the mailbox is empty. The poller seeds its high-water mark from
// this so a first run never floods triage with the whole inbox.
func (c *Client) LatestUID(ctx context.Context) (uint32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.openInbox(); err != nil {
		return 0, false, err
	}
	search, err := c.imap.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return 0, false, fmt.Errorf("uid search: %w", err)
	}
	uids := search.AllUIDs()
	if len(uids) == 0 {
		return 0, false, nil
	}
	highest := uids[0]
	for _, uid := range uids[1:] {
		if uid > highest {
			highest = uid
		}
	}
	return uint32(highest), true, nil
}

// collectEnvelope drains one fetch response into an Envelope.
func collectEnvelope(msg *imapclient.FetchMessageData) (Envelope, error) {
	var env Envelope
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			env.UID = uint32(data.UID)
		case imapclient.FetchItemDataEnvelope:
			if e := data.Envelope; e != nil {
				env.Date = e.Date
				env.Subject = e.Subject
				if len(e.From) > 0 {
					env.From = formatAddress(e.From[0])
				}
				if len(e.InReplyTo) > 0 {
					env.ThreadID = e.InReplyTo[0]
				} else {
					env.ThreadID = e.MessageID
				}
			}
		case imapclient.FetchItemDataBodySection:
			if data.Literal == nil {
				continue
			}
			raw, err := io.ReadAll(data.Literal)
			if err != nil {
				continue
			}
			env.ListUnsubscribe, env.Precedence = parseClassifierHeaders(raw)
		}
	}
	if env.UID == 0 {
		return env, fmt.Errorf("fetch response missing UID")
	}
	return env, nil
}

// parseClassifierHeaders pulls List-Unsubscribe and Precedence out of a
// raw header-fields literal, honoring folded continuation lines.
func parseClassifierHeaders(raw []byte) (unsubscribe, precedence string) {
	var name, value string
	flush := func() {
		switch strings.ToLower(name) {
		case "list-unsubscribe":
			unsubscribe = strings.TrimSpace(value)
		case "precedence":
			precedence = strings.TrimSpace(value)
		}
		name, value = "", ""
	}
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			value += " " + string(bytes.TrimSpace(line))
			continue
		}
		flush()
		if i := bytes.IndexByte(line, ':'); i > 0 {
			name = string(line[:i])
			value = string(bytes.TrimSpace(line[i+1:]))
		}
	}
	flush()
	return unsubscribe, precedence
}
