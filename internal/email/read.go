package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// maxBodyBytes caps the extracted text body; enrichment prompts never
// need more.
const maxBodyBytes = 32 * 1024

// maxRawBytes caps how much of the raw RFC822 literal is buffered.
// Anything beyond (large attachments) is drained unread so the IMAP
// stream stays in sync.
const maxRawBytes = 5 * 1024 * 1024

// ReadMessage fetches one message by UID and extracts its text body.
// The fetch peeks: a background ingester must not flip the user's
// unread flags.
func (c *Client) ReadMessage(ctx context.Context, uid uint32) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.openInbox(); err != nil {
		return nil, err
	}

	var set imap.UIDSet
	set.AddNum(imap.UID(uid))
	fetch := c.imap.Fetch(set, &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{{Peek: true}},
	})

	data := fetch.Next()
	if data == nil {
		_ = fetch.Close()
		return nil, fmt.Errorf("message uid %d not found", uid)
	}

	msg := &Message{}
	var raw []byte
	for {
		item := data.Next()
		if item == nil {
			break
		}
		switch it := item.(type) {
		case imapclient.FetchItemDataUID:
			msg.UID = uint32(it.UID)
		case imapclient.FetchItemDataEnvelope:
			if e := it.Envelope; e != nil {
				msg.Subject = e.Subject
				if len(e.From) > 0 {
					msg.From = formatAddress(e.From[0])
				}
			}
		case imapclient.FetchItemDataBodySection:
			if it.Literal == nil {
				continue
			}
			// Consume the literal now: the client streams it from the
			// connection, and advancing past it discards the bytes.
			buf, err := io.ReadAll(io.LimitReader(it.Literal, maxRawBytes))
			_, _ = io.Copy(io.Discard, it.Literal)
			if err != nil {
				c.logger.Debug("body literal read failed", "uid", uid, "error", err)
				continue
			}
			raw = buf
		}
	}
	if err := fetch.Close(); err != nil {
		return nil, fmt.Errorf("fetch uid %d: %w", uid, err)
	}

	if raw != nil {
		if err := extractTextBody(msg, bytes.NewReader(raw)); err != nil {
			c.logger.Debug("body parse failed", "uid", uid, "error", err)
		}
	}
	return msg, nil
}

// extractTextBody walks the MIME structure and fills msg.TextBody from
// the first text/plain part, falling back to a tag-stripped text/html
// part when no plain part exists.
//
// go-message may hand back a usable reader or part together with an
// unknown-charset error; those are tolerated — slightly garbled text
// still triages fine.
func extractTextBody(msg *Message, r io.Reader) error {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return fmt.Errorf("open mail reader: %w", err)
	}
	if mr == nil {
		return fmt.Errorf("open mail reader: %w", err)
	}

	var plain, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return fmt.Errorf("next part: %w", err)
		}
		if part == nil {
			continue
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue // attachments and anything else
		}
		contentType, _, _ := inline.ContentType()
		switch {
		case contentType == "text/plain" && plain == "":
			plain = readBounded(part.Body)
		case contentType == "text/html" && html == "":
			html = readBounded(part.Body)
		}
	}

	if plain != "" {
		msg.TextBody = plain
	} else if html != "" {
		msg.TextBody = stripTags(html)
	}
	return nil
}

// readBounded reads a body part up to maxBodyBytes, marking truncation.
func readBounded(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return ""
	}
	text := string(body)
	if len(body) > maxBodyBytes {
		text = text[:maxBodyBytes] + "\n\n[truncated]"
	}
	return strings.TrimSpace(text)
}

// stripTags reduces an HTML body to its text content: tags drop,
// block-level closers become line breaks, runs of blank lines collapse.
func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	lines := strings.Split(b.String(), "\n")
	var out []string
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
