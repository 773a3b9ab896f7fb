// Package email fetches inbound mail over IMAP and delivers it as the
// typed records the triage pipeline consumes. Reading only: the daemon
// ingests email, it never sends any, and it never marks the user's
// messages seen.
package email

import "time"

// Envelope is the per-message metadata the poller hands to triage. The
// bulk-header fields back the noise classifier; ThreadID ties replies
// to post-meeting correlation.
type Envelope struct {
	// UID is the IMAP unique identifier within the inbox.
	UID uint32

	// Date is the message's Date header.
	Date time.Time

	// From is the sender, "Name <addr>" or a bare address.
	From string

	// Subject is the subject line.
	Subject string

	// ThreadID is the first In-Reply-To message ID, or the message's
	// own Message-ID for a thread starter.
	ThreadID string

	// ListUnsubscribe carries the List-Unsubscribe header when present;
	// its presence marks bulk mail.
	ListUnsubscribe string

	// Precedence carries the Precedence header (bulk, list, junk).
	Precedence string
}

// Message is a fully-fetched email with its text body extracted from
// the MIME structure.
type Message struct {
	UID      uint32
	From     string
	Subject  string
	TextBody string
}
