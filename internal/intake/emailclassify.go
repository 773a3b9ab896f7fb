package intake

import "strings"

// Email priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// highPrioritySubjectKeywords are urgency and revenue signals.
var highPrioritySubjectKeywords = []string{
	"urgent", "asap", "action required", "please respond", "deadline",
	"escalation", "critical",
	"renewal", "order form", "contract", "proposal", "invoice", "expansion",
	"churn", "cancellation", "cancel", "sow", "msa", "amendment", "pricing",
	"budget", "signature required", "docusign",
}

// lowPrioritySignals mark newsletters and automated mail in from/subject.
var lowPrioritySignals = []string{
	"newsletter", "digest", "notification", "automated", "noreply",
	"no-reply", "unsubscribe", "marketing", "promo", "promotions",
	"info@", "updates@", "news@", "do-not-reply", "donotreply", "notify",
	"mailer-daemon",
}

// bulkSenderDomains are transactional/marketing relay domains.
var bulkSenderDomains = map[string]bool{
	"mailchimp.com":   true,
	"sendgrid.net":    true,
	"mandrillapp.com": true,
	"hubspot.com":     true,
	"marketo.com":     true,
	"pardot.com":      true,
	"intercom.io":     true,
	"customer.io":     true,
	"mailgun.org":     true,
	"postmarkapp.com": true,
	"amazonses.com":   true,
}

// noreplyLocalParts are sender local parts that mark automated mail.
var noreplyLocalParts = map[string]bool{
	"noreply":       true,
	"no-reply":      true,
	"donotreply":    true,
	"do-not-reply":  true,
	"mailer-daemon": true,
}

// InboundEmail is the typed record the email adapter delivers. The body
// is read transiently for enrichment and never persisted.
type InboundEmail struct {
	ID              string
	UID             uint32 // adapter-local message identifier (IMAP UID)
	ThreadID        string
	From            string // raw From header, may include display name
	Subject         string
	Snippet         string
	ListUnsubscribe string
	Precedence      string
	ReceivedAt      string // RFC 3339
}

// ExtractEmailAddress pulls the bare address out of a From header like
// "Jane Doe <jane@customer.com>".
func ExtractEmailAddress(from string) string {
	if start := strings.Index(from, "<"); start >= 0 {
		if end := strings.Index(from, ">"); end > start {
			return strings.ToLower(from[start+1 : end])
		}
	}
	return strings.ToLower(strings.TrimSpace(from))
}

// ExtractDisplayName pulls the display name from a From header, or empty
// when there is none worth keeping (bare address, single token, quoted
// email).
func ExtractDisplayName(from string) string {
	trimmed := strings.TrimSpace(from)
	angle := strings.Index(trimmed, "<")
	if angle <= 0 {
		return ""
	}
	name := strings.TrimSpace(strings.Trim(strings.TrimSpace(trimmed[:angle]), `"`))
	if name == "" || strings.Contains(name, "@") || !strings.Contains(name, " ") {
		return ""
	}
	return name
}

// ExtractDomain returns the lowercased domain of an email address.
func ExtractDomain(addr string) string {
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		return strings.ToLower(addr[at+1:])
	}
	return ""
}

// ClassifyEmailPriority runs the three-tier, first-match classifier.
// customerDomains comes from today's meeting attendees; accountHints is
// lowercased known-account slugs.
func ClassifyEmailPriority(email InboundEmail, customerDomains map[string]bool, userDomains []string, accountHints map[string]bool) string {
	fromAddr := ExtractEmailAddress(email.From)
	domain := ExtractDomain(fromAddr)
	subjectLower := strings.ToLower(email.Subject)

	// High: customer domains from today's meetings.
	if customerDomains[domain] {
		return PriorityHigh
	}

	// High: sender domain matches a known account.
	if domain != "" && len(accountHints) > 0 {
		base := domain
		if dot := strings.Index(domain, "."); dot > 0 {
			base = domain[:dot]
		}
		for hint := range accountHints {
			if hint == base || (len(hint) >= 4 && strings.Contains(base, hint)) {
				return PriorityHigh
			}
		}
	}

	// High: urgency keywords in subject.
	for _, kw := range highPrioritySubjectKeywords {
		if strings.Contains(subjectLower, kw) {
			return PriorityHigh
		}
	}

	// Low: newsletters, automated, GitHub.
	fromLower := strings.ToLower(email.From)
	for _, signal := range lowPrioritySignals {
		if strings.Contains(fromLower, signal) || strings.Contains(subjectLower, signal) {
			return PriorityLow
		}
	}
	if strings.Contains(domain, "github.com") {
		return PriorityLow
	}

	// Low: bulk-mail headers and relay domains.
	if email.ListUnsubscribe != "" {
		return PriorityLow
	}
	precedence := strings.ToLower(email.Precedence)
	if precedence == "bulk" || precedence == "list" {
		return PriorityLow
	}
	if bulkSenderDomains[domain] {
		return PriorityLow
	}
	if at := strings.Index(fromAddr, "@"); at > 0 && noreplyLocalParts[fromAddr[:at]] {
		return PriorityLow
	}

	// Medium: internal colleagues, meeting chatter, everything else.
	for _, d := range userDomains {
		if domain == strings.ToLower(strings.TrimSpace(d)) {
			return PriorityMedium
		}
	}
	return PriorityMedium
}
