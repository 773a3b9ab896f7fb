// Package intake classifies and enriches inbound calendar events and
// emails: the meeting-type decision tree, the three-tier
// email classifier, AI-assisted email enrichment and action extraction,
// post-meeting correlation, and the email-cadence histograms.
package intake

import (
	"sort"
	"strings"
)

// Meeting types the classifier assigns.
const (
	TypePersonal = "personal"
	TypeAllHands = "all_hands"
	TypeQBR      = "qbr"
	TypeTraining = "training"
	TypeOneOnOne = "one_on_one"
	TypeTeamSync = "team_sync"
	TypeInternal = "internal"
	TypeCustomer = "customer"
)

// allHandsThreshold is the attendee count that forces all_hands.
const allHandsThreshold = 50

// personalEmailDomains are provider domains not tied to any organization.
var personalEmailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"outlook.com":    true,
	"hotmail.com":    true,
	"yahoo.com":      true,
	"icloud.com":     true,
	"me.com":         true,
	"live.com":       true,
}

// CalendarEvent is the typed record the calendar adapter delivers.
type CalendarEvent struct {
	ID          string
	Title       string
	Description string
	Start       string // RFC 3339
	End         string
	Attendees   []string
	Organizer   string
	IsRecurring bool
	IsAllDay    bool
}

// Classified is a calendar event with its inferred meeting type and, when
// external domains matched a known account hint, the account slug.
type Classified struct {
	CalendarEvent
	MeetingType     string
	Account         string
	ExternalDomains []string
}

// ClassifyMeeting applies the first-match-wins decision tree.
// userDomains is the set of the user's own email domains; accountHints
// is lowercased slugs of known accounts.
func ClassifyMeeting(event CalendarEvent, userDomains []string, accountHints map[string]bool) Classified {
	titleLower := strings.ToLower(event.Title)
	attendeeCount := len(event.Attendees)

	result := Classified{CalendarEvent: event, MeetingType: TypeInternal}

	// Rule 1: nobody else invited.
	if attendeeCount <= 1 {
		result.MeetingType = TypePersonal
		return result
	}

	// Rule 2: scale override.
	if attendeeCount >= allHandsThreshold {
		result.MeetingType = TypeAllHands
		return result
	}

	// Rule 3: all-hands title keywords.
	if containsAny(titleLower, "all hands", "all-hands", "town hall") {
		result.MeetingType = TypeAllHands
		return result
	}

	// Rule 4: title overrides that still need the domain split below.
	var titleOverride string
	switch {
	case containsAny(titleLower, "qbr", "business review", "quarterly review"):
		titleOverride = TypeQBR
	case containsAny(titleLower, "training", "enablement", "workshop"):
		titleOverride = TypeTraining
	case containsAny(titleLower, "1:1", "1-1", "one on one", "1-on-1"):
		titleOverride = TypeOneOnOne
	}

	// Rule 5: partition attendees into internal vs external.
	var external []string
	for _, a := range event.Attendees {
		lower := strings.ToLower(a)
		if !strings.Contains(lower, "@") {
			continue
		}
		if len(userDomains) == 0 || !hasAnyDomain(lower, userDomains) {
			external = append(external, lower)
		}
	}

	externalDomains := make(map[string]bool)
	for _, a := range external {
		if at := strings.LastIndex(a, "@"); at >= 0 {
			externalDomains[a[at+1:]] = true
		}
	}

	// Rule 6: all-internal path.
	if len(external) == 0 {
		if titleOverride == TypeOneOnOne || attendeeCount == 2 {
			if titleOverride != "" {
				result.MeetingType = titleOverride
			} else {
				result.MeetingType = TypeOneOnOne
			}
			return result
		}
		if titleOverride != "" {
			result.MeetingType = titleOverride
			return result
		}
		if event.IsRecurring && containsAny(titleLower, "sync", "standup", "stand-up", "scrum", "daily", "weekly") {
			result.MeetingType = TypeTeamSync
			return result
		}
		result.MeetingType = TypeInternal
		return result
	}

	// Rule 7: external path. All-personal external domains → personal.
	allPersonal := len(externalDomains) > 0
	for d := range externalDomains {
		if !personalEmailDomains[d] {
			allPersonal = false
			break
		}
	}
	if allPersonal {
		result.MeetingType = TypePersonal
		return result
	}

	for d := range externalDomains {
		result.ExternalDomains = append(result.ExternalDomains, d)
	}
	sort.Strings(result.ExternalDomains)

	// Match external domains against account keyword hints.
	result.Account = matchAccountHint(externalDomains, accountHints)

	switch {
	case titleOverride != "":
		result.MeetingType = titleOverride
	case attendeeCount == 2:
		result.MeetingType = TypeOneOnOne
	default:
		result.MeetingType = TypeCustomer
	}
	return result
}

// matchAccountHint matches the base label of each external domain against
// known account slugs.
func matchAccountHint(domains map[string]bool, hints map[string]bool) string {
	for domain := range domains {
		base := domain
		if dot := strings.Index(domain, "."); dot > 0 {
			base = domain[:dot]
		}
		for hint := range hints {
			if hint == base || (len(hint) >= 4 && strings.Contains(base, hint)) {
				return hint
			}
		}
	}
	return ""
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func hasAnyDomain(email string, domains []string) bool {
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" && strings.HasSuffix(email, "@"+d) {
			return true
		}
	}
	return false
}
