package resolver

import (
	"strings"

	"golang.org/x/net/idna"

	"github.com/jamesgiroux/dailyos-core/internal/embeddings"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

// gatherProposals runs the six signal producers against a calendar event.
// Each producer independently yields zero or more proposals; fusion
// happens later, per candidate entity.
func (r *Resolver) gatherProposals(event MeetingEvent) []proposal {
	var out []proposal
	out = append(out, r.produceAttendeeEmail(event)...)
	out = append(out, r.produceAttendeeVote(event)...)
	out = append(out, r.produceTitleKeyword(event)...)
	out = append(out, r.produceKeywordHints(event)...)
	out = append(out, r.produceGroupPattern(event)...)
	out = append(out, r.produceEmbedding(event)...)
	return out
}

// produceAttendeeEmail looks up the owning account for each non-user
// attendee domain, weighting by how many attendees share it.
func (r *Resolver) produceAttendeeEmail(event MeetingEvent) []proposal {
	domainCount := make(map[string]int)
	for _, email := range cleanEmails(event.Attendees) {
		d := normalizeDomain(emailDomain(email))
		if d == "" || r.isUserDomain(d) {
			continue
		}
		domainCount[d]++
	}

	var out []proposal
	for domain, count := range domainCount {
		accounts, err := r.entities.LookupAccountsByAnyDomain(domain)
		if err != nil {
			r.logger.Warn("domain lookup failed", "domain", domain, "error", err)
			continue
		}
		confidence := minF(0.92, 0.75+0.05*float64(count))
		for _, a := range accounts {
			out = append(out, proposal{
				kind:       signalbus.EntityAccount,
				entityID:   a.ID,
				confidence: confidence,
				source:     signalbus.SourceAttendeeEmail,
			})
		}
	}
	return out
}

// produceAttendeeVote counts how many attendees are known people linked to
// an entity; each linked entity collects one vote per attendee.
func (r *Resolver) produceAttendeeVote(event MeetingEvent) []proposal {
	type key struct {
		kind signalbus.EntityKind
		id   string
	}
	votes := make(map[key]int)
	for _, email := range cleanEmails(event.Attendees) {
		person, err := r.entities.FindPersonByEmail(email)
		if err != nil {
			continue
		}
		refs, err := r.entities.PersonEntities(person.ID)
		if err != nil {
			continue
		}
		for _, ref := range refs {
			votes[key{signalbus.EntityKind(ref.Kind), ref.ID}]++
		}
	}

	var out []proposal
	for k, n := range votes {
		out = append(out, proposal{
			kind:       k.kind,
			entityID:   k.id,
			confidence: minF(0.85, 0.55+0.1*float64(n)),
			source:     signalbus.SourceAttendeeVote,
		})
	}
	return out
}

// produceTitleKeyword matches account names and id slugs against the
// meeting title.
func (r *Resolver) produceTitleKeyword(event MeetingEvent) []proposal {
	title := strings.ToLower(event.Title)
	if title == "" {
		return nil
	}
	accounts, err := r.entities.ListAccounts(false)
	if err != nil {
		return nil
	}

	var out []proposal
	for _, a := range accounts {
		name := strings.ToLower(a.Name)
		slug := strings.ToLower(a.ID)
		if (len(name) >= 3 && strings.Contains(title, name)) ||
			(len(slug) >= 3 && strings.Contains(title, slug)) {
			out = append(out, proposal{
				kind:       signalbus.EntityAccount,
				entityID:   a.ID,
				confidence: 0.8,
				source:     signalbus.SourceKeyword,
			})
		}
	}
	return out
}

// produceKeywordHints matches the user-maintained keyword lists stored on
// accounts against the title and description.
func (r *Resolver) produceKeywordHints(event MeetingEvent) []proposal {
	haystack := strings.ToLower(event.Title + " " + event.Description)
	if strings.TrimSpace(haystack) == "" {
		return nil
	}
	accounts, err := r.entities.ListAccounts(false)
	if err != nil {
		return nil
	}

	var out []proposal
	for _, a := range accounts {
		for _, kw := range a.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if len(kw) >= 3 && strings.Contains(haystack, kw) {
				out = append(out, proposal{
					kind:       signalbus.EntityAccount,
					entityID:   a.ID,
					confidence: 0.75,
					source:     signalbus.SourceKeyword,
				})
				break
			}
		}
	}
	return out
}

// produceGroupPattern looks up the learned attendee-set → entity mapping.
func (r *Resolver) produceGroupPattern(event MeetingEvent) []proposal {
	emails := cleanEmails(event.Attendees)
	if len(emails) < 2 {
		return nil
	}
	pattern, err := r.LookupGroupPattern(emails)
	if err != nil || pattern == nil {
		return nil
	}
	return []proposal{{
		kind:       pattern.EntityKind,
		entityID:   pattern.EntityID,
		confidence: pattern.Confidence,
		source:     signalbus.SourceGroupPattern,
	}}
}

// produceEmbedding scores title similarity against entity display names,
// the lowest-tier producer. Skipped entirely without an embedder.
func (r *Resolver) produceEmbedding(event MeetingEvent) []proposal {
	if r.embedder == nil || strings.TrimSpace(event.Title) == "" {
		return nil
	}
	titleVec, err := r.embedder.Embed("search_query: " + event.Title)
	if err != nil {
		r.logger.Debug("title embedding failed", "error", err)
		return nil
	}
	accounts, err := r.entities.ListAccounts(false)
	if err != nil {
		return nil
	}

	var out []proposal
	for _, a := range accounts {
		nameVec, err := r.embedder.Embed("search_document: " + a.Name)
		if err != nil {
			continue
		}
		sim := embeddings.CosineSimilarity(titleVec, nameVec)
		if sim < 0.75 {
			continue
		}
		out = append(out, proposal{
			kind:       signalbus.EntityAccount,
			entityID:   a.ID,
			confidence: minF(0.7, sim*0.8),
			source:     signalbus.SourceEmbedding,
		})
	}
	return out
}

// normalizeDomain lowercases a domain through IDNA so internationalized
// attendee domains match the ASCII rows in the domain table.
func normalizeDomain(domain string) string {
	if domain == "" {
		return ""
	}
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return strings.ToLower(domain)
	}
	return strings.ToLower(ascii)
}
