// Package hygiene runs the periodic gap-detect-and-repair pass over the
// store: count data-quality gaps, apply mechanical fixes
// that need no AI and no network, then enqueue what remains for budgeted
// AI enrichment.
package hygiene

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

// staleIntelligenceDays is how old an intelligence note can get before it
// counts as stale.
const staleIntelligenceDays = 14

// summariesPerPass bounds how many file summaries one pass extracts.
const summariesPerPass = 50

// orphanLookbackDays bounds how far back the orphaned-meeting fix looks.
const orphanLookbackDays = 90

// Report is the output of one hygiene pass, camelCase for the GUI host.
type Report struct {
	UnnamedPeople        int            `json:"unnamedPeople"`
	UnknownRelationships int            `json:"unknownRelationships"`
	MissingIntelligence  int            `json:"missingIntelligence"`
	StaleIntelligence    int            `json:"staleIntelligence"`
	UnsummarizedFiles    int            `json:"unsummarizedFiles"`
	OrphanedMeetings     int            `json:"orphanedMeetings"`
	DuplicatePeople      int            `json:"duplicatePeople"`
	PastRenewals         int            `json:"pastRenewals"`
	Fixes                MechanicalFixes `json:"fixes"`
	ScannedAt            time.Time      `json:"scannedAt"`
}

// MechanicalFixes counts the repairs applied during a pass.
type MechanicalFixes struct {
	RelationshipsReclassified int `json:"relationshipsReclassified"`
	SummariesExtracted        int `json:"summariesExtracted"`
	OrphanedMeetingsLinked    int `json:"orphanedMeetingsLinked"`
	MeetingCountsUpdated      int `json:"meetingCountsUpdated"`
	NamesResolved             int `json:"namesResolved"`
	PeopleLinkedByDomain      int `json:"peopleLinkedByDomain"`
	RenewalsRolledOver        int `json:"renewalsRolledOver"`
	AIEnrichmentsEnqueued     int `json:"aiEnrichmentsEnqueued"`
}

// EnrichmentQueue receives entities that need AI attention, under a
// budget the queue itself enforces.
type EnrichmentQueue interface {
	// EnqueueEnrichment returns false when the budget refused the item.
	EnqueueEnrichment(entityKind, entityID, reason string) bool
}

// SummaryExtractor produces a mechanical summary for an indexed file,
// e.g. the first meaningful markdown paragraph. No AI, no network.
type SummaryExtractor func(absolutePath string) (string, error)

// Scanner runs hygiene passes.
type Scanner struct {
	db          *sql.DB
	entities    *entitystore.Store
	meetings    *meetings.Store
	bus         *signalbus.Store
	queue       EnrichmentQueue
	extract     SummaryExtractor
	userDomains []string
	logger      *slog.Logger
}

// NewScanner wires a scanner. queue and extract may be nil (the
// corresponding steps are skipped).
func NewScanner(db *sql.DB, entities *entitystore.Store, ms *meetings.Store, bus *signalbus.Store, queue EnrichmentQueue, extract SummaryExtractor, userDomains []string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		db:          db,
		entities:    entities,
		meetings:    ms,
		bus:         bus,
		queue:       queue,
		extract:     extract,
		userDomains: userDomains,
		logger:      logger,
	}
}

// Run performs one full pass: gap detection, mechanical fixes, AI
// enqueueing. Every sub-step is independent; a failing step logs and
// contributes zero to its counter.
func (s *Scanner) Run() Report {
	report := Report{ScannedAt: time.Now().UTC()}

	// Gap detection.
	report.UnnamedPeople = s.countUnnamedPeople()
	report.UnknownRelationships = s.countUnknownRelationships()
	report.MissingIntelligence, report.StaleIntelligence = s.countIntelligenceGaps()
	report.UnsummarizedFiles = s.countUnsummarizedFiles()
	report.OrphanedMeetings = s.countOrphanedMeetings()
	report.DuplicatePeople = s.countDuplicatePeople()
	report.PastRenewals = s.countPastRenewals()

	// Mechanical fixes.
	report.Fixes.RelationshipsReclassified = s.fixUnknownRelationships()
	report.Fixes.SummariesExtracted = s.backfillFileSummaries()
	report.Fixes.OrphanedMeetingsLinked = s.fixOrphanedMeetings()
	report.Fixes.MeetingCountsUpdated = s.fixMeetingCounts()
	report.Fixes.RenewalsRolledOver = s.fixRenewalRollovers()
	report.Fixes.NamesResolved = s.resolveNamesFromEmails()
	report.Fixes.PeopleLinkedByDomain = s.autoLinkPeopleByDomain()

	// AI-budgeted enqueueing for what mechanics could not close.
	if s.queue != nil {
		report.Fixes.AIEnrichmentsEnqueued = s.enqueueAIEnrichments()
	}

	s.logger.Info("hygiene pass complete",
		"unnamed_people", report.UnnamedPeople,
		"unknown_relationships", report.UnknownRelationships,
		"renewals_rolled_over", report.Fixes.RenewalsRolledOver,
		"ai_enqueued", report.Fixes.AIEnrichmentsEnqueued)
	return report
}

func (s *Scanner) countUnnamedPeople() int {
	people, err := s.entities.UnnamedPeople()
	if err != nil {
		s.logger.Warn("unnamed people count failed", "error", err)
		return 0
	}
	return len(people)
}

func (s *Scanner) countUnknownRelationships() int {
	people, err := s.entities.PeopleWithUnknownRelationship()
	if err != nil {
		s.logger.Warn("unknown relationship count failed", "error", err)
		return 0
	}
	return len(people)
}

// countIntelligenceGaps counts accounts with no summary at all and ones
// whose summary has not been touched inside the stale window.
func (s *Scanner) countIntelligenceGaps() (missing, stale int) {
	accounts, err := s.entities.ListAccounts(false)
	if err != nil {
		s.logger.Warn("intelligence gap count failed", "error", err)
		return 0, 0
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -staleIntelligenceDays)
	for _, a := range accounts {
		if a.IsInternal {
			continue
		}
		if a.Summary == "" {
			missing++
		} else if a.UpdatedAt.Before(cutoff) {
			stale++
		}
	}
	return missing, stale
}

func (s *Scanner) countUnsummarizedFiles() int {
	files, err := s.meetings.UnsummarizedContentFiles(10000)
	if err != nil {
		s.logger.Warn("unsummarized file count failed", "error", err)
		return 0
	}
	return len(files)
}

// countOrphanedMeetings counts recent meetings carrying only a name-like
// account string, with no meeting_entity link.
func (s *Scanner) countOrphanedMeetings() int {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM meetings_history mh
		WHERE mh.account_id IS NOT NULL AND mh.account_id != ''
		  AND mh.start_time >= ?
		  AND NOT EXISTS (SELECT 1 FROM meeting_entity me WHERE me.meeting_id = mh.id)
	`, time.Now().UTC().AddDate(0, 0, -orphanLookbackDays).Format(time.RFC3339)).Scan(&n)
	if err != nil {
		s.logger.Warn("orphaned meeting count failed", "error", err)
		return 0
	}
	return n
}

// countDuplicatePeople counts email addresses appearing on more than one
// active person row.
func (s *Scanner) countDuplicatePeople() int {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT LOWER(email) FROM people
			WHERE deleted_at IS NULL AND email IS NOT NULL AND email != ''
			GROUP BY LOWER(email) HAVING COUNT(*) > 1
		)
	`).Scan(&n)
	if err != nil {
		s.logger.Warn("duplicate people count failed", "error", err)
		return 0
	}
	return n
}

func (s *Scanner) countPastRenewals() int {
	accounts, err := s.entities.ListAccounts(false)
	if err != nil {
		return 0
	}
	now := time.Now().UTC()
	n := 0
	for _, a := range accounts {
		if !a.IsInternal && !a.ContractEnd.IsZero() && a.ContractEnd.Before(now) {
			n++
		}
	}
	return n
}

// fixUnknownRelationships classifies unknown-relationship people by
// their email domain against the user-domain set.
func (s *Scanner) fixUnknownRelationships() int {
	if len(s.userDomains) == 0 {
		return 0
	}
	people, err := s.entities.PeopleWithUnknownRelationship()
	if err != nil {
		s.logger.Warn("relationship fix failed", "error", err)
		return 0
	}
	fixed := 0
	for _, p := range people {
		if p.Email == "" {
			continue
		}
		domain := emailDomain(p.Email)
		relationship := entitystore.RelationshipExternal
		for _, d := range s.userDomains {
			if strings.EqualFold(d, domain) {
				relationship = entitystore.RelationshipInternal
				break
			}
		}
		if err := s.entities.SetPersonRelationship(p.ID, relationship); err != nil {
			s.logger.Warn("relationship set failed", "person_id", p.ID, "error", err)
			continue
		}
		fixed++
	}
	return fixed
}

// backfillFileSummaries extracts mechanical summaries for unsummarized
// content files, bounded per pass.
func (s *Scanner) backfillFileSummaries() int {
	if s.extract == nil {
		return 0
	}
	files, err := s.meetings.UnsummarizedContentFiles(summariesPerPass)
	if err != nil {
		s.logger.Warn("summary backfill query failed", "error", err)
		return 0
	}
	fixed := 0
	for _, f := range files {
		summary, err := s.extract(f.AbsolutePath)
		if err != nil || summary == "" {
			continue
		}
		if err := s.meetings.SetContentSummary(f.ID, summary); err != nil {
			s.logger.Warn("summary save failed", "file_id", f.ID, "error", err)
			continue
		}
		fixed++
	}
	return fixed
}

// fixOrphanedMeetings links meetings whose account_id is a bare account
// name to the real account row.
func (s *Scanner) fixOrphanedMeetings() int {
	rows, err := s.db.Query(`
		SELECT mh.id, mh.account_id FROM meetings_history mh
		WHERE mh.account_id IS NOT NULL AND mh.account_id != ''
		  AND mh.start_time >= ?
		  AND NOT EXISTS (SELECT 1 FROM meeting_entity me WHERE me.meeting_id = mh.id)
	`, time.Now().UTC().AddDate(0, 0, -orphanLookbackDays).Format(time.RFC3339))
	if err != nil {
		s.logger.Warn("orphan query failed", "error", err)
		return 0
	}
	type orphan struct{ meetingID, accountRef string }
	var orphans []orphan
	for rows.Next() {
		var o orphan
		if err := rows.Scan(&o.meetingID, &o.accountRef); err == nil {
			orphans = append(orphans, o)
		}
	}
	rows.Close()

	fixed := 0
	for _, o := range orphans {
		acct, err := s.entities.FindAccountByName(o.accountRef)
		if err != nil || acct == nil {
			continue
		}
		if err := s.entities.LinkMeeting(o.meetingID, entitystore.KindAccount, acct.ID); err != nil {
			s.logger.Warn("orphan link failed", "meeting_id", o.meetingID, "error", err)
			continue
		}
		fixed++
	}
	return fixed
}

func (s *Scanner) fixMeetingCounts() int {
	accounts, err := s.entities.RecomputeMeetingCounts()
	if err != nil {
		s.logger.Warn("account meeting count fix failed", "error", err)
		accounts = 0
	}
	people, err := s.entities.RecomputePersonMeetingCounts()
	if err != nil {
		s.logger.Warn("person meeting count fix failed", "error", err)
		people = 0
	}
	return accounts + people
}

// fixRenewalRollovers advances past contract end dates by 12 months and
// records a renewal event, unless a churn event says the account is
// gone.
func (s *Scanner) fixRenewalRollovers() int {
	accounts, err := s.entities.ListAccounts(false)
	if err != nil {
		s.logger.Warn("rollover query failed", "error", err)
		return 0
	}
	now := time.Now().UTC()
	fixed := 0
	for _, a := range accounts {
		if a.IsInternal || a.ContractEnd.IsZero() || !a.ContractEnd.Before(now) {
			continue
		}
		churned, err := s.entities.HasAccountEvent(a.ID, "churn")
		if err != nil || churned {
			continue
		}
		if _, err := s.entities.AddAccountEvent(&entitystore.AccountEvent{
			AccountID: a.ID,
			EventType: "renewal",
			EventDate: a.ContractEnd,
			ARR:       a.ARR,
		}); err != nil {
			s.logger.Warn("renewal event insert failed", "account_id", a.ID, "error", err)
			continue
		}
		if err := s.entities.UpdateContractEnd(a.ID, a.ContractEnd.AddDate(0, 12, 0)); err != nil {
			s.logger.Warn("contract end update failed", "account_id", a.ID, "error", err)
			continue
		}
		if _, err := s.bus.Emit(signalbus.EntityAccount, a.ID, "renewal_rolled_over",
			signalbus.SourceProactive, "", 0.9, 0); err != nil {
			s.logger.Warn("rollover signal failed", "account_id", a.ID, "error", err)
		}
		fixed++
	}
	return fixed
}

// resolveNamesFromEmails fills unnamed people's display names from the
// local part of their email address.
func (s *Scanner) resolveNamesFromEmails() int {
	people, err := s.entities.UnnamedPeople()
	if err != nil {
		s.logger.Warn("name resolution query failed", "error", err)
		return 0
	}
	fixed := 0
	for _, p := range people {
		if p.Email == "" {
			continue
		}
		name := nameFromLocalPart(p.Email)
		if name == "" || strings.EqualFold(name, p.Name) {
			continue
		}
		if err := s.entities.SetPersonName(p.ID, name); err != nil {
			s.logger.Warn("name set failed", "person_id", p.ID, "error", err)
			continue
		}
		fixed++
	}
	return fixed
}

// autoLinkPeopleByDomain links external people to the account owning
// their email domain.
func (s *Scanner) autoLinkPeopleByDomain() int {
	people, err := s.entities.ListPeople()
	if err != nil {
		s.logger.Warn("domain link query failed", "error", err)
		return 0
	}
	fixed := 0
	for _, p := range people {
		if p.Email == "" || p.Relationship == entitystore.RelationshipInternal {
			continue
		}
		refs, err := s.entities.PersonEntities(p.ID)
		if err != nil || len(refs) > 0 {
			continue
		}
		accounts, err := s.entities.LookupAccountsByAnyDomain(emailDomain(p.Email))
		if err != nil || len(accounts) == 0 {
			continue
		}
		if err := s.entities.LinkPersonEntity(p.ID, entitystore.KindAccount, accounts[0].ID, "contact"); err != nil {
			s.logger.Warn("domain link failed", "person_id", p.ID, "error", err)
			continue
		}
		fixed++
	}
	return fixed
}

// enqueueAIEnrichments hands remaining gaps to the budgeted queue:
// accounts missing intelligence, people never enriched.
func (s *Scanner) enqueueAIEnrichments() int {
	enqueued := 0
	if accounts, err := s.entities.ListAccounts(false); err == nil {
		for _, a := range accounts {
			if a.IsInternal || a.Summary != "" {
				continue
			}
			if s.queue.EnqueueEnrichment("account", a.ID, "missing_intelligence") {
				enqueued++
			}
		}
	}
	if people, err := s.entities.ListPeople(); err == nil {
		for _, p := range people {
			if p.LastEnrichedAt.IsZero() && p.Relationship == entitystore.RelationshipExternal {
				if s.queue.EnqueueEnrichment("person", p.ID, "never_enriched") {
					enqueued++
				}
			}
		}
	}
	return enqueued
}

func emailDomain(email string) string {
	if at := strings.LastIndex(email, "@"); at >= 0 {
		return strings.ToLower(email[at+1:])
	}
	return ""
}

// nameFromLocalPart turns "jane.doe" or "jane_doe" into "Jane Doe".
func nameFromLocalPart(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return ""
	}
	local := email[:at]
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	var words []string
	for _, p := range parts {
		if p == "" || isNumeric(p) {
			continue
		}
		words = append(words, strings.ToUpper(p[:1])+strings.ToLower(p[1:]))
	}
	if len(words) == 0 {
		return ""
	}
	return strings.Join(words, " ")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
