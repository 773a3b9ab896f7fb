package orchestrator

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/enrichintake"
	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/events"
	"github.com/jamesgiroux/dailyos-core/internal/ingest"
	"github.com/jamesgiroux/dailyos-core/internal/intake"
	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/proactive"
	"github.com/jamesgiroux/dailyos-core/internal/resolver"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

// enrichCallGap is the pause between enrichment provider calls.
const enrichCallGap = 5 * time.Second

// gravatarCallGap is the pause between avatar fetches.
const gravatarCallGap = time.Second

// pollCalendar fetches events ±7 days, classifies them, upserts meeting
// history, and resolves new meetings to entities.
func (o *Orchestrator) pollCalendar(ctx context.Context) error {
	now := time.Now().UTC()
	eventsList, err := o.Calendar.FetchEvents(ctx, now.AddDate(0, 0, -7), now.AddDate(0, 0, 7))
	if err != nil {
		return err
	}

	hints := o.accountHints()
	newMeetings := 0
	for _, ev := range eventsList {
		classified := intake.ClassifyMeeting(ev, o.cfg.UserDomains, hints)
		start := parseRFC3339(classified.Start)
		if start.IsZero() {
			continue
		}

		m := &meetings.Meeting{
			ID:          classified.ID,
			Title:       classified.Title,
			MeetingType: classified.MeetingType,
			StartTime:   start,
			EndTime:     parseRFC3339(classified.End),
			Attendees:   strings.Join(classified.Attendees, ","),
			Description: classified.Description,
		}
		if err := o.meetings.Upsert(m); err != nil {
			o.logger.Warn("meeting upsert failed", "meeting_id", m.ID, "error", err)
			continue
		}
		newMeetings++

		o.recordAttendees(classified.Attendees, start)

		// Resolve only meetings that are not already linked.
		if refs, err := o.entities.MeetingEntities(m.ID); err == nil && len(refs) == 0 {
			outcome, err := o.Resolver.ResolveMeeting(resolver.MeetingEvent{
				ID:          m.ID,
				Title:       m.Title,
				Description: m.Description,
				Attendees:   classified.Attendees,
				StartTime:   start,
			})
			if err != nil {
				o.logger.Warn("meeting resolution failed", "meeting_id", m.ID, "error", err)
			} else if outcome.Entity != nil {
				o.Events.Publish(events.Event{
					Timestamp: time.Now(), Source: events.SourceResolver, Kind: events.KindResolved,
					Data: map[string]any{
						"meeting_id":  m.ID,
						"entity_kind": string(outcome.Entity.EntityKind),
						"entity_id":   outcome.Entity.EntityID,
						"confidence":  outcome.Entity.Confidence,
						"outcome":     string(outcome.Kind),
					},
				})
			}
		}
	}
	o.logger.Debug("calendar poll complete", "events", newMeetings)
	return nil
}

// recordAttendees ensures every external attendee exists as a person
// and maintains the first/last-seen window.
func (o *Orchestrator) recordAttendees(attendees []string, at time.Time) {
	for _, addr := range attendees {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if !strings.Contains(addr, "@") {
			continue
		}
		person, err := o.entities.FindPersonByEmail(addr)
		if err != nil {
			created, err := o.entities.UpsertPerson(&entitystore.Person{Name: addr, Email: addr})
			if err != nil {
				continue
			}
			person = created
		}
		if err := o.entities.TouchPersonSeen(person.ID, at, true); err != nil {
			o.logger.Warn("person seen touch failed", "person_id", person.ID, "error", err)
		}
	}
}

// pollEmail fetches new messages, classifies and records them, runs the
// enrichment pass, and extracts actions from high-priority mail. No
// relevance scoring runs on this path.
func (o *Orchestrator) pollEmail(ctx context.Context) error {
	inbound, err := o.EmailPoller.Poll(ctx)
	if err != nil {
		return err
	}

	hints := o.accountHints()
	customerDomains := o.todaysCustomerDomains()
	uidFor := make(map[string]uint32, len(inbound))

	for _, raw := range inbound {
		uidFor[raw.ID] = raw.UID
		priority := intake.ClassifyEmailPriority(raw, customerDomains, o.cfg.UserDomains, hints)
		if err := o.Emails.Record(&intake.Email{
			ID:          raw.ID,
			ThreadID:    raw.ThreadID,
			SenderEmail: intake.ExtractEmailAddress(raw.From),
			SenderName:  intake.ExtractDisplayName(raw.From),
			Subject:     raw.Subject,
			Snippet:     raw.Snippet,
			Priority:    priority,
			ReceivedAt:  parseRFC3339(raw.ReceivedAt),
		}); err != nil {
			o.logger.Warn("email record failed", "email_id", raw.ID, "error", err)
		}
	}

	bodyFor := func(id string) string {
		uid, ok := uidFor[id]
		if !ok {
			return ""
		}
		body, err := o.EmailPoller.Body(ctx, uid)
		if err != nil {
			return ""
		}
		return body
	}

	if o.Enricher != nil {
		if _, err := o.Enricher.EnrichPending(ctx, 20, bodyFor); err != nil && ctx.Err() == nil {
			o.logger.Warn("email enrichment pass failed", "error", err)
		}
	}

	if o.Extractor != nil {
		for _, raw := range inbound {
			stored, err := o.Emails.Get(raw.ID)
			if err != nil || stored.Priority != intake.PriorityHigh {
				continue
			}
			if _, err := o.Extractor.Extract(ctx, stored, bodyFor(raw.ID)); err != nil {
				o.logger.Warn("action extraction failed", "email_id", raw.ID, "error", err)
			}
		}
	}

	return nil
}

// sweepEnrichment drains the budgeted enrichment queue through the
// provider, pacing calls and capping the sweep.
func (o *Orchestrator) sweepEnrichment(ctx context.Context) error {
	processed := 0
	for processed < o.cfg.Clay.PerSweepCap {
		req, ok := o.EnrichQ.Dequeue()
		if !ok {
			break
		}
		if req.EntityKind != "person" {
			continue
		}
		person, err := o.entities.GetPerson(req.EntityID)
		if err != nil || person.Email == "" {
			continue
		}

		enrichment, err := o.EnrichAPI.Lookup(ctx, person.Email)
		if err != nil {
			o.logger.Warn("enrichment lookup failed", "person_id", person.ID, "error", err)
		} else if enrichment != nil {
			o.applyEnrichment(person, enrichment)
		}
		processed++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(enrichCallGap):
		}
	}
	if processed > 0 {
		o.logger.Info("enrichment sweep complete", "processed", processed)
	}
	return nil
}

// applyEnrichment persists provider results and emits change signals
// when identity facts moved. Title and company changes feed the
// propagation engine's stakeholder-change cascade.
func (o *Orchestrator) applyEnrichment(person *entitystore.Person, e *enrichintake.PersonEnrichment) {
	titleChanged := e.Title != "" && person.Title != "" && !strings.EqualFold(e.Title, person.Title)
	companyChanged := e.Organization != "" && person.Company != "" && !strings.EqualFold(e.Organization, person.Company)

	if err := o.entities.SetPersonEnrichment(person.ID, e.Title, e.Organization,
		e.LinkedinURL, e.TwitterHandle, e.Bio, e.PhotoURL); err != nil {
		o.logger.Warn("enrichment save failed", "person_id", person.ID, "error", err)
		return
	}
	if e.FullName != "" && (person.Name == "" || person.Name == person.Email) {
		if err := o.entities.SetPersonName(person.ID, e.FullName); err != nil {
			o.logger.Warn("name save failed", "person_id", person.ID, "error", err)
		}
	}

	emit := func(signalType, from, to string) {
		value, _ := json.Marshal(map[string]string{"from": from, "to": to})
		if _, err := o.Engine.Emit(signalbus.EntityPerson, person.ID, signalType,
			signalbus.SourceClay, string(value), 0.9, 0); err != nil {
			o.logger.Warn("enrichment signal emit failed", "person_id", person.ID, "error", err)
		}
	}
	if titleChanged {
		emit("title_change", person.Title, e.Title)
	}
	if companyChanged {
		emit("company_change", person.Company, e.Organization)
	}
	if e.Departed {
		emit("person_departed", person.Company, "")
	}
}

// accountHints returns lowercased account slugs for classification.
func (o *Orchestrator) accountHints() map[string]bool {
	hints := make(map[string]bool)
	accounts, err := o.entities.ListAccounts(false)
	if err != nil {
		return hints
	}
	for _, a := range accounts {
		hints[strings.ToLower(a.ID)] = true
		for _, kw := range a.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				hints[kw] = true
			}
		}
	}
	return hints
}

// todaysCustomerDomains collects external attendee domains from today's
// meetings, used to boost email priority.
func (o *Orchestrator) todaysCustomerDomains() map[string]bool {
	out := make(map[string]bool)
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	todays, err := o.meetings.ListBetween(dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return out
	}
	for _, m := range todays {
		for _, addr := range m.AttendeeEmails() {
			domain := intake.ExtractDomain(addr)
			if domain == "" {
				continue
			}
			internal := false
			for _, d := range o.cfg.UserDomains {
				if strings.EqualFold(d, domain) {
					internal = true
					break
				}
			}
			if !internal {
				out[domain] = true
			}
		}
	}
	return out
}

// pollQuill scans the local transcript directory inside work hours.
func (o *Orchestrator) pollQuill(ctx context.Context) error {
	if o.cfg.Quill.WorkHoursOnly {
		hour := time.Now().Hour()
		if hour < 8 || hour >= 19 {
			return nil
		}
	}
	_, err := o.Ingestor.ScanDirectory(o.cfg.Quill.TranscriptDir, time.Now().Add(-24*time.Hour))
	return err
}

// pollGranola scans the recorder cache.
func (o *Orchestrator) pollGranola(ctx context.Context) error {
	_, err := o.Ingestor.ScanCache(o.cfg.Granola.CachePath)
	return err
}

// sweepGravatar fetches avatars for people without one, one per second.
func (o *Orchestrator) sweepGravatar(ctx context.Context) error {
	people, err := o.entities.ListPeople()
	if err != nil {
		return err
	}
	for _, p := range people {
		if p.Email == "" || p.PhotoURL != "" {
			continue
		}
		path, err := o.Gravatar.Fetch(ctx, p.Email)
		if err != nil {
			o.logger.Debug("avatar fetch failed", "person_id", p.ID, "error", err)
		} else if path != "" {
			if err := o.entities.SetPersonEnrichment(p.ID, "", "", "", "", "", path); err != nil {
				o.logger.Warn("avatar save failed", "person_id", p.ID, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(gravatarCallGap):
		}
	}
	return nil
}

// pollIssues fetches recently updated issues.
func (o *Orchestrator) pollIssues(ctx context.Context) error {
	_, err := o.Issues.Poll(ctx)
	return err
}

// processEmbeddings chunks and embeds files the watcher indexed.
func (o *Orchestrator) processEmbeddings(ctx context.Context) error {
	files, err := o.meetings.FilesNeedingEmbeddings(5)
	if err != nil {
		return err
	}
	for _, f := range files {
		chunks, err := o.chunkFile(ctx, f.AbsolutePath)
		if err != nil {
			o.logger.Warn("embedding chunk failed", "file_id", f.ID, "error", err)
			continue
		}
		if err := o.meetings.StoreChunks(f.ID, chunks); err != nil {
			o.logger.Warn("chunk store failed", "file_id", f.ID, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) chunkFile(ctx context.Context, path string) ([]meetings.ContentChunk, error) {
	doc, err := ingest.ParseFile(path)
	if err != nil {
		return nil, err
	}
	var texts []string
	for _, c := range doc.Chunks {
		texts = append(texts, c.Content)
	}
	var out []meetings.ContentChunk
	for i, text := range texts {
		vec, err := o.Embedder.Generate(ctx, "search_document: "+text)
		if err != nil {
			return nil, err
		}
		out = append(out, meetings.ContentChunk{
			ChunkIndex: i,
			ChunkText:  text,
			Embedding:  packFloats(vec),
		})
	}
	return out, nil
}

// packFloats encodes a float32 vector little-endian for BLOB storage.
func packFloats(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// runHygiene resets the enrichment budget and runs one scan, publishing
// the report and a proactive detector pass afterwards.
func (o *Orchestrator) runHygiene(ctx context.Context) error {
	if o.EnrichQ != nil {
		o.EnrichQ.ResetBudget()
	}
	report := o.Hygiene.Run()

	raw, err := json.Marshal(report)
	if err == nil {
		o.Events.Publish(events.Event{
			Timestamp: time.Now(), Source: events.SourceHygiene,
			Kind: events.KindHygieneReport, Data: map[string]any{"report": json.RawMessage(raw)},
		})
	}

	if o.Proactive != nil {
		if _, err := o.Proactive.RunScan(proactive.Context{
			Today:       time.Now().UTC(),
			UserDomains: o.cfg.UserDomains,
			Profile:     o.cfg.Profile,
		}); err != nil {
			o.logger.Warn("proactive scan failed", "error", err)
		}
	}
	return nil
}

// runResolutionPass reinforces attendee group patterns and re-resolves
// upcoming meetings that have no entity link yet.
func (o *Orchestrator) runResolutionPass(ctx context.Context) error {
	if _, err := o.Resolver.MinePatterns(); err != nil {
		o.logger.Warn("pattern mining failed", "error", err)
	}

	now := time.Now().UTC()
	upcoming, err := o.meetings.ListBetween(now, now.AddDate(0, 0, 2))
	if err != nil {
		return err
	}
	for _, m := range upcoming {
		refs, err := o.entities.MeetingEntities(m.ID)
		if err != nil || len(refs) > 0 {
			continue
		}
		if _, err := o.Resolver.ResolveMeeting(resolver.MeetingEvent{
			ID:          m.ID,
			Title:       m.Title,
			Description: m.Description,
			Attendees:   m.AttendeeEmails(),
			StartTime:   m.StartTime,
		}); err != nil {
			o.logger.Warn("re-resolution failed", "meeting_id", m.ID, "error", err)
		}
	}
	return nil
}

// runBackup writes the scheduled full backup.
func (o *Orchestrator) runBackup(ctx context.Context) error {
	return backupDatabase(o.DB, o.cfg.BackupPath())
}

func parseRFC3339(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
