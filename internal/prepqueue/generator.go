package prepqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/actions"
	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/events"
	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

// pollInterval is how often the processor checks for work.
const pollInterval = 5 * time.Second

// pruneEvery bounds how often the debounce tracker is swept.
const pruneEvery = 60 * time.Second

// MeetingPrep is the structured briefing artifact frozen onto the
// meeting row. Field names are camelCase for the GUI host.
type MeetingPrep struct {
	Version        int             `json:"version"`
	MeetingID      string          `json:"meetingId"`
	Title          string          `json:"title"`
	MeetingType    string          `json:"meetingType"`
	StartTime      time.Time       `json:"startTime"`
	GeneratedAt    time.Time       `json:"generatedAt"`
	Entities       []EntityVitals  `json:"entities,omitempty"`
	LastMeeting    *LastMeeting    `json:"lastMeeting,omitempty"`
	OpenActions    []PrepAction    `json:"openActions,omitempty"`
	Signals        []PrepSignal    `json:"signals,omitempty"`
	Captures       []PrepCapture   `json:"captures,omitempty"`
	ContentNotes   []ContentNote   `json:"contentNotes,omitempty"`
	TalkingPoints  []string        `json:"talkingPoints,omitempty"`
}

// EntityVitals summarizes one linked entity for the briefing header.
type EntityVitals struct {
	Kind        string    `json:"kind"`
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Lifecycle   string    `json:"lifecycle,omitempty"`
	ARR         float64   `json:"arr,omitempty"`
	Health      string    `json:"health,omitempty"`
	ContractEnd time.Time `json:"contractEnd,omitempty"`
	LastContact time.Time `json:"lastContact,omitempty"`
}

// LastMeeting recaps the most recent prior meeting with the same entity.
type LastMeeting struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"startTime"`
}

// PrepAction is one open action item surfaced in the briefing.
type PrepAction struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	DueDate time.Time `json:"dueDate,omitempty"`
	Owner   string    `json:"owner,omitempty"`
	Overdue bool      `json:"overdue"`
}

// PrepSignal is one active signal, ordered by decayed weight.
type PrepSignal struct {
	SignalType string    `json:"signalType"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	Weight     float64   `json:"weight"`
	Value      string    `json:"value,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PrepCapture is one recent win/risk/decision from prior meetings.
type PrepCapture struct {
	CaptureType string    `json:"captureType"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ContentNote is one content-index highlight.
type ContentNote struct {
	Filename string `json:"filename"`
	Summary  string `json:"summary"`
}

// Processor drains the queue and freezes prep artifacts. Its stores are
// opened on a dedicated DB handle by the caller: generation must never
// run inside another component's critical section (the split-lock
// discipline).
type Processor struct {
	queue    *Queue
	meetings *meetings.Store
	entities *entitystore.Store
	bus      *signalbus.Store
	actions  *actions.Store
	events   *events.Bus
	logger   *slog.Logger
}

// NewProcessor wires a processor to its stores. events may be nil.
func NewProcessor(queue *Queue, ms *meetings.Store, es *entitystore.Store, bus *signalbus.Store, as *actions.Store, eb *events.Bus, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		queue:    queue,
		meetings: ms,
		entities: es,
		bus:      bus,
		actions:  as,
		events:   eb,
		logger:   logger,
	}
}

// Run polls the queue until the context is canceled. One request is
// processed at a time; failures log and continue.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("prep processor started")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	lastPrune := time.Now()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("prep processor stopped")
			return
		case <-ticker.C:
		}

		if time.Since(lastPrune) >= pruneEvery {
			p.queue.PruneStale()
			lastPrune = time.Now()
		}

		req := p.queue.Dequeue()
		if req == nil {
			continue
		}
		if err := p.Process(req); err != nil {
			p.logger.Warn("prep generation failed", "meeting_id", req.MeetingID, "error", err)
			p.events.Publish(events.Event{
				Timestamp: time.Now(),
				Source:    events.SourcePrepQueue,
				Kind:      events.KindPrepFailed,
				Data:      map[string]any{"meeting_id": req.MeetingID, "error": err.Error()},
			})
		}
	}
}

// Process generates prep for one request. Skips when a non-invalidated
// frozen prep already exists.
func (p *Processor) Process(req *Request) error {
	m, err := p.meetings.Get(req.MeetingID)
	if err != nil {
		return fmt.Errorf("load meeting: %w", err)
	}
	if m.PrepFrozenJSON != "" && !req.Invalidated && !m.HasNewSignals {
		p.logger.Debug("prep already frozen, skipping", "meeting_id", m.ID)
		return nil
	}

	prep, err := p.assemble(m)
	if err != nil {
		return fmt.Errorf("assemble prep: %w", err)
	}
	raw, err := json.Marshal(prep)
	if err != nil {
		return fmt.Errorf("marshal prep: %w", err)
	}
	if err := p.meetings.FreezePrep(m.ID, string(raw)); err != nil {
		return fmt.Errorf("freeze prep: %w", err)
	}

	p.events.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourcePrepQueue,
		Kind:      events.KindPrepReady,
		Data:      map[string]any{"meeting_id": m.ID},
	})
	p.logger.Info("prep generated", "meeting_id", m.ID, "priority", req.Priority.String())
	return nil
}

// assemble gathers mechanical context into a MeetingPrep. No AI call:
// enrichment is a separate budgeted pass.
func (p *Processor) assemble(m *meetings.Meeting) (*MeetingPrep, error) {
	prep := &MeetingPrep{
		Version:     1,
		MeetingID:   m.ID,
		Title:       m.Title,
		MeetingType: m.MeetingType,
		StartTime:   m.StartTime,
		GeneratedAt: time.Now().UTC(),
	}

	refs, err := p.entities.MeetingEntities(m.ID)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		vitals, ok := p.entityVitals(ref)
		if ok {
			prep.Entities = append(prep.Entities, vitals)
		}

		sigs, err := p.bus.ListActive(signalbus.EntityKind(ref.Kind), ref.ID)
		if err != nil {
			p.logger.Warn("signal load failed", "entity_id", ref.ID, "error", err)
		}
		for _, sig := range sigs {
			reliability, err := p.bus.GetLearnedReliability(sig.Source, sig.EntityKind, sig.SignalType)
			if err != nil {
				reliability = 0.5
			}
			prep.Signals = append(prep.Signals, PrepSignal{
				SignalType: sig.SignalType,
				Source:     string(sig.Source),
				Confidence: sig.Confidence,
				Weight:     sig.Weight(reliability),
				Value:      sig.Value,
				CreatedAt:  sig.CreatedAt,
			})
		}

		if ref.Kind == entitystore.KindAccount {
			p.addAccountContext(prep, m, ref.ID)
		}
	}

	sort.Slice(prep.Signals, func(i, j int) bool {
		return prep.Signals[i].Weight > prep.Signals[j].Weight
	})

	prep.TalkingPoints = buildTalkingPoints(prep)
	return prep, nil
}

func (p *Processor) entityVitals(ref entitystore.EntityRef) (EntityVitals, bool) {
	switch ref.Kind {
	case entitystore.KindAccount:
		a, err := p.entities.GetAccount(ref.ID)
		if err != nil {
			return EntityVitals{}, false
		}
		return EntityVitals{
			Kind: string(ref.Kind), ID: a.ID, Name: a.Name,
			Lifecycle: a.Stage, ARR: a.ARR, Health: a.Health,
			ContractEnd: a.ContractEnd, LastContact: a.LastContact,
		}, true
	case entitystore.KindProject:
		pr, err := p.entities.GetProject(ref.ID)
		if err != nil {
			return EntityVitals{}, false
		}
		return EntityVitals{Kind: string(ref.Kind), ID: pr.ID, Name: pr.Name, Health: pr.Status, LastContact: pr.LastContact}, true
	case entitystore.KindPerson:
		person, err := p.entities.GetPerson(ref.ID)
		if err != nil {
			return EntityVitals{}, false
		}
		return EntityVitals{Kind: string(ref.Kind), ID: person.ID, Name: person.Name, LastContact: person.LastContact}, true
	}
	return EntityVitals{}, false
}

func (p *Processor) addAccountContext(prep *MeetingPrep, m *meetings.Meeting, accountID string) {
	if recent, err := p.meetings.RecentForEntity("account", accountID, 5); err == nil {
		for _, prior := range recent {
			if prior.ID != m.ID && prior.StartTime.Before(m.StartTime) {
				prep.LastMeeting = &LastMeeting{ID: prior.ID, Title: prior.Title, StartTime: prior.StartTime}
				break
			}
		}
	}

	if caps, err := p.meetings.RecentCaptures(accountID, 5); err == nil {
		for _, c := range caps {
			prep.Captures = append(prep.Captures, PrepCapture{
				CaptureType: c.CaptureType, Content: c.Content, CreatedAt: c.CreatedAt,
			})
		}
	}

	if open, err := p.actions.List(actions.StatusOpen); err == nil {
		now := time.Now().UTC()
		for _, a := range open {
			if a.EntityKind != "account" || a.EntityID != accountID {
				continue
			}
			prep.OpenActions = append(prep.OpenActions, PrepAction{
				ID: a.ID, Title: a.Title, DueDate: a.DueDate, Owner: a.Owner,
				Overdue: a.Overdue(now),
			})
		}
	}

	if notes, err := p.meetings.ContentHighlights(accountID, 3); err == nil {
		for _, f := range notes {
			prep.ContentNotes = append(prep.ContentNotes, ContentNote{Filename: f.Filename, Summary: f.Summary})
		}
	}
}

// buildTalkingPoints derives suggested openers from the assembled
// context: risks first, then overdue work, then renewal timing.
func buildTalkingPoints(prep *MeetingPrep) []string {
	var points []string
	for _, sig := range prep.Signals {
		switch sig.SignalType {
		case "renewal_risk_escalation", "champion_risk", "engagement_warning":
			points = append(points, fmt.Sprintf("Address open risk: %s", sig.SignalType))
		case "stakeholder_change":
			points = append(points, "Confirm the current stakeholder map")
		}
		if len(points) >= 2 {
			break
		}
	}
	overdue := 0
	for _, a := range prep.OpenActions {
		if a.Overdue {
			overdue++
		}
	}
	if overdue > 0 {
		points = append(points, fmt.Sprintf("Review %d overdue action(s)", overdue))
	}
	for _, e := range prep.Entities {
		if !e.ContractEnd.IsZero() {
			days := int(time.Until(e.ContractEnd).Hours() / 24)
			if days >= 0 && days <= 90 {
				points = append(points, fmt.Sprintf("%s renewal is %d days out", e.Name, days))
			}
		}
	}
	return points
}
