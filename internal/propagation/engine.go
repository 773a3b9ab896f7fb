// Package propagation derives new signals on related entities when a
// source signal is emitted. A registry of named rules runs one
// level deep per source signal; derived signals are persisted through the
// bus with lineage recorded in signal_derivations, and signals in the
// prep-invalidating set enqueue upcoming meetings for regeneration.
package propagation

import (
	"log/slog"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

// Derived is a signal produced by a rule, before persistence.
type Derived struct {
	EntityKind signalbus.EntityKind
	EntityID   string
	SignalType string
	Source     signalbus.Source
	Value      string
	Confidence float64
}

// Rule derives zero or more signals on related entities from a source
// signal. Rules must be pure lookups: they read the stores and return
// derivations, never emit directly, so the engine can record lineage and
// keep cascading one level deep.
type Rule func(sig signalbus.Signal, env *RuleEnv) []Derived

// RuleEnv is the read surface rules query. Overdue-count and upcoming-
// meeting lookups are narrow interfaces so rules stay testable without
// the full store graph.
type RuleEnv struct {
	Entities *entitystore.Store
	Overdue  OverdueCounter
	Now      time.Time
}

// OverdueCounter reports how many open actions for an entity are past due.
type OverdueCounter interface {
	CountOverdue(entityKind, entityID string, now time.Time) (int, error)
}

// UpcomingMeetings lists meetings linked to an entity that start within
// the given window.
type UpcomingMeetings interface {
	UpcomingForEntity(entityKind, entityID string, within time.Duration) ([]string, error)
}

// PrepEnqueuer receives meeting IDs whose frozen prep went stale.
type PrepEnqueuer interface {
	EnqueueInvalidation(meetingID string)
}

// minInvalidationConfidence gates the prep-invalidation side channel.
const minInvalidationConfidence = 0.70

// invalidationWindow is how far ahead a meeting must start to be worth
// regenerating when its entity's signals change.
const invalidationWindow = 48 * time.Hour

// invalidatingTypes is the closed set of signal types that make a frozen
// prep stale.
var invalidatingTypes = map[string]bool{
	"stakeholder_change":      true,
	"champion_risk":           true,
	"renewal_risk_escalation": true,
	"engagement_warning":      true,
	"project_health_warning":  true,
	"title_change":            true,
	"company_change":          true,
	"person_departed":         true,
}

// Engine evaluates registered rules after each signal emission.
type Engine struct {
	bus      *signalbus.Store
	env      *RuleEnv
	meetings UpcomingMeetings
	prep     PrepEnqueuer
	rules    []namedRule
	logger   *slog.Logger
}

type namedRule struct {
	name string
	fn   Rule
}

// NewEngine creates a propagation engine. meetings and prep may be nil
// (the invalidation side channel is then skipped), matching the bus
// contract that propagation failures never fail the originating emit.
func NewEngine(bus *signalbus.Store, entities *entitystore.Store, overdue OverdueCounter, meetings UpcomingMeetings, prep PrepEnqueuer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		bus:      bus,
		env:      &RuleEnv{Entities: entities, Overdue: overdue},
		meetings: meetings,
		prep:     prep,
		logger:   logger,
	}
}

// Register adds a named rule to the registry.
func (e *Engine) Register(name string, fn Rule) {
	e.rules = append(e.rules, namedRule{name: name, fn: fn})
}

// DefaultEngine constructs an engine with the full closed rule set.
func DefaultEngine(bus *signalbus.Store, entities *entitystore.Store, overdue OverdueCounter, meetings UpcomingMeetings, prep PrepEnqueuer, logger *slog.Logger) *Engine {
	e := NewEngine(bus, entities, overdue, meetings, prep, logger)
	e.Register("rule_person_job_change", RulePersonJobChange)
	e.Register("rule_overdue_actions", RuleOverdueActions)
	e.Register("rule_champion_sentiment", RuleChampionSentiment)
	e.Register("rule_departure_renewal", RuleDepartureRenewal)
	e.Register("rule_renewal_engagement_compound", RuleRenewalEngagementCompound)
	return e
}

// Emit records a signal through the bus, then runs propagation and the
// prep-invalidation check on it. This is the entry point components use;
// it preserves the bus ordering contract that propagation side effects on
// derived entities are visible before the source emit returns.
func (e *Engine) Emit(kind signalbus.EntityKind, entityID, signalType string, source signalbus.Source, value string, confidence float64, halfLifeDays float64) (signalbus.Signal, error) {
	sig, err := e.bus.Emit(kind, entityID, signalType, source, value, confidence, halfLifeDays)
	if err != nil {
		return signalbus.Signal{}, err
	}
	e.Propagate(sig)
	return sig, nil
}

// Propagate evaluates every rule against a source signal, persists the
// derived signals with lineage, then runs the prep-invalidation check on
// the source and each derivation. Derived signals do not re-enter the
// rule registry: cascading happens only through subsequent source events.
// Failures are logged, never returned — propagation is best-effort by
// contract.
func (e *Engine) Propagate(source signalbus.Signal) []signalbus.Signal {
	e.env.Now = time.Now().UTC()

	var emitted []signalbus.Signal
	for _, r := range e.rules {
		for _, d := range r.fn(source, e.env) {
			derived, err := e.bus.Emit(d.EntityKind, d.EntityID, d.SignalType, d.Source, d.Value, d.Confidence, 0)
			if err != nil {
				e.logger.Warn("propagation emit failed", "rule", r.name, "entity_id", d.EntityID, "error", err)
				continue
			}
			if err := e.bus.RecordDerivation(source.ID, derived.ID, r.name); err != nil {
				e.logger.Warn("propagation lineage record failed", "rule", r.name, "error", err)
			}
			emitted = append(emitted, derived)
		}
	}

	e.checkInvalidation(source)
	for _, d := range emitted {
		e.checkInvalidation(d)
	}
	return emitted
}

// checkInvalidation enqueues upcoming meetings linked to the signal's
// entity when the signal type and confidence cross the invalidation bar.
func (e *Engine) checkInvalidation(sig signalbus.Signal) {
	if e.meetings == nil || e.prep == nil {
		return
	}
	if sig.Confidence < minInvalidationConfidence || !invalidatingTypes[sig.SignalType] {
		return
	}
	ids, err := e.meetings.UpcomingForEntity(string(sig.EntityKind), sig.EntityID, invalidationWindow)
	if err != nil {
		e.logger.Warn("prep invalidation lookup failed", "entity_id", sig.EntityID, "error", err)
		return
	}
	for _, id := range ids {
		e.prep.EnqueueInvalidation(id)
		e.logger.Info("prep invalidated by signal",
			"meeting_id", id, "signal_type", sig.SignalType,
			"entity_kind", sig.EntityKind, "entity_id", sig.EntityID)
	}
}
