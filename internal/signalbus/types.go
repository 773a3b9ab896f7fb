// Package signalbus implements the append-only event log of typed signals
// for entities: emission, supersede-on-conflict,
// decayed-weight-aware active listing, and learned source reliability.
package signalbus

import (
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/fusion"
)

// EntityKind identifies the kind of entity a signal is attached to.
type EntityKind string

const (
	EntityAccount EntityKind = "account"
	EntityProject EntityKind = "project"
	EntityPerson  EntityKind = "person"
	EntityOther   EntityKind = "other"
)

// Source is a closed tag identifying where a signal came from. Each source
// has a base weight tier and a default decay half-life, both defined in
// sourceCatalog (weights.go).
type Source string

const (
	SourceClay              Source = "clay"
	SourceGravatar          Source = "gravatar"
	SourceCalendar          Source = "calendar"
	SourceEmailEnrichment   Source = "email_enrichment"
	SourceEmailBridge       Source = "email_bridge"
	SourceAttendeeVote      Source = "attendee_vote"
	SourceAttendeeEmail     Source = "attendee_email"
	SourceKeyword           Source = "keyword"
	SourceGroupPattern      Source = "group_pattern"
	SourceEmbedding         Source = "embedding"
	SourceProactive         Source = "proactive"
	SourcePropagation       Source = "propagation"
	SourceUserAction        Source = "user_action"
	SourceUserEdit          Source = "user_edit"
	SourceUserCorrection    Source = "user_correction"
	SourcePostMeetingEmail  Source = "post_meeting_email"
	SourceIssueTracker      Source = "issue_tracker"
	SourceTranscript        Source = "transcript"
)

// Signal is the central datum of the system: a typed, sourced,
// time-decaying piece of evidence about an entity.
type Signal struct {
	ID                string
	EntityKind        EntityKind
	EntityID          string
	SignalType        string
	Source            Source
	Value             string // JSON or plain text payload, may be empty
	Confidence        float64
	DecayHalfLifeDays float64
	CreatedAt         time.Time
	SupersededBy      string // empty if still active
	SourceContext     string // JSON, may be empty
}

// Weight computes this signal's effective fusion weight:
//
//	source_base_weight × decayed(age, half_life) × learned_reliability
func (s Signal) Weight(learnedReliability float64) float64 {
	tier := BaseWeight(s.Source)
	age := fusion.AgeDaysFromNow(s.CreatedAt)
	decayed := fusion.DecayedWeight(tier, age, s.DecayHalfLifeDays)
	return decayed * learnedReliability
}
