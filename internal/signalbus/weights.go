package signalbus

// sourceCatalog entry describes a closed-set signal source's base fusion
// weight tier and the decay half-life assigned at emission time when the
// caller does not supply one explicitly.
type sourceCatalogEntry struct {
	baseWeight   float64
	halfLifeDays float64
}

// sourceCatalog is the closed table of source tiers. User-supplied inputs
// get 1.0 and the other high-trust direct inputs 0.8-0.9, inferential
// signals 0.6-0.8, weakly attested keyword and embedding hits 0.3-0.5.
var sourceCatalog = map[Source]sourceCatalogEntry{
	// High-trust direct inputs.
	SourceUserAction:      {baseWeight: 1.0, halfLifeDays: 90},
	SourceUserEdit:        {baseWeight: 1.0, halfLifeDays: 90},
	SourceUserCorrection:  {baseWeight: 1.0, halfLifeDays: 90},
	SourceClay:            {baseWeight: 0.9, halfLifeDays: 90},
	SourceGravatar:        {baseWeight: 0.8, halfLifeDays: 90},
	SourceCalendar:        {baseWeight: 0.9, halfLifeDays: 30},
	SourceAttendeeEmail:   {baseWeight: 0.8, halfLifeDays: 30},

	// Inferential / mechanical-derivation tier.
	SourceEmailEnrichment:  {baseWeight: 0.7, halfLifeDays: 14},
	SourceEmailBridge:      {baseWeight: 0.65, halfLifeDays: 14},
	SourceAttendeeVote:     {baseWeight: 0.7, halfLifeDays: 30},
	SourceGroupPattern:     {baseWeight: 0.75, halfLifeDays: 30},
	SourcePropagation:      {baseWeight: 0.6, halfLifeDays: 30},
	SourcePostMeetingEmail: {baseWeight: 0.7, halfLifeDays: 14},
	SourceProactive:        {baseWeight: 0.6, halfLifeDays: 30},
	SourceIssueTracker:     {baseWeight: 0.7, halfLifeDays: 30},
	SourceTranscript:       {baseWeight: 0.8, halfLifeDays: 30},

	// Weakly attested tier.
	SourceKeyword:   {baseWeight: 0.5, halfLifeDays: 30},
	SourceEmbedding: {baseWeight: 0.3, halfLifeDays: 30},
}

// defaultEntry is used for sources not present in the catalog (e.g. a
// caller-defined extension tag); it takes the lowest tier so an unknown
// source never dominates fusion.
var defaultEntry = sourceCatalogEntry{baseWeight: 0.3, halfLifeDays: 30}

// BaseWeight returns the fusion base weight for a signal source.
func BaseWeight(source Source) float64 {
	if e, ok := sourceCatalog[source]; ok {
		return e.baseWeight
	}
	return defaultEntry.baseWeight
}

// DefaultHalfLife returns the decay half-life (in days) assigned at
// emission time when the caller does not specify one.
func DefaultHalfLife(source Source) float64 {
	if e, ok := sourceCatalog[source]; ok {
		return e.halfLifeDays
	}
	return defaultEntry.halfLifeDays
}
