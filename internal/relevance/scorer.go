// Package relevance scores arbitrary items against today's context by
// composing entity linkage, embedding similarity, urgency, keyword
// matching, and recency into a normalized 0-1 score with a human-readable
// reason string.
package relevance

import (
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/embeddings"
	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/fusion"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

// Dimension caps.
const (
	maxEntityScore    = 0.30
	maxMeetingScore   = 0.25
	maxUrgencyScore   = 0.20
	maxKeywordScore   = 0.15
	maxRecencyScore   = 0.10
	recencyHalfLife   = 14.0
)

// keywordWeights is the closed business vocabulary, highest match wins.
var keywordWeights = []struct {
	keyword string
	weight  float64
}{
	{"renewal", 0.15},
	{"contract", 0.12},
	{"expansion", 0.12},
	{"escalation", 0.12},
	{"churn", 0.12},
	{"qbr", 0.10},
	{"order form", 0.10},
	{"deadline", 0.08},
	{"budget", 0.08},
	{"executive", 0.06},
}

// Item is one thing to score.
type Item struct {
	EntityKind  signalbus.EntityKind
	EntityID    string
	ContentText string
	Urgency     string // high, medium, low, or empty
	Sentiment   string
	CreatedAt   time.Time
}

// Scored is the result of scoring one item.
type Scored struct {
	Total         float64 `json:"total"`
	EntityScore   float64 `json:"entityScore"`
	MeetingScore  float64 `json:"meetingScore"`
	UrgencyScore  float64 `json:"urgencyScore"`
	KeywordScore  float64 `json:"keywordScore"`
	RecencyScore  float64 `json:"recencyScore"`
	Reason        string  `json:"reason"`
}

// Embedder generates embeddings for the meeting-relevance dimension. Nil
// disables it.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// Scorer composes the five dimensions.
type Scorer struct {
	bus      *signalbus.Store
	entities *entitystore.Store
	embedder Embedder
	logger   *slog.Logger
}

// NewScorer creates a scorer. embedder may be nil.
func NewScorer(bus *signalbus.Store, entities *entitystore.Store, embedder Embedder, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{bus: bus, entities: entities, embedder: embedder, logger: logger}
}

// Score computes the composite relevance of an item against today's
// meeting-context string. Reasons accumulate in dimension order.
func (s *Scorer) Score(item Item, meetingContext string) Scored {
	var out Scored
	var reasons []string

	// 1. Entity linkage: bucketed signal-event count.
	if item.EntityID != "" {
		count, err := s.bus.CountForEntity(item.EntityKind, item.EntityID)
		if err != nil {
			count = 0
		}
		switch {
		case count == 0:
			out.EntityScore = 0.10
		case count <= 3:
			out.EntityScore = 0.20
		default:
			out.EntityScore = maxEntityScore
		}
		reasons = append(reasons, s.entityLabel(item.EntityKind, item.EntityID))
	}

	// 2. Meeting relevance: embedding cosine similarity.
	if s.embedder != nil && meetingContext != "" && item.ContentText != "" {
		sim := s.similarity(item.ContentText, meetingContext)
		if sim > 0 {
			out.MeetingScore = math.Min(sim*maxMeetingScore, maxMeetingScore)
		}
		if out.MeetingScore > 0.05 {
			reasons = append(reasons, "relates to today's meetings")
		}
	}

	// 3. Urgency.
	switch item.Urgency {
	case "high":
		out.UrgencyScore = maxUrgencyScore
		reasons = append(reasons, "urgent")
	case "medium":
		out.UrgencyScore = 0.08
	case "low":
		out.UrgencyScore = 0.02
	}

	// 4. Keyword: highest-weighted match only.
	if item.ContentText != "" {
		lower := strings.ToLower(item.ContentText)
		bestWeight, bestKeyword := 0.0, ""
		for _, kw := range keywordWeights {
			if strings.Contains(lower, kw.keyword) && kw.weight > bestWeight {
				bestWeight, bestKeyword = kw.weight, kw.keyword
			}
		}
		out.KeywordScore = bestWeight
		if bestKeyword != "" {
			reasons = append(reasons, bestKeyword)
		}
	}

	// 5. Recency: 14-day half-life decay.
	if !item.CreatedAt.IsZero() {
		age := fusion.AgeDaysFromNow(item.CreatedAt)
		out.RecencyScore = fusion.DecayedWeight(maxRecencyScore, age, recencyHalfLife)
	}

	out.Total = clamp01(out.EntityScore + out.MeetingScore + out.UrgencyScore + out.KeywordScore + out.RecencyScore)
	out.Reason = strings.Join(reasons, " · ")
	return out
}

// entityLabel resolves an entity ID to its display name so reasons read
// in product vocabulary, not internal IDs.
func (s *Scorer) entityLabel(kind signalbus.EntityKind, id string) string {
	switch kind {
	case signalbus.EntityAccount:
		if a, err := s.entities.GetAccount(id); err == nil {
			return a.Name
		}
		return "known account"
	case signalbus.EntityPerson:
		if p, err := s.entities.GetPerson(id); err == nil {
			return p.Name
		}
		return "known contact"
	case signalbus.EntityProject:
		if p, err := s.entities.GetProject(id); err == nil {
			return p.Name
		}
		return "known project"
	}
	return "known contact"
}

func (s *Scorer) similarity(docText, queryText string) float64 {
	docVec, err := s.embedder.Embed("search_document: " + docText)
	if err != nil {
		return 0
	}
	queryVec, err := s.embedder.Embed("search_query: " + queryText)
	if err != nil {
		return 0
	}
	return math.Max(0, embeddings.CosineSimilarity(docVec, queryVec))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
