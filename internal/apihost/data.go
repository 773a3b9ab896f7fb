package apihost

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/intake"
	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/relevance"
)

// DashboardData is today's briefing surface.
type DashboardData struct {
	Date        string                    `json:"date"`
	Meetings    []*meetings.Meeting       `json:"meetings"`
	Gaps        []relevance.Gap           `json:"gaps"`
	FocusBlocks []relevance.FocusBlock    `json:"focusBlocks"`
	Insights    []map[string]any          `json:"insights,omitempty"`
	TopEmails   []*intake.Email           `json:"topEmails,omitempty"`
}

func (s *Server) getDashboardData(r *http.Request) (any, error) {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	todays, err := s.deps.Meetings.ListBetween(dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	var intervals []relevance.Interval
	for _, m := range todays {
		if m.EndTime.IsZero() {
			continue
		}
		intervals = append(intervals, relevance.Interval{Start: m.StartTime, End: m.EndTime})
	}
	gaps := relevance.ComputeGaps(intervals, now, now.Location())

	data := DashboardData{
		Date:        now.Format("2006-01-02"),
		Meetings:    todays,
		Gaps:        gaps,
		FocusBlocks: relevance.SuggestFocusBlocks(gaps),
	}

	if insights, err := s.deps.Proactive.ActiveInsights(); err == nil {
		for _, ins := range insights {
			data.Insights = append(data.Insights, map[string]any{
				"headline": ins.Headline,
				"detail":   ins.Detail,
				"entityId": ins.EntityID,
				"detector": ins.DetectorName,
			})
		}
	}

	if emails, err := s.deps.Emails.ListRecent(now.AddDate(0, 0, -2), 50); err == nil {
		data.TopEmails = topScored(emails, 5)
	}

	if len(data.Meetings) == 0 && len(data.Insights) == 0 && len(data.TopEmails) == 0 {
		return nil, nil
	}
	return data, nil
}

func (s *Server) getWeekData(r *http.Request) (any, error) {
	now := time.Now()
	// Week starts Monday.
	offset := (int(now.Weekday()) + 6) % 7
	weekStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -offset)
	weekEnd := weekStart.AddDate(0, 0, 7)

	week, err := s.deps.Meetings.ListBetween(weekStart, weekEnd)
	if err != nil {
		return nil, err
	}
	if len(week) == 0 {
		return nil, nil
	}

	byDay := make(map[string][]*meetings.Meeting)
	for _, m := range week {
		day := m.StartTime.In(now.Location()).Format("2006-01-02")
		byDay[day] = append(byDay[day], m)
	}
	return map[string]any{
		"weekStart": weekStart.Format("2006-01-02"),
		"byDay":     byDay,
	}, nil
}

func (s *Server) getFocusData(r *http.Request) (any, error) {
	now := time.Now()
	open, err := s.deps.Actions.List("open")
	if err != nil {
		return nil, err
	}
	proposed, err := s.deps.Actions.List("proposed")
	if err != nil {
		return nil, err
	}

	var overdue []any
	for _, a := range open {
		if a.Overdue(now.UTC()) {
			overdue = append(overdue, a)
		}
	}
	if len(open) == 0 && len(proposed) == 0 {
		return nil, nil
	}
	return map[string]any{
		"openActions":     open,
		"proposedActions": proposed,
		"overdueActions":  overdue,
	}, nil
}

func (s *Server) getAllActions(r *http.Request) (any, error) {
	status := r.URL.Query().Get("status")
	list, err := s.deps.Actions.List(status)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list, nil
}

func (s *Server) getAllEmails(r *http.Request) (any, error) {
	days := 7
	list, err := s.deps.Emails.ListRecent(time.Now().UTC().AddDate(0, 0, -days), 200)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list, nil
}

// topScored ranks emails by stored relevance score, assigning unscored
// ones a cheap priority-based fallback, and returns the top n.
func topScored(emails []*intake.Email, n int) []*intake.Email {
	scored := make([]*intake.Email, 0, len(emails))
	for _, e := range emails {
		if e.RelevanceScore == 0 {
			e.RelevanceScore = fallbackScore(e)
		}
		scored = append(scored, e)
	}
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].RelevanceScore > scored[j].RelevanceScore
	})
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored
}

func fallbackScore(e *intake.Email) float64 {
	switch {
	case e.Urgency == "high":
		return 0.5
	case strings.EqualFold(e.Priority, "high"):
		return 0.4
	default:
		return 0.1
	}
}
