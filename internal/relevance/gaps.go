package relevance

import (
	"fmt"
	"sort"
	"time"
)

// Work-hours window and the smallest gap worth surfacing.
const (
	workDayStartHour = 9
	workDayEndHour   = 17
	minGapMinutes    = 30
	focusBlockMin    = 60
)

// Gap is a free block between meetings inside work hours.
type Gap struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Minutes  int       `json:"minutes"`
}

// FocusBlock is a gap long enough to protect for deep work.
type FocusBlock struct {
	Gap
	Label string `json:"label"`
}

// Interval is the minimal meeting shape gap analysis needs.
type Interval struct {
	Start time.Time
	End   time.Time
}

// ComputeGaps finds free blocks of at least minGapMinutes between the
// day's meetings, bounded to work hours in the given location. All-day
// events (24h+ or midnight-to-midnight) are skipped.
func ComputeGaps(meetings []Interval, day time.Time, loc *time.Location) []Gap {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := day.In(loc).Date()
	dayStart := time.Date(y, m, d, workDayStartHour, 0, 0, 0, loc)
	dayEnd := time.Date(y, m, d, workDayEndHour, 0, 0, 0, loc)

	var intervals []Interval
	for _, iv := range meetings {
		if iv.Start.IsZero() || iv.End.IsZero() {
			continue
		}
		s, e := iv.Start.In(loc), iv.End.In(loc)
		if e.Sub(s) >= 24*time.Hour {
			continue
		}
		if s.Hour() == 0 && s.Minute() == 0 && e.Hour() == 0 && e.Minute() == 0 {
			continue
		}
		intervals = append(intervals, Interval{Start: s, End: e})
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i].Start.Before(intervals[j].Start) })

	var gaps []Gap
	cursor := dayStart
	for _, iv := range intervals {
		s, e := iv.Start, iv.End
		if s.Before(dayStart) {
			s = dayStart
		}
		if e.After(dayEnd) {
			e = dayEnd
		}
		if s.After(cursor) {
			if mins := int(s.Sub(cursor).Minutes()); mins >= minGapMinutes {
				gaps = append(gaps, Gap{Start: cursor, End: s, Minutes: mins})
			}
		}
		if e.After(cursor) {
			cursor = e
		}
	}
	if dayEnd.After(cursor) {
		if mins := int(dayEnd.Sub(cursor).Minutes()); mins >= minGapMinutes {
			gaps = append(gaps, Gap{Start: cursor, End: dayEnd, Minutes: mins})
		}
	}
	return gaps
}

// SuggestFocusBlocks promotes gaps of an hour or more into labeled focus
// blocks, longest first.
func SuggestFocusBlocks(gaps []Gap) []FocusBlock {
	var blocks []FocusBlock
	for _, g := range gaps {
		if g.Minutes < focusBlockMin {
			continue
		}
		label := "Focus block"
		if g.Minutes >= 120 {
			label = "Deep work block"
		}
		blocks = append(blocks, FocusBlock{
			Gap:   g,
			Label: fmt.Sprintf("%s (%dm)", label, g.Minutes),
		})
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Minutes > blocks[j].Minutes })
	return blocks
}
