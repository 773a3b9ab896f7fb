package intake

import (
	"sort"
	"time"
)

// OverlayStatus marks how a briefing meeting relates to live calendar
// data after the merge.
type OverlayStatus string

const (
	// OverlayBriefingOnly means no live calendar data was available.
	OverlayBriefingOnly OverlayStatus = "briefing_only"
	// OverlayEnriched means live timing merged with briefing enrichment.
	OverlayEnriched OverlayStatus = "enriched"
	// OverlayNew means the event exists only in the live calendar.
	OverlayNew OverlayStatus = "new"
	// OverlayCancelled means the briefing meeting vanished from the
	// live calendar.
	OverlayCancelled OverlayStatus = "cancelled"
)

// BriefingMeeting is the persisted, enriched view of a meeting.
type BriefingMeeting struct {
	ID              string        `json:"id"`
	CalendarEventID string        `json:"calendarEventId,omitempty"`
	Time            string        `json:"time"` // display time, "9:00 AM"
	EndTime         string        `json:"endTime,omitempty"`
	StartISO        string        `json:"startIso,omitempty"`
	Title           string        `json:"title"`
	MeetingType     string        `json:"meetingType"`
	HasPrep         bool          `json:"hasPrep"`
	OverlayStatus   OverlayStatus `json:"overlayStatus,omitempty"`
}

// LiveEvent is one live calendar event entering the merge.
type LiveEvent struct {
	ID          string
	Title       string
	MeetingType string
	Start       time.Time
	End         time.Time
	IsAllDay    bool
}

// MergeMeetings overlays briefing meetings with live calendar events.
// The live calendar is the source of truth for which meetings exist;
// briefing enrichment is matched on calendar event ID. Only live events
// on `today` (in loc) participate. The result sorts by the lexicographic
// display-time key — callers wanting strict chronological order across
// the noon boundary should sort on StartISO instead.
func MergeMeetings(briefing []BriefingMeeting, live []LiveEvent, today time.Time, loc *time.Location) []BriefingMeeting {
	if loc == nil {
		loc = time.Local
	}
	if len(live) == 0 {
		out := make([]BriefingMeeting, len(briefing))
		for i, m := range briefing {
			m.OverlayStatus = OverlayBriefingOnly
			out[i] = m
		}
		return out
	}

	byEventID := make(map[string]BriefingMeeting)
	var noID []BriefingMeeting
	for _, m := range briefing {
		if m.CalendarEventID != "" {
			byEventID[m.CalendarEventID] = m
		} else {
			noID = append(noID, m)
		}
	}

	todayY, todayM, todayD := today.In(loc).Date()
	var result []BriefingMeeting

	for _, ev := range live {
		if ev.IsAllDay || ev.MeetingType == TypePersonal {
			continue
		}
		y, m, d := ev.Start.In(loc).Date()
		if y != todayY || m != todayM || d != todayD {
			continue
		}

		if enriched, ok := byEventID[ev.ID]; ok {
			delete(byEventID, ev.ID)
			enriched.Time = displayTime(ev.Start, loc)
			enriched.EndTime = displayTime(ev.End, loc)
			enriched.StartISO = ev.Start.Format(time.RFC3339)
			enriched.Title = ev.Title
			enriched.OverlayStatus = OverlayEnriched
			result = append(result, enriched)
			continue
		}
		result = append(result, BriefingMeeting{
			ID:              ev.ID,
			CalendarEventID: ev.ID,
			Time:            displayTime(ev.Start, loc),
			EndTime:         displayTime(ev.End, loc),
			StartISO:        ev.Start.Format(time.RFC3339),
			Title:           ev.Title,
			MeetingType:     ev.MeetingType,
			OverlayStatus:   OverlayNew,
		})
	}

	for _, m := range byEventID {
		m.OverlayStatus = OverlayCancelled
		result = append(result, m)
	}
	for _, m := range noID {
		m.OverlayStatus = OverlayBriefingOnly
		result = append(result, m)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Time < result[j].Time })
	return result
}

// displayTime renders "9:00 AM"-style display strings.
func displayTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("3:04 PM")
}
