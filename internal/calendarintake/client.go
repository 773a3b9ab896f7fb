// Package calendarintake fetches calendar events over CalDAV and maps
// them to the typed records the classifier and resolver consume. The
// protocol itself is out of scope; only the CalendarEvent
// shape this package delivers is contractual.
package calendarintake

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/jamesgiroux/dailyos-core/internal/intake"
)

// Config identifies the CalDAV endpoint.
type Config struct {
	URL      string
	Username string
	Password string
}

// Client wraps a CalDAV connection.
type Client struct {
	cfg    Config
	client *caldav.Client
	logger *slog.Logger

	calendarPath string
}

// NewClient creates a CalDAV client. The connection is verified lazily
// on first fetch.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := webdav.HTTPClient(http.DefaultClient)
	if cfg.Username != "" {
		httpClient = webdav.HTTPClientWithBasicAuth(http.DefaultClient, cfg.Username, cfg.Password)
	}
	client, err := caldav.NewClient(httpClient, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("create caldav client: %w", err)
	}
	return &Client{cfg: cfg, client: client, logger: logger}, nil
}

// findCalendar discovers the principal's first calendar collection and
// caches its path.
func (c *Client) findCalendar(ctx context.Context) (string, error) {
	if c.calendarPath != "" {
		return c.calendarPath, nil
	}
	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := c.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("find calendar home set: %w", err)
	}
	calendars, err := c.client.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("find calendars: %w", err)
	}
	if len(calendars) == 0 {
		return "", fmt.Errorf("no calendars under %s", homeSet)
	}
	c.calendarPath = calendars[0].Path
	return c.calendarPath, nil
}

// FetchEvents returns events starting inside [from, to).
func (c *Client) FetchEvents(ctx context.Context, from, to time.Time) ([]intake.CalendarEvent, error) {
	path, err := c.findCalendar(ctx)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: from,
				End:   to,
			}},
		},
	}

	objects, err := c.client.QueryCalendar(ctx, path, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	var out []intake.CalendarEvent
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, comp := range obj.Data.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			ev, ok := eventFromComponent(comp)
			if !ok {
				continue
			}
			out = append(out, ev)
		}
	}
	c.logger.Debug("calendar fetch complete", "events", len(out), "from", from, "to", to)
	return out, nil
}

// eventFromComponent maps one VEVENT to the typed record.
func eventFromComponent(comp *ical.Component) (intake.CalendarEvent, bool) {
	ev := intake.CalendarEvent{}

	uid := comp.Props.Get(ical.PropUID)
	if uid == nil {
		return ev, false
	}
	ev.ID = uid.Value

	if p := comp.Props.Get(ical.PropSummary); p != nil {
		ev.Title = p.Value
	}
	if p := comp.Props.Get(ical.PropDescription); p != nil {
		ev.Description = p.Value
	}
	if p := comp.Props.Get(ical.PropOrganizer); p != nil {
		ev.Organizer = stripMailto(p.Value)
	}
	ev.IsRecurring = comp.Props.Get(ical.PropRecurrenceRule) != nil

	if p := comp.Props.Get(ical.PropDateTimeStart); p != nil {
		if t, err := p.DateTime(time.UTC); err == nil {
			ev.Start = t.UTC().Format(time.RFC3339)
		}
		// DATE-valued starts mark all-day events.
		if strings.EqualFold(p.Params.Get(ical.ParamValue), "DATE") {
			ev.IsAllDay = true
		}
	}
	if p := comp.Props.Get(ical.PropDateTimeEnd); p != nil {
		if t, err := p.DateTime(time.UTC); err == nil {
			ev.End = t.UTC().Format(time.RFC3339)
		}
	}

	for _, p := range comp.Props.Values(ical.PropAttendee) {
		addr := stripMailto(p.Value)
		if strings.Contains(addr, "@") {
			ev.Attendees = append(ev.Attendees, strings.ToLower(addr))
		}
	}
	return ev, true
}

func stripMailto(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "mailto:")
}
