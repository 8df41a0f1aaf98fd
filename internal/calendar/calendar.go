// Package calendar reads today's events from a CalDAV server for the
// agenda section of the morning brief.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/valetlabs/valet/internal/httpkit"
)

// Event is a single calendar entry.
type Event struct {
	Summary  string    `json:"summary"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end,omitempty"`
	Location string    `json:"location,omitempty"`
}

// Line renders an event as a single digest line in the viewer's zone.
func (e *Event) Line(loc *time.Location) string {
	s := e.Start.In(loc).Format("15:04") + " " + e.Summary
	if e.Location != "" {
		s += " @ " + e.Location
	}
	return s
}

// Source is the calendar collaborator interface.
type Source interface {
	// Today returns events starting within the calendar day that
	// contains now in loc, sorted by start time.
	Today(ctx context.Context, loc *time.Location, now time.Time) ([]Event, error)
}

// CalDAV implements Source against a CalDAV endpoint.
type CalDAV struct {
	client *caldav.Client
}

// NewCalDAV creates a CalDAV source with HTTP basic auth.
func NewCalDAV(endpoint, username, password string) (*CalDAV, error) {
	httpClient := httpkit.NewClient(httpkit.WithTimeout(30 * time.Second))
	var hc webdav.HTTPClient = httpClient
	if username != "" {
		hc = webdav.HTTPClientWithBasicAuth(httpClient, username, password)
	}
	client, err := caldav.NewClient(hc, endpoint)
	if err != nil {
		return nil, fmt.Errorf("calendar: create client: %w", err)
	}
	return &CalDAV{client: client}, nil
}

// Today queries every discoverable calendar for events in today's window.
func (c *CalDAV) Today(ctx context.Context, loc *time.Location, now time.Time) ([]Event, error) {
	start, end := dayBounds(now, loc)

	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("calendar: find principal: %w", err)
	}
	homeSet, err := c.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("calendar: find home set: %w", err)
	}
	calendars, err := c.client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("calendar: list calendars: %w", err)
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{{
				Name:     "VEVENT",
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: start,
				End:   end,
			}},
		},
	}

	var events []Event
	for _, cal := range calendars {
		objects, err := c.client.QueryCalendar(ctx, cal.Path, query)
		if err != nil {
			return nil, fmt.Errorf("calendar: query %s: %w", cal.Path, err)
		}
		for _, obj := range objects {
			if obj.Data == nil {
				continue
			}
			events = append(events, extractEvents(obj.Data, loc, start, end)...)
		}
	}

	sortEvents(events)
	return events, nil
}

// extractEvents pulls VEVENTs from a parsed calendar, keeping only
// those that start inside [start, end).
func extractEvents(cal *ical.Calendar, loc *time.Location, start, end time.Time) []Event {
	var out []Event
	for _, ev := range cal.Events() {
		evStart, err := ev.DateTimeStart(loc)
		if err != nil || evStart.Before(start) || !evStart.Before(end) {
			continue
		}
		e := Event{Start: evStart}
		if s, err := ev.Props.Text(ical.PropSummary); err == nil {
			e.Summary = s
		}
		if l, err := ev.Props.Text(ical.PropLocation); err == nil {
			e.Location = l
		}
		if evEnd, err := ev.DateTimeEnd(loc); err == nil {
			e.End = evEnd
		}
		out = append(out, e)
	}
	return out
}

// sortEvents orders events by start time, stable on equal starts.
func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
}

// dayBounds returns midnight-to-midnight around now in loc.
func dayBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
