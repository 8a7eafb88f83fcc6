package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	appLog "mealendar/internal/log"
	"mealendar/internal/model"
)

// GoogleSourceID is the SourceID of events read from Google Calendar.
const GoogleSourceID = "google"

// Google reads a user's Google calendar.
type Google struct {
	service    *gcal.Service
	calendarID string
	maxResults int64
}

// NewGoogle creates a Google Calendar client on httpClient, which must
// carry the user's OAuth token. A non-empty endpoint overrides the API
// base URL (tests, proxies).
func NewGoogle(ctx context.Context, httpClient *http.Client, calendarID string, maxResults int, endpoint string) (*Google, error) {
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	srv, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	if maxResults <= 0 {
		maxResults = 50
	}
	return &Google{service: srv, calendarID: calendarID, maxResults: int64(maxResults)}, nil
}

func (g *Google) Name() string { return GoogleSourceID }

// Location returns the calendar's own timezone.
func (g *Google) Location(ctx context.Context) (*time.Location, error) {
	cal, err := g.service.Calendars.Get(g.calendarID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to get calendar: %w", err)
	}
	if cal.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(cal.TimeZone)
	if err != nil {
		appLog.Warn("unknown calendar timezone, using UTC", "tz", cal.TimeZone)
		return time.UTC, nil
	}
	return loc, nil
}

// Events lists single (expanded) events ordered by start time.
func (g *Google) Events(ctx context.Context, start, end time.Time) ([]model.Event, error) {
	resp, err := g.service.Events.List(g.calendarID).
		Context(ctx).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		MaxResults(g.maxResults).
		SingleEvents(true).
		OrderBy("startTime").
		Do()
	if err != nil {
		return nil, fmt.Errorf("unable to list events: %w", err)
	}

	loc := start.Location()
	out := make([]model.Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Status == "cancelled" {
			continue
		}
		ev, err := mapGoogleEvent(item, loc)
		if err != nil {
			appLog.Warn("google event skipped", "id", item.Id, "err", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func mapGoogleEvent(item *gcal.Event, loc *time.Location) (model.Event, error) {
	ev := model.Event{
		SourceID:    GoogleSourceID,
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
	}
	if item.Start == nil {
		return ev, fmt.Errorf("event has no start")
	}

	var err error
	ev.Start, ev.AllDay, err = parseEventTime(item.Start, loc)
	if err != nil {
		return ev, fmt.Errorf("start: %w", err)
	}
	if item.End != nil {
		ev.End, _, err = parseEventTime(item.End, loc)
		if err != nil {
			return ev, fmt.Errorf("end: %w", err)
		}
	}
	if ev.End.IsZero() || ev.End.Before(ev.Start) {
		ev.End = ev.Start
	}
	return ev, nil
}

// parseEventTime reads DateTime (timed) or Date (all-day) into loc.
func parseEventTime(t *gcal.EventDateTime, loc *time.Location) (time.Time, bool, error) {
	if t.DateTime != "" {
		v, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false, err
		}
		return v.In(loc), false, nil
	}
	if t.Date != "" {
		v, err := time.ParseInLocation("2006-01-02", t.Date, loc)
		return v, true, err
	}
	return time.Time{}, false, fmt.Errorf("neither date nor dateTime set")
}
