// Package calendar lists one day of events from the configured providers:
// the signed-in user's Google calendar and shared ICS / CalDAV calendars.
package calendar

import (
	"context"
	"sort"
	"time"

	"mealendar/internal/ics"
	"mealendar/internal/model"
)

// Source lists the events overlapping [start, end). Event times are in
// start's location.
type Source interface {
	Name() string
	Events(ctx context.Context, start, end time.Time) ([]model.Event, error)
}

// ICS adapts an ICS feed to Source.
type ICS struct {
	cal *ics.Calendar
}

// NewICS returns a Source for an ICS feed.
func NewICS(feed ics.Feed, fetcher *ics.Fetcher) *ICS {
	return &ICS{cal: ics.NewCalendar(feed, fetcher)}
}

func (s *ICS) Name() string { return s.cal.Name() }

func (s *ICS) Events(ctx context.Context, start, end time.Time) ([]model.Event, error) {
	res, err := s.cal.Events(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

// Merge concatenates lists and sorts by start time. Events starting at the
// same instant keep their input order.
func Merge(lists ...[]model.Event) []model.Event {
	var out []model.Event
	for _, l := range lists {
		out = append(out, l...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// DayWindow returns [00:00, next 00:00) of day's date in loc.
func DayWindow(day time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
