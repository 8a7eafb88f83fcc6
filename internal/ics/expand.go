package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "mealendar/internal/log"
	"mealendar/internal/model"
)

const defaultMaxOccurrences = 5000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// Location is the display timezone. Nil means time.Local.
	Location *time.Location

	// RangeStart/RangeEnd is the half-open window [start, end) occurrences
	// must overlap.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrences caps the instances produced by one RRULE.
	MaxOccurrences int
}

// ExpandResult holds the concrete occurrences, sorted by start time.
type ExpandResult struct {
	Events []model.Event
	// Truncated lists UIDs that hit MaxOccurrences.
	Truncated []string
}

// Expand turns parsed VEVENTs into concrete events inside the window. It
// handles single events, RRULE recurrences, EXDATE removals and
// RECURRENCE-ID overrides. All-day events keep their calendar date in the
// display timezone.
func Expand(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult
	if !cfg.RangeEnd.After(cfg.RangeStart) {
		return result, errors.New("ics: expand window is empty")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	bases := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	var order []string
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := bases[ev.UID]; !seen {
			order = append(order, ev.UID)
		}
		bases[ev.UID] = append(bases[ev.UID], ev)
	}

	for _, uid := range order {
		for _, ev := range bases[uid] {
			var (
				occ    []model.Event
				hitCap bool
			)
			if ev.RawRRule == "" {
				occ = expandSingle(ev, cfg)
			} else {
				occ, hitCap = expandRecurring(ev, overrides[uid], cfg)
			}
			result.Events = append(result.Events, occ...)
			if hitCap {
				result.Truncated = append(result.Truncated, uid)
				appLog.Warn("ics expansion truncated", "uid", uid, "cap", cfg.MaxOccurrences)
			}
		}
	}

	sort.SliceStable(result.Events, func(i, j int) bool {
		return result.Events[i].Start.Before(result.Events[j].Start)
	})
	return result, nil
}

func expandSingle(ev ParsedEvent, cfg ExpandConfig) []model.Event {
	e := toEvent(ev, ev.Start, ev.End, cfg.Location)
	if !overlaps(e.Start, e.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	e.ID = ev.UID
	return []model.Event{e}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	opt, err := rrule.StrToROptionInLocation(ev.RawRRule, ev.Start.Location())
	if err != nil {
		appLog.Warn("ics bad RRULE", "uid", ev.UID, "rrule", ev.RawRRule, "err", err)
		return nil, false
	}
	opt.Dtstart = ev.Start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		appLog.Warn("ics bad RRULE", "uid", ev.UID, "rrule", ev.RawRRule, "err", err)
		return nil, false
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the query by the event duration so instances that started
	// before the window but still run into it are included.
	dur := ev.End.Sub(ev.Start)
	from := cfg.RangeStart.Add(-dur).Add(-24 * time.Hour).In(ev.Start.Location())
	to := cfg.RangeEnd.Add(24 * time.Hour).In(ev.Start.Location())
	starts := set.Between(from, to, true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrences {
		starts = starts[:cfg.MaxOccurrences]
		hitCap = true
	}

	var out []model.Event
	for _, s := range starts {
		src, start, end := ev, s, s.Add(dur)
		if o, ok := findOverride(overrides, s); ok {
			src, start, end = o, o.Start, o.End
		}
		e := toEvent(src, start, end, cfg.Location)
		if !overlaps(e.Start, e.End, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		e.ID = ev.UID + "@" + s.UTC().Format("20060102T150405Z")
		out = append(out, e)
	}
	return out, hitCap
}

func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, o := range overrides {
		if o.Recurrence != nil && o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}

// toEvent converts one occurrence into the display timezone.
func toEvent(ev ParsedEvent, start, end time.Time, loc *time.Location) model.Event {
	e := model.Event{
		SourceID:    ev.FeedID,
		Title:       ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
	}
	if ev.AllDay {
		// Dates float: 2024-05-01 stays 2024-05-01 in every timezone.
		e.Start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		days := int(end.Sub(start).Round(24*time.Hour) / (24 * time.Hour))
		if days < 1 {
			days = 1
		}
		e.End = e.Start.AddDate(0, 0, days)
	} else {
		e.Start = start.In(loc)
		e.End = end.In(loc)
	}
	if ev.Geo != nil {
		g := *ev.Geo
		e.Coord = &g
	}
	return e
}

// overlaps reports whether [aStart, aEnd) intersects [bStart, bEnd). A
// zero-length event counts when its instant lies inside b.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !aEnd.After(aStart) {
		return !aStart.Before(bStart) && aStart.Before(bEnd)
	}
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
