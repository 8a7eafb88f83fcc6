package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "mealendar/internal/log"
	"mealendar/internal/model"
)

// ParsedEvent is a VEVENT before recurrence expansion.
type ParsedEvent struct {
	FeedID string

	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	// Geo comes from the GEO property, when present and well-formed.
	Geo *model.LatLng

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, in the event's own timezone
}

// IsOverride reports whether the VEVENT replaces one recurring instance.
func (e ParsedEvent) IsOverride() bool {
	return e.Recurrence != nil
}

// Parse decodes an ICS payload. Broken VEVENTs are logged and skipped.
func Parse(feedID string, body []byte) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse %s: %w", feedID, err)
	}

	events := make([]ParsedEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(feedID, ve)
		if err != nil {
			appLog.Warn("ics vevent skipped", "id", feedID, "err", err)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", feedID, "event_count", len(events))
	return events, nil
}

func parseVEvent(feedID string, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{FeedID: feedID}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Seq = n
		}
	}
	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)

	if p := ve.GetProperty(ical.ComponentPropertyGeo); p != nil {
		if g, err := ParseGeo(p.Value); err == nil {
			out.Geo = &g
		} else {
			appLog.Debug("ics bad GEO ignored", "uid", out.UID, "value", p.Value)
		}
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("%s: missing DTSTART", out.UID)
	}
	out.AllDay = isDateValue(dtStart)

	var err error
	if out.AllDay {
		out.Start, err = ve.GetAllDayStartAt()
	} else {
		out.Start, err = ve.GetStartAt()
	}
	if err != nil {
		return out, fmt.Errorf("%s: DTSTART: %w", out.UID, err)
	}

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		if out.AllDay {
			out.End, err = ve.GetAllDayEndAt()
		} else {
			out.End, err = ve.GetEndAt()
		}
		if err != nil {
			return out, fmt.Errorf("%s: DTEND: %w", out.UID, err)
		}
	case out.AllDay:
		out.End = out.Start.AddDate(0, 0, 1)
	default:
		out.End = out.Start
	}
	if out.End.Before(out.Start) {
		out.End = out.Start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := paramLocation(p, out.Start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := ParseTime(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		if t, err := ParseTime(p.Value, paramLocation(p, out.Start.Location())); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

// isDateValue reports VALUE=DATE or a value without a time part.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func paramLocation(p *ical.IANAProperty, fallback *time.Location) *time.Location {
	if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
		if loc, err := time.LoadLocation(tz[0]); err == nil {
			return loc
		}
	}
	if fallback == nil {
		return time.Local
	}
	return fallback
}

// ParseGeo parses the RFC 5545 GEO value "lat;lon".
func ParseGeo(v string) (model.LatLng, error) {
	latS, lngS, ok := strings.Cut(strings.TrimSpace(v), ";")
	if !ok {
		return model.LatLng{}, fmt.Errorf("geo %q: missing ';'", v)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	if err != nil {
		return model.LatLng{}, err
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngS), 64)
	if err != nil {
		return model.LatLng{}, err
	}
	g := model.LatLng{Lat: lat, Lng: lng}
	if !g.Valid() {
		return model.LatLng{}, fmt.Errorf("geo %q out of range", v)
	}
	return g, nil
}

// ParseTime parses DATE and DATE-TIME values such as EXDATE and RECURRENCE-ID.
// Floating and date values are read in loc.
func ParseTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
