package calendar

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"mealendar/internal/ics"
	appLog "mealendar/internal/log"
	"mealendar/internal/model"
)

// CalDAV reads one calendar collection from a CalDAV server.
type CalDAV struct {
	id     string
	path   string
	client *caldav.Client
}

// NewCalDAV creates a client for the collection at calendarPath on
// endpoint. Credentials are optional.
func NewCalDAV(id, endpoint, calendarPath, username, password string, httpClient *http.Client) (*CalDAV, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid CalDAV server URL: %w", err)
	}

	var hc webdav.HTTPClient = http.DefaultClient
	if httpClient != nil {
		hc = httpClient
	}
	if username != "" && password != "" {
		hc = webdav.HTTPClientWithBasicAuth(hc, username, password)
	}

	c, err := caldav.NewClient(hc, base.String())
	if err != nil {
		return nil, fmt.Errorf("failed to create CalDAV client: %w", err)
	}
	if id == "" {
		id = "caldav"
	}
	return &CalDAV{id: id, path: calendarPath, client: c}, nil
}

func (c *CalDAV) Name() string { return c.id }

// Events runs a time-range calendar-query and expands recurrences locally.
func (c *CalDAV) Events(ctx context.Context, start, end time.Time) ([]model.Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     "VCALENDAR",
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: start.UTC(),
				End:   end.UTC(),
			}},
		},
	}

	objects, err := c.client.QueryCalendar(ctx, c.path, query)
	if err != nil {
		return nil, fmt.Errorf("caldav %s: query: %w", c.id, err)
	}

	var parsed []ics.ParsedEvent
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, comp := range obj.Data.Component.Children {
			if comp.Name != "VEVENT" {
				continue
			}
			ev, err := componentToParsed(c.id, comp, start.Location())
			if err != nil {
				appLog.Warn("caldav vevent skipped", "id", c.id, "path", obj.Path, "err", err)
				continue
			}
			parsed = append(parsed, ev)
		}
	}

	res, err := ics.Expand(parsed, ics.ExpandConfig{
		Location:   start.Location(),
		RangeStart: start,
		RangeEnd:   end,
	})
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

// componentToParsed converts a go-ical VEVENT into the shape ics.Expand
// works on. Floating times are read in loc.
func componentToParsed(feedID string, comp *ical.Component, loc *time.Location) (ics.ParsedEvent, error) {
	out := ics.ParsedEvent{
		FeedID:      feedID,
		UID:         rawProp(comp.Props, "UID"),
		Summary:     textProp(comp.Props, "SUMMARY"),
		Description: textProp(comp.Props, "DESCRIPTION"),
		Location:    textProp(comp.Props, "LOCATION"),
		RawRRule:    rawProp(comp.Props, "RRULE"),
	}
	if out.UID == "" {
		return out, fmt.Errorf("missing UID")
	}
	if g := rawProp(comp.Props, "GEO"); g != "" {
		if geo, err := ics.ParseGeo(g); err == nil {
			out.Geo = &geo
		}
	}

	dtStart := comp.Props.Get("DTSTART")
	if dtStart == nil {
		return out, fmt.Errorf("%s: missing DTSTART", out.UID)
	}
	out.AllDay = strings.EqualFold(dtStart.Params.Get("VALUE"), "DATE") || !strings.Contains(dtStart.Value, "T")

	var err error
	out.Start, err = ics.ParseTime(dtStart.Value, propLocation(dtStart, loc))
	if err != nil {
		return out, fmt.Errorf("%s: DTSTART: %w", out.UID, err)
	}

	switch dtEnd := comp.Props.Get("DTEND"); {
	case dtEnd != nil:
		out.End, err = ics.ParseTime(dtEnd.Value, propLocation(dtEnd, loc))
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

	for _, p := range comp.Props["EXDATE"] {
		ploc := propLocation(&p, out.Start.Location())
		for _, v := range strings.Split(p.Value, ",") {
			if t, err := ics.ParseTime(v, ploc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}
	if rid := comp.Props.Get("RECURRENCE-ID"); rid != nil {
		if t, err := ics.ParseTime(rid.Value, propLocation(rid, out.Start.Location())); err == nil {
			out.Recurrence = &t
		}
	}
	return out, nil
}

// textProp returns the unescaped TEXT value of name. A bare comma, which
// go-ical reads as a list separator, is kept.
func textProp(props ical.Props, name string) string {
	prop := props.Get(name)
	if prop == nil {
		return ""
	}
	parts, err := prop.TextList()
	if err != nil {
		return prop.Value
	}
	return strings.Join(parts, ",")
}

func rawProp(props ical.Props, name string) string {
	prop := props.Get(name)
	if prop == nil {
		return ""
	}
	return prop.Value
}

func propLocation(p *ical.Prop, fallback *time.Location) *time.Location {
	if tzid := p.Params.Get("TZID"); tzid != "" {
		if loc, err := time.LoadLocation(tzid); err == nil {
			return loc
		}
	}
	return fallback
}
