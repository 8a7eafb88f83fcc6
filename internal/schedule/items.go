package schedule

import (
	"strconv"
	"time"

	"mealendar/internal/model"
)

// AllDayLabel is the time label of all-day events.
const AllDayLabel = "All day"

// Item is the JSON form of one event in the schedule panel.
type Item struct {
	ID          string        `json:"id"`
	Source      string        `json:"source"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Location    string        `json:"location,omitempty"`
	AllDay      bool          `json:"all_day"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	TimeLabel   string        `json:"time_label"`
	Coord       *model.LatLng `json:"coord"`
	// Number is the 1-based position in the list.
	Number int `json:"number"`
	// MarkerLabel is the label of the event's map marker, or empty when the
	// event has no coordinate. It matches the numbering the map uses.
	MarkerLabel string `json:"marker_label,omitempty"`
}

// Response is the body of the events endpoint.
type Response struct {
	Date     string `json:"date"`
	Timezone string `json:"timezone"`
	Events   []Item `json:"events"`
}

// Items converts events to their panel form. Times are shown in loc.
func Items(events []model.Event, loc *time.Location) []Item {
	items := make([]Item, 0, len(events))
	located := 0
	for i, ev := range events {
		it := Item{
			ID:          ev.ID,
			Source:      ev.SourceID,
			Title:       ev.Title,
			Description: ev.Description,
			Location:    ev.Location,
			AllDay:      ev.AllDay,
			Start:       ev.Start.In(loc),
			End:         ev.End.In(loc),
			TimeLabel:   TimeLabel(ev, loc),
			Coord:       ev.Coord,
			Number:      i + 1,
		}
		if ev.HasCoord() {
			located++
			it.MarkerLabel = strconv.Itoa(located)
		}
		items = append(items, it)
	}
	return items
}

// TimeLabel is "All day" or the start as HH:MM in loc.
func TimeLabel(ev model.Event, loc *time.Location) string {
	if ev.AllDay {
		return AllDayLabel
	}
	return ev.Start.In(loc).Format("15:04")
}

// NewResponse builds the events endpoint body for d.
func NewResponse(d *Day) Response {
	return Response{
		Date:     d.Date,
		Timezone: d.Location.String(),
		Events:   Items(d.Events, d.Location),
	}
}
