package model

import (
	"fmt"
	"time"
)

// LatLng is a WGS84 coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p LatLng) String() string {
	return fmt.Sprintf("(%.5f,%.5f)", p.Lat, p.Lng)
}

// Valid reports whether the coordinate lies inside the WGS84 range.
func (p LatLng) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Event is a single calendar entry for the schedule, map and chat panels.
// Recurring entries are already expanded by the calendar source, so each
// Event is one concrete occurrence.
type Event struct {
	// SourceID names the calendar source (e.g. "google", an ICS id).
	SourceID string
	// ID is the provider's identifier, unique within its source.
	ID string

	Title       string
	Description string
	Location    string

	// AllDay events carry a date-only start; Start is midnight in the
	// display timezone.
	AllDay bool
	Start  time.Time
	End    time.Time

	// Coord is nil when the event has no geocoded position.
	Coord *LatLng
}

// HasCoord reports whether the event can be placed on the map.
func (e Event) HasCoord() bool {
	return e.Coord != nil
}

// Key returns an identifier unique across sources.
func (e Event) Key() string {
	return e.SourceID + "/" + e.ID
}
