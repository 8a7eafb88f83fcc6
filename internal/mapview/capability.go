// Package mapview keeps a set of map markers consistent with a list of
// calendar events.
//
// The package never talks to a concrete map provider directly. A Component
// receives a Capability at construction time and drives the provider only
// through it: create a surface once, create/detach markers, grow a bounds
// accumulator and fit the viewport. Scene is the in-process Capability used
// by the dashboard server; a browser page replays its snapshot onto the real
// map widget.
package mapview

import "mealendar/internal/model"

// Capability is the mapping service a Component is wired to.
type Capability interface {
	// NewSurface creates a map bound to container, centred on center.
	NewSurface(container string, center model.LatLng, zoom int) Surface
	// NewMarker creates a marker at position and attaches it to surface.
	NewMarker(position model.LatLng, label string, surface Surface) Marker
	// NewBounds returns an empty bounds accumulator.
	NewBounds() Bounds
}

// Surface is a live map instance.
type Surface interface {
	FitBounds(b Bounds)
	SetZoom(level int)
}

// Marker is a point annotation attached to a Surface.
type Marker interface {
	// Detach removes the marker from its surface. Detaching an already
	// detached marker is a no-op.
	Detach()
}

// Bounds grows to enclose every position passed to Extend.
type Bounds interface {
	Extend(p model.LatLng)
}
