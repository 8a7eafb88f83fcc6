package mapview

import (
	"errors"
	"strconv"

	appLog "mealendar/internal/log"
	"mealendar/internal/model"
)

// ErrMissingCapability is returned by Mount when no mapping capability has
// been injected yet. The container is remembered; CapabilityReady mounts it
// once the capability shows up.
var ErrMissingCapability = errors.New("mapview: mapping capability unavailable")

// Default view used before any event has a position.
const (
	DefaultZoom             = 12
	DefaultSingleMarkerZoom = 15
)

// DefaultCenter is the fallback map centre (Seoul City Hall).
var DefaultCenter = model.LatLng{Lat: 37.5665, Lng: 126.978}

// Options configures the initial view of a Component.
type Options struct {
	Center model.LatLng
	Zoom   int
	// SingleMarkerZoom replaces the fitted zoom when exactly one event has
	// a position, since a one-point bounds has no meaningful extent.
	SingleMarkerZoom int
}

// DefaultOptions returns the built-in view settings.
func DefaultOptions() Options {
	return Options{
		Center:           DefaultCenter,
		Zoom:             DefaultZoom,
		SingleMarkerZoom: DefaultSingleMarkerZoom,
	}
}

// Component owns one map surface and the markers derived from the most
// recent event list.
//
// A Component is not safe for concurrent use; callers serialise Mount,
// Update and CapabilityReady (the dashboard does so per session).
type Component struct {
	capability Capability
	opts       Options

	container string
	surface   Surface
	markers   []Marker

	// events is the last list passed to Update. It is replayed whenever the
	// surface appears after the events did.
	events    []model.Event
	hasEvents bool
}

// New returns a Component that will draw through capability. A nil
// capability is allowed; see ErrMissingCapability.
func New(capability Capability, opts Options) *Component {
	if opts.Zoom <= 0 {
		opts.Zoom = DefaultZoom
	}
	if opts.SingleMarkerZoom <= 0 {
		opts.SingleMarkerZoom = DefaultSingleMarkerZoom
	}
	return &Component{
		capability: capability,
		opts:       opts,
	}
}

// Mount creates the map surface inside container. It is a no-op once a
// surface exists.
func (c *Component) Mount(container string) error {
	if c.surface != nil {
		return nil
	}
	c.container = container

	if c.capability == nil {
		appLog.Warn("map surface not created: mapping capability unavailable", "container", container)
		return ErrMissingCapability
	}

	c.surface = c.capability.NewSurface(container, c.opts.Center, c.opts.Zoom)
	appLog.Debug("map surface created",
		"container", container,
		"center", c.opts.Center.String(),
		"zoom", c.opts.Zoom,
	)

	// The surface reference changed; derive markers for what we already have.
	if c.hasEvents {
		c.sync()
	}
	return nil
}

// CapabilityReady injects a capability that was unavailable at
// construction and mounts the container remembered by an earlier Mount.
// It does nothing if a capability is already present.
func (c *Component) CapabilityReady(capability Capability) error {
	if c.capability != nil || capability == nil {
		return nil
	}
	c.capability = capability
	if c.container == "" {
		return nil
	}
	return c.Mount(c.container)
}

// Update replaces the event list and reconciles the markers against it.
// Without a surface the list is only remembered.
func (c *Component) Update(events []model.Event) {
	c.events = append(c.events[:0:0], events...)
	c.hasEvents = true

	if c.surface == nil {
		return
	}
	c.sync()
}

// sync detaches every previous marker, creates one marker per located event
// and fits the viewport to them.
func (c *Component) sync() {
	for _, m := range c.markers {
		m.Detach()
	}

	bounds := c.capability.NewBounds()
	located := 0
	markers := make([]Marker, 0, len(c.events))

	for _, ev := range c.events {
		if ev.Coord == nil {
			continue
		}
		located++
		m := c.capability.NewMarker(*ev.Coord, strconv.Itoa(located), c.surface)
		markers = append(markers, m)
		bounds.Extend(*ev.Coord)
	}
	c.markers = markers

	if located > 0 {
		c.surface.FitBounds(bounds)
		if located == 1 {
			c.surface.SetZoom(c.opts.SingleMarkerZoom)
		}
	}

	appLog.Debug("map markers synchronized", "events", len(c.events), "markers", located)
}

// Mounted reports whether the surface exists.
func (c *Component) Mounted() bool {
	return c.surface != nil
}

// Surface returns the map surface, or nil before Mount succeeds.
func (c *Component) Surface() Surface {
	return c.surface
}

// Markers returns the markers created by the last reconciliation.
func (c *Component) Markers() []Marker {
	return append([]Marker(nil), c.markers...)
}
