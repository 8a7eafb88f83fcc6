package mapview

import (
	"errors"
	"math/rand"
	"strconv"
	"testing"

	"mealendar/internal/model"
)

// recordingCapability counts every call the component makes.
type recordingCapability struct {
	surfaces []*recordingSurface
	markers  []*recordingMarker
}

type recordingSurface struct {
	container string
	center    model.LatLng
	zoom      int
	fits      int
	zooms     []int
}

type recordingMarker struct {
	position model.LatLng
	label    string
	detached int
}

type recordingBounds struct {
	points []model.LatLng
}

func (c *recordingCapability) NewSurface(container string, center model.LatLng, zoom int) Surface {
	s := &recordingSurface{container: container, center: center, zoom: zoom}
	c.surfaces = append(c.surfaces, s)
	return s
}

func (c *recordingCapability) NewMarker(position model.LatLng, label string, _ Surface) Marker {
	m := &recordingMarker{position: position, label: label}
	c.markers = append(c.markers, m)
	return m
}

func (c *recordingCapability) NewBounds() Bounds { return &recordingBounds{} }

func (s *recordingSurface) FitBounds(Bounds)     { s.fits++ }
func (s *recordingSurface) SetZoom(level int)    { s.zooms = append(s.zooms, level) }
func (m *recordingMarker) Detach()               { m.detached++ }
func (b *recordingBounds) Extend(p model.LatLng) { b.points = append(b.points, p) }

func at(lat, lng float64) *model.LatLng {
	return &model.LatLng{Lat: lat, Lng: lng}
}

func mountedScene(t *testing.T) (*Component, *SceneSurface) {
	t.Helper()
	c := New(NewScene(800, 600), DefaultOptions())
	if err := c.Mount("map"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	return c, c.Surface().(*SceneSurface)
}

func TestComponent_MixedEvents(t *testing.T) {
	c, surface := mountedScene(t)

	c.Update([]model.Event{
		{ID: "1", Coord: at(37.50, 127.0)},
		{ID: "2"},
		{ID: "3", Coord: at(37.52, 127.05)},
	})

	got := surface.Markers()
	if len(got) != 2 {
		t.Fatalf("expected 2 markers, got %d", len(got))
	}
	want := []MarkerView{
		{Label: "1", Position: model.LatLng{Lat: 37.50, Lng: 127.0}},
		{Label: "2", Position: model.LatLng{Lat: 37.52, Lng: 127.05}},
	}
	for i, m := range got {
		if m.Label != want[i].Label || m.Position != want[i].Position {
			t.Errorf("marker %d = %s@%v, want %s@%v", i, m.Label, m.Position, want[i].Label, want[i].Position)
		}
	}

	visible := surface.Visible()
	for _, m := range got {
		if !visible.Contains(m.Position) {
			t.Errorf("viewport %+v does not contain %v", visible, m.Position)
		}
	}
	if surface.Zoom() > MaxZoom || surface.Zoom() < 0 {
		t.Errorf("zoom out of range: %d", surface.Zoom())
	}
}

func TestComponent_EmptyEventsKeepViewport(t *testing.T) {
	c, surface := mountedScene(t)

	c.Update(nil)

	if n := len(surface.Markers()); n != 0 {
		t.Fatalf("expected no markers, got %d", n)
	}
	if surface.Center() != DefaultCenter || surface.Zoom() != DefaultZoom {
		t.Errorf("viewport changed: center=%v zoom=%d", surface.Center(), surface.Zoom())
	}

	// A fitted viewport also survives an update without located events.
	c.Update([]model.Event{{ID: "a", Coord: at(35.1, 129.0)}, {ID: "b", Coord: at(35.2, 129.1)}})
	center, zoom := surface.Center(), surface.Zoom()

	c.Update([]model.Event{{ID: "c", Location: "somewhere"}})

	if n := len(surface.Markers()); n != 0 {
		t.Fatalf("expected no markers after update, got %d", n)
	}
	if surface.Center() != center || surface.Zoom() != zoom {
		t.Errorf("viewport reset: center=%v zoom=%d, want %v %d", surface.Center(), surface.Zoom(), center, zoom)
	}
}

func TestComponent_SingleMarkerZoom(t *testing.T) {
	opts := DefaultOptions()
	opts.SingleMarkerZoom = 16
	c := New(NewScene(0, 0), opts)
	if err := c.Mount("map"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	surface := c.Surface().(*SceneSurface)

	c.Update([]model.Event{{ID: "1", Coord: at(37.50, 127.0)}})

	markers := surface.Markers()
	if len(markers) != 1 || markers[0].Label != "1" {
		t.Fatalf("unexpected markers: %+v", markers)
	}
	if surface.Zoom() != 16 {
		t.Errorf("zoom = %d, want 16", surface.Zoom())
	}
	if surface.Center() != (model.LatLng{Lat: 37.50, Lng: 127.0}) {
		t.Errorf("center = %v", surface.Center())
	}
}

func TestComponent_UpdateIsIdempotent(t *testing.T) {
	c, surface := mountedScene(t)
	events := []model.Event{
		{ID: "1", Coord: at(37.5, 127.0)},
		{ID: "2", Coord: at(37.6, 127.1)},
	}

	c.Update(events)
	first := surface.Snapshot()
	c.Update(events)
	second := surface.Snapshot()

	if len(first.Markers) != len(second.Markers) {
		t.Fatalf("marker count changed: %d -> %d", len(first.Markers), len(second.Markers))
	}
	for i := range first.Markers {
		if first.Markers[i] != second.Markers[i] {
			t.Errorf("marker %d changed: %+v -> %+v", i, first.Markers[i], second.Markers[i])
		}
	}
	if first.Center != second.Center || first.Zoom != second.Zoom {
		t.Errorf("viewport changed between identical updates")
	}
}

func TestComponent_ReplacementDetachesPreviousMarkers(t *testing.T) {
	c, surface := mountedScene(t)

	c.Update([]model.Event{{ID: "a", Coord: at(1, 1)}, {ID: "b", Coord: at(2, 2)}})
	old := c.Markers()

	c.Update([]model.Event{{ID: "c", Coord: at(3, 3)}})

	for i, m := range old {
		if m.(*SceneMarker).Attached() {
			t.Errorf("marker %d from the previous list is still attached", i)
		}
	}
	got := surface.Markers()
	if len(got) != 1 || got[0].Position != (model.LatLng{Lat: 3, Lng: 3}) {
		t.Errorf("unexpected markers after replacement: %+v", got)
	}
}

func TestComponent_SurfaceCreatedOnce(t *testing.T) {
	rec := &recordingCapability{}
	c := New(rec, DefaultOptions())

	for i := 0; i < 3; i++ {
		if err := c.Mount("map"); err != nil {
			t.Fatalf("Mount() error = %v", err)
		}
		c.Update([]model.Event{{ID: strconv.Itoa(i), Coord: at(float64(i), 0)}})
	}

	if len(rec.surfaces) != 1 {
		t.Fatalf("expected 1 surface, got %d", len(rec.surfaces))
	}
	s := rec.surfaces[0]
	if s.center != DefaultCenter || s.zoom != DefaultZoom || s.container != "map" {
		t.Errorf("surface created with %+v", s)
	}
	// Every update had exactly one located event.
	if s.fits != 3 || len(s.zooms) != 3 {
		t.Errorf("fits=%d zooms=%v", s.fits, s.zooms)
	}
}

func TestComponent_DetachCalledOncePerMarker(t *testing.T) {
	rec := &recordingCapability{}
	c := New(rec, DefaultOptions())
	if err := c.Mount("map"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	c.Update([]model.Event{{ID: "a", Coord: at(1, 1)}, {ID: "b", Coord: at(2, 2)}})
	c.Update([]model.Event{{ID: "a", Coord: at(1, 1)}})
	c.Update(nil)

	for i, m := range rec.markers {
		if m.detached != 1 {
			t.Errorf("marker %d (%s) detached %d times", i, m.label, m.detached)
		}
	}
	if n := len(c.Markers()); n != 0 {
		t.Errorf("expected no remembered markers, got %d", n)
	}
}

func TestComponent_UpdateBeforeMount(t *testing.T) {
	scene := NewScene(800, 600)
	c := New(scene, DefaultOptions())

	c.Update([]model.Event{{ID: "1", Coord: at(37.5, 127.0)}, {ID: "2", Coord: at(37.6, 127.2)}})
	if c.Mounted() {
		t.Fatal("component mounted without Mount")
	}

	if err := c.Mount("map"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	if n := len(c.Surface().(*SceneSurface).Markers()); n != 2 {
		t.Errorf("expected markers derived on mount, got %d", n)
	}
}

func TestComponent_MissingCapability(t *testing.T) {
	c := New(nil, DefaultOptions())

	err := c.Mount("map")
	if !errors.Is(err, ErrMissingCapability) {
		t.Fatalf("Mount() error = %v, want ErrMissingCapability", err)
	}
	if c.Mounted() {
		t.Fatal("component mounted without capability")
	}

	c.Update([]model.Event{{ID: "1", Coord: at(37.5, 127.0)}})

	if err := c.CapabilityReady(NewScene(800, 600)); err != nil {
		t.Fatalf("CapabilityReady() error = %v", err)
	}
	if !c.Mounted() {
		t.Fatal("component not mounted after capability became ready")
	}
	surface := c.Surface().(*SceneSurface)
	if n := len(surface.Markers()); n != 1 {
		t.Errorf("expected replayed marker, got %d", n)
	}
	if surface.Zoom() != DefaultSingleMarkerZoom {
		t.Errorf("zoom = %d, want %d", surface.Zoom(), DefaultSingleMarkerZoom)
	}
}

func TestComponent_RandomSequences(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	c, surface := mountedScene(t)

	for round := 0; round < 50; round++ {
		n := rnd.Intn(12)
		events := make([]model.Event, n)
		var located []model.LatLng
		for i := range events {
			events[i].ID = strconv.Itoa(i)
			if rnd.Intn(3) > 0 {
				p := model.LatLng{Lat: 33 + rnd.Float64()*5, Lng: 125 + rnd.Float64()*5}
				events[i].Coord = &p
				located = append(located, p)
			}
		}

		before := surface.Snapshot()
		c.Update(events)
		markers := surface.Markers()

		if len(markers) != len(located) {
			t.Fatalf("round %d: %d markers for %d located events", round, len(markers), len(located))
		}
		for i, m := range markers {
			if m.Label != strconv.Itoa(i+1) {
				t.Errorf("round %d: marker %d label %q", round, i, m.Label)
			}
			if m.Position != located[i] {
				t.Errorf("round %d: marker %d at %v, want %v", round, i, m.Position, located[i])
			}
		}

		switch len(located) {
		case 0:
			if surface.Center() != before.Center || surface.Zoom() != before.Zoom {
				t.Errorf("round %d: viewport changed without located events", round)
			}
		case 1:
			if surface.Zoom() != DefaultSingleMarkerZoom {
				t.Errorf("round %d: zoom %d for a single marker", round, surface.Zoom())
			}
		default:
			visible := surface.Visible()
			for _, p := range located {
				if !visible.Contains(p) {
					t.Errorf("round %d: viewport misses %v", round, p)
				}
			}
		}
	}
}
