package mapview

import (
	"math"

	"mealendar/internal/model"
)

// Scene defaults. Padding follows what browser map widgets leave around
// fitted bounds.
const (
	DefaultSceneWidth   = 960
	DefaultSceneHeight  = 720
	DefaultScenePadding = 40
	MaxZoom             = 21
)

// Scene is an in-process Capability. Its surfaces keep the view state
// (centre, zoom, attached markers) in memory so the server can hand a
// snapshot to the browser, which draws it with the real map widget.
type Scene struct {
	Width   int
	Height  int
	Padding int
}

// NewScene returns a Scene for a width x height pixel viewport. Zero values
// fall back to the defaults.
func NewScene(width, height int) *Scene {
	if width <= 0 {
		width = DefaultSceneWidth
	}
	if height <= 0 {
		height = DefaultSceneHeight
	}
	return &Scene{Width: width, Height: height, Padding: DefaultScenePadding}
}

func (s *Scene) NewSurface(container string, center model.LatLng, zoom int) Surface {
	return &SceneSurface{
		container: container,
		center:    center,
		zoom:      clampZoom(zoom),
		width:     s.Width,
		height:    s.Height,
		padding:   s.Padding,
	}
}

// NewMarker attaches the marker when surface belongs to a Scene; any other
// surface gets a detached marker.
func (s *Scene) NewMarker(position model.LatLng, label string, surface Surface) Marker {
	m := &SceneMarker{Position: position, Label: label}
	if ss, ok := surface.(*SceneSurface); ok {
		ss.attach(m)
	}
	return m
}

func (s *Scene) NewBounds() Bounds {
	return &LatLngBounds{}
}

// SceneSurface is the map state behind one mounted Component.
type SceneSurface struct {
	container string
	center    model.LatLng
	zoom      int
	width     int
	height    int
	padding   int

	markers []*SceneMarker
	fitted  *LatLngBounds
}

// FitBounds centres the view on b and picks the largest zoom that shows
// all of it. Empty or foreign bounds leave the view unchanged.
func (s *SceneSurface) FitBounds(b Bounds) {
	bb, ok := b.(*LatLngBounds)
	if !ok || bb.Empty() {
		return
	}
	cp := *bb
	s.fitted = &cp
	s.center = bb.Center()
	s.zoom = fitZoom(*bb, s.width, s.height, s.padding, MaxZoom)
}

func (s *SceneSurface) SetZoom(level int) {
	s.zoom = clampZoom(level)
}

func (s *SceneSurface) Center() model.LatLng { return s.center }
func (s *SceneSurface) Zoom() int            { return s.zoom }

// Visible returns the box currently shown by the viewport.
func (s *SceneSurface) Visible() LatLngBounds {
	scale := tileSize * math.Exp2(float64(s.zoom))
	cx, cy := project(s.center, scale)
	halfW := float64(s.width) / 2
	halfH := float64(s.height) / 2

	var b LatLngBounds
	b.Extend(unproject(cx-halfW, cy+halfH, scale))
	b.Extend(unproject(cx+halfW, cy-halfH, scale))
	return b
}

// Markers returns the attached markers in creation order.
func (s *SceneSurface) Markers() []*SceneMarker {
	return append([]*SceneMarker(nil), s.markers...)
}

func (s *SceneSurface) attach(m *SceneMarker) {
	m.surface = s
	s.markers = append(s.markers, m)
}

func (s *SceneSurface) detach(m *SceneMarker) {
	for i, cur := range s.markers {
		if cur == m {
			s.markers = append(s.markers[:i], s.markers[i+1:]...)
			return
		}
	}
}

// View is the JSON form of a surface handed to the browser.
type View struct {
	Container string        `json:"container"`
	Center    model.LatLng  `json:"center"`
	Zoom      int           `json:"zoom"`
	Bounds    *LatLngBounds `json:"bounds,omitempty"`
	Markers   []MarkerView  `json:"markers"`
}

// MarkerView is one marker inside a View.
type MarkerView struct {
	Label    string       `json:"label"`
	Position model.LatLng `json:"position"`
}

// Snapshot copies the current state into a View.
func (s *SceneSurface) Snapshot() View {
	v := View{
		Container: s.container,
		Center:    s.center,
		Zoom:      s.zoom,
		Markers:   make([]MarkerView, 0, len(s.markers)),
	}
	if s.fitted != nil {
		cp := *s.fitted
		v.Bounds = &cp
	}
	for _, m := range s.markers {
		v.Markers = append(v.Markers, MarkerView{Label: m.Label, Position: m.Position})
	}
	return v
}

// SceneMarker is a marker created by Scene.
type SceneMarker struct {
	Position model.LatLng
	Label    string

	surface *SceneSurface
}

func (m *SceneMarker) Detach() {
	if m.surface == nil {
		return
	}
	m.surface.detach(m)
	m.surface = nil
}

// Attached reports whether the marker is still on a surface.
func (m *SceneMarker) Attached() bool {
	return m.surface != nil
}

func clampZoom(z int) int {
	if z < 0 {
		return 0
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}
