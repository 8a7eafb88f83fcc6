package dashboard

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	appLog "mealendar/internal/log"
	"mealendar/internal/mapview"
	"mealendar/internal/model"
)

func at(lat, lng float64) *model.LatLng {
	return &model.LatLng{Lat: lat, Lng: lng}
}

func TestPanel_Update(t *testing.T) {
	panels := NewPanels(mapview.NewScene(960, 720), mapview.DefaultOptions())
	p := panels.Get("s1")

	v := p.Update([]model.Event{
		{ID: "a", Coord: at(37.57, 126.98)},
		{ID: "b"},
		{ID: "c", Coord: at(37.50, 127.03)},
	})
	if !v.Mounted || v.Container != MapContainer {
		t.Fatalf("view not mounted: %+v", v)
	}
	if len(v.Markers) != 2 || v.Markers[0].Label != "1" || v.Markers[1].Label != "2" {
		t.Errorf("markers = %+v", v.Markers)
	}
	if v.Bounds == nil {
		t.Error("expected fitted bounds")
	}

	v = p.Update([]model.Event{{ID: "only", Coord: at(35.1, 129.0)}})
	if len(v.Markers) != 1 || v.Zoom != mapview.DefaultSingleMarkerZoom {
		t.Errorf("single marker view = %+v", v)
	}

	v = p.Update(nil)
	if len(v.Markers) != 0 || v.Zoom != mapview.DefaultSingleMarkerZoom {
		t.Errorf("empty update changed viewport: %+v", v)
	}
}

func TestPanels_PerSession(t *testing.T) {
	panels := NewPanels(mapview.NewScene(0, 0), mapview.DefaultOptions())
	a := panels.Get("a")
	if panels.Get("a") != a {
		t.Error("Get() returned a different panel for the same key")
	}
	b := panels.Get("b")
	a.Update([]model.Event{{ID: "x", Coord: at(1, 1)}})
	if len(b.View().Markers) != 0 {
		t.Error("markers leaked across sessions")
	}

	panels.Drop("a")
	if panels.Len() != 1 {
		t.Errorf("Len() = %d after Drop", panels.Len())
	}
}

func TestPanels_LateCapability(t *testing.T) {
	panels := NewPanels(nil, mapview.DefaultOptions())
	p := panels.Get("s")

	v := p.Update([]model.Event{{ID: "a", Coord: at(37.5, 127.0)}})
	if v.Mounted || len(v.Markers) != 0 {
		t.Fatalf("view before capability = %+v", v)
	}
	if v.Center != mapview.DefaultCenter || v.Zoom != mapview.DefaultZoom {
		t.Errorf("placeholder view = %+v", v)
	}

	panels.SetCapability(mapview.NewScene(0, 0))
	v = p.View()
	if !v.Mounted || len(v.Markers) != 1 || v.Markers[0].Label != "1" {
		t.Errorf("view after capability = %+v", v)
	}

	if !panels.Get("new").Update(nil).Mounted {
		t.Error("panel created after SetCapability is not mounted")
	}
}

func TestPanel_MountsOnce(t *testing.T) {
	var buf bytes.Buffer
	appLog.SetOutput(&buf)
	t.Cleanup(func() { appLog.SetOutput(os.Stderr) })

	panels := NewPanels(nil, mapview.DefaultOptions())
	p := panels.Get("s")
	for i := 0; i < 3; i++ {
		if v := p.Update([]model.Event{{ID: "a", Coord: at(37.5, 127.0)}}); v.Mounted {
			t.Fatalf("update %d mounted without capability", i)
		}
	}
	if n := strings.Count(buf.String(), "mapping capability unavailable"); n != 1 {
		t.Errorf("missing capability logged %d times, want 1:\n%s", n, buf.String())
	}

	panels.SetCapability(mapview.NewScene(0, 0))
	v := p.Update([]model.Event{{ID: "a", Coord: at(37.5, 127.0)}, {ID: "b", Coord: at(37.6, 127.1)}})
	if !v.Mounted || len(v.Markers) != 2 {
		t.Errorf("view after capability = %+v", v)
	}
}

func TestPanels_Prune(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	panels := NewPanels(mapview.NewScene(0, 0), mapview.DefaultOptions())
	panels.now = func() time.Time { return now }

	panels.Get("old")
	now = now.Add(3 * time.Hour)
	panels.Get("fresh")

	if n := panels.Prune(DefaultIdleTTL); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if panels.Len() != 1 {
		t.Errorf("Len() = %d", panels.Len())
	}
}
