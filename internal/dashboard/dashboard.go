// Package dashboard keeps one map panel per browser session. Each panel
// is a mapview.Component; calls into it are serialised by the panel's
// mutex, which stands in for the page's single UI thread.
package dashboard

import (
	"errors"
	"sync"
	"time"

	appLog "mealendar/internal/log"
	"mealendar/internal/mapview"
	"mealendar/internal/model"
)

// MapContainer is the element id the map is mounted into.
const MapContainer = "map"

// DefaultIdleTTL is how long an unused panel is kept.
const DefaultIdleTTL = 2 * time.Hour

// View is the JSON form of a panel after an update.
type View struct {
	mapview.View
	// Mounted is false while the mapping capability is unavailable.
	Mounted bool `json:"mounted"`
}

// Panel is the map panel of one session.
type Panel struct {
	mu       sync.Mutex
	comp     *mapview.Component
	opts     mapview.Options
	lastUsed time.Time
	// mountTried is set after the first Mount. A panel still waiting for
	// the capability is mounted by capabilityReady.
	mountTried bool
}

// Update mounts the panel if needed, synchronises its markers with events
// and returns the resulting view.
func (p *Panel) Update(events []model.Event) View {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.mountTried {
		p.mountTried = true
		if err := p.comp.Mount(MapContainer); err != nil && !errors.Is(err, mapview.ErrMissingCapability) {
			appLog.Error("map mount failed", err)
		}
	}
	p.comp.Update(events)
	return p.view()
}

// View returns the current view without changing it.
func (p *Panel) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view()
}

func (p *Panel) view() View {
	if ss, ok := p.comp.Surface().(*mapview.SceneSurface); ok {
		return View{View: ss.Snapshot(), Mounted: true}
	}
	// Not mounted, or drawn by a capability we cannot snapshot.
	return View{
		View: mapview.View{
			Container: MapContainer,
			Center:    p.opts.Center,
			Zoom:      p.opts.Zoom,
			Markers:   []mapview.MarkerView{},
		},
		Mounted: p.comp.Mounted(),
	}
}

func (p *Panel) capabilityReady(c mapview.Capability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.comp.CapabilityReady(c); err != nil {
		appLog.Error("map mount after capability ready failed", err)
	}
}

// Panels holds the panels of all sessions.
type Panels struct {
	mu         sync.Mutex
	capability mapview.Capability
	opts       mapview.Options
	panels     map[string]*Panel
	now        func() time.Time
}

// NewPanels returns a Panels drawing through capability, which may be nil
// until SetCapability is called.
func NewPanels(capability mapview.Capability, opts mapview.Options) *Panels {
	return &Panels{
		capability: capability,
		opts:       opts,
		panels:     make(map[string]*Panel),
		now:        time.Now,
	}
}

// Get returns the panel for key, creating it on first use.
func (ps *Panels) Get(key string) *Panel {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	p, ok := ps.panels[key]
	if !ok {
		p = &Panel{comp: mapview.New(ps.capability, ps.opts), opts: ps.opts}
		ps.panels[key] = p
		appLog.Debug("map panel created", "panels", len(ps.panels))
	}
	p.lastUsed = ps.now()
	return p
}

// SetCapability injects the mapping capability into every panel, mounting
// those that were waiting for it. New panels use it too.
func (ps *Panels) SetCapability(c mapview.Capability) {
	ps.mu.Lock()
	ps.capability = c
	panels := make([]*Panel, 0, len(ps.panels))
	for _, p := range ps.panels {
		panels = append(panels, p)
	}
	ps.mu.Unlock()

	for _, p := range panels {
		p.capabilityReady(c)
	}
}

// Drop removes the panel for key.
func (ps *Panels) Drop(key string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.panels, key)
}

// Prune removes panels unused for idle and returns how many were removed.
func (ps *Panels) Prune(idle time.Duration) int {
	cutoff := ps.now().Add(-idle)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	n := 0
	for k, p := range ps.panels {
		if p.lastUsed.Before(cutoff) {
			delete(ps.panels, k)
			n++
		}
	}
	return n
}

// Len returns the number of live panels.
func (ps *Panels) Len() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.panels)
}
