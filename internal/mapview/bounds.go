package mapview

import (
	"math"

	"mealendar/internal/model"
)

// tileSize is the pixel width of the whole world at zoom 0 (Web Mercator).
const tileSize = 256.0

// maxMercatorSin keeps projections finite near the poles.
const maxMercatorSin = 0.9999

// LatLngBounds is a south-west / north-east box. The zero value is empty.
// Boxes never cross the antimeridian.
type LatLngBounds struct {
	SW model.LatLng `json:"sw"`
	NE model.LatLng `json:"ne"`

	nonEmpty bool
}

// Extend grows the box to include p.
func (b *LatLngBounds) Extend(p model.LatLng) {
	if !b.nonEmpty {
		b.SW, b.NE = p, p
		b.nonEmpty = true
		return
	}
	b.SW.Lat = math.Min(b.SW.Lat, p.Lat)
	b.SW.Lng = math.Min(b.SW.Lng, p.Lng)
	b.NE.Lat = math.Max(b.NE.Lat, p.Lat)
	b.NE.Lng = math.Max(b.NE.Lng, p.Lng)
}

// Empty reports whether Extend was never called.
func (b LatLngBounds) Empty() bool {
	return !b.nonEmpty
}

// Contains reports whether p lies inside the box (edges included).
func (b LatLngBounds) Contains(p model.LatLng) bool {
	if !b.nonEmpty {
		return false
	}
	return p.Lat >= b.SW.Lat && p.Lat <= b.NE.Lat &&
		p.Lng >= b.SW.Lng && p.Lng <= b.NE.Lng
}

// Center is the midpoint of the box in projected (Mercator) space, so a
// viewport centred on it shows equal margins on both sides.
func (b LatLngBounds) Center() model.LatLng {
	if b.SW.Lat == b.NE.Lat {
		return model.LatLng{Lat: b.SW.Lat, Lng: (b.SW.Lng + b.NE.Lng) / 2}
	}
	_, ySW := project(b.SW, 1)
	_, yNE := project(b.NE, 1)
	mid := unproject(0, (ySW+yNE)/2, 1)
	return model.LatLng{Lat: mid.Lat, Lng: (b.SW.Lng + b.NE.Lng) / 2}
}

// fitZoom returns the largest zoom at which b fits in a width x height pixel
// viewport with padding on every side, capped at maxZoom.
func fitZoom(b LatLngBounds, width, height, padding, maxZoom int) int {
	w := float64(width - 2*padding)
	h := float64(height - 2*padding)
	if w <= 0 {
		w = float64(width)
	}
	if h <= 0 {
		h = float64(height)
	}

	_, ySW := project(b.SW, 1)
	_, yNE := project(b.NE, 1)
	latFraction := ySW - yNE
	lngFraction := (b.NE.Lng - b.SW.Lng) / 360

	z := min(zoomFor(h, latFraction), zoomFor(w, lngFraction), maxZoom)
	if z < 0 {
		z = 0
	}
	return z
}

func zoomFor(px, fraction float64) int {
	if fraction <= 0 {
		return math.MaxInt32
	}
	return int(math.Floor(math.Log2(px / tileSize / fraction)))
}

// project maps p to world pixel coordinates for a world of scale pixels.
func project(p model.LatLng, scale float64) (x, y float64) {
	siny := math.Sin(p.Lat * math.Pi / 180)
	siny = math.Min(math.Max(siny, -maxMercatorSin), maxMercatorSin)
	x = (p.Lng + 180) / 360 * scale
	y = (0.5 - math.Log((1+siny)/(1-siny))/(4*math.Pi)) * scale
	return x, y
}

func unproject(x, y, scale float64) model.LatLng {
	n := math.Pi - 2*math.Pi*y/scale
	return model.LatLng{
		Lat: 180 / math.Pi * math.Atan(math.Sinh(n)),
		Lng: x/scale*360 - 180,
	}
}
