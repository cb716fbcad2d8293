package geometry

import (
	"math"

	"github.com/golang/geo/s2"
)

// Box is an axis-aligned bounding box in degrees.
type Box struct {
	MinLat float64
	MinLng float64
	MaxLat float64
	MaxLng float64
}

// Contains reports whether p lies inside b (edges inclusive).
func (b Box) Contains(p LatLng) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// Intersects reports whether b and o overlap.
func (b Box) Intersects(o Box) bool {
	return b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat && b.MinLng <= o.MaxLng && o.MinLng <= b.MaxLng
}

// Bounds returns the bounding box of a valid geometry payload. Shapes whose
// smallest enclosing longitude interval crosses the antimeridian are widened
// to the full longitude range so the box stays axis-aligned.
func Bounds(payload any) (Box, bool) {
	pts, ok := Points(payload)
	if !ok || len(pts) == 0 {
		return Box{}, false
	}

	rect := s2.EmptyRect()
	box := Box{MinLat: math.Inf(1), MinLng: math.Inf(1), MaxLat: math.Inf(-1), MaxLng: math.Inf(-1)}
	for _, p := range pts {
		ll := s2.LatLngFromDegrees(p.Lat, p.Lng)
		if !ll.IsValid() {
			continue
		}
		rect = rect.AddPoint(ll)
		// Edges come from the input degrees; the radian round trip drifts.
		box.MinLat = math.Min(box.MinLat, p.Lat)
		box.MaxLat = math.Max(box.MaxLat, p.Lat)
		box.MinLng = math.Min(box.MinLng, p.Lng)
		box.MaxLng = math.Max(box.MaxLng, p.Lng)
	}
	if rect.IsEmpty() {
		return Box{}, false
	}
	if rect.Lng.IsInverted() {
		box.MinLng, box.MaxLng = -180, 180
	}
	return box, true
}
