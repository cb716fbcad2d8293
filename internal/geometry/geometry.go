// Package geometry validates the three location geometry encodings and
// sanitizes style colors. Everything here is pure: no I/O, no logging.
//
// Payloads are the generic values produced by encoding/json (maps, slices,
// float64 or json.Number, strings). Point values may be positional pairs
// ([lat, lng]) or keyed maps ({"lat":..,"lng":..}) wherever a point appears.
package geometry

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Shape is the location type a geometry payload encodes.
type Shape string

const (
	ShapeMarker    Shape = "marker"
	ShapeRectangle Shape = "rectangle"
	ShapePolygon   Shape = "polygon"
)

const minPolygonPoints = 3

// ParseShape returns the shape for a stored or requested type name.
func ParseShape(raw string) (Shape, bool) {
	switch Shape(raw) {
	case ShapeMarker, ShapeRectangle, ShapePolygon:
		return Shape(raw), true
	}
	return "", false
}

// LatLng is a decoded point.
type LatLng struct {
	Lat float64
	Lng float64
}

var numericString = regexp.MustCompile(`^\s*[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?\s*$`)

// ValidateCoordinates reports whether payload is a valid marker, rectangle or
// polygon geometry.
func ValidateCoordinates(payload any) bool {
	_, ok := ShapeOf(payload)
	return ok
}

// ValidateJSON decodes raw and validates it. Numbers are kept as json.Number so
// that the numeric check sees the literal the client sent.
func ValidateJSON(raw []byte) (Shape, bool) {
	payload, err := Decode(raw)
	if err != nil {
		return "", false
	}
	return ShapeOf(payload)
}

// Decode parses a JSON geometry document into the generic payload form.
func Decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ShapeOf classifies payload and validates it against the detected shape.
// Keys are checked in the order lat/lng, bounds, latlngs; the first family
// present decides the shape.
func ShapeOf(payload any) (Shape, bool) {
	m, ok := payload.(map[string]any)
	if !ok || len(m) == 0 {
		return "", false
	}

	_, hasLat := m["lat"]
	_, hasLng := m["lng"]
	if hasLat || hasLng {
		if !hasLat || !hasLng {
			return "", false
		}
		if !isNumeric(m["lat"]) || !isNumeric(m["lng"]) {
			return "", false
		}
		return ShapeMarker, true
	}

	if bounds, ok := m["bounds"]; ok {
		pts, ok := pointList(bounds)
		if !ok || len(pts) != 2 {
			return "", false
		}
		return ShapeRectangle, true
	}

	if latlngs, ok := m["latlngs"]; ok {
		pts, ok := pointList(latlngs)
		if !ok || len(pts) < minPolygonPoints {
			return "", false
		}
		return ShapePolygon, true
	}

	return "", false
}

// Points returns every point of a valid payload (one for markers).
func Points(payload any) ([]LatLng, bool) {
	shape, ok := ShapeOf(payload)
	if !ok {
		return nil, false
	}
	m := payload.(map[string]any)
	switch shape {
	case ShapeMarker:
		lat, _ := toFloat(m["lat"])
		lng, _ := toFloat(m["lng"])
		return []LatLng{{Lat: lat, Lng: lng}}, true
	case ShapeRectangle:
		return pointList(m["bounds"])
	default:
		return pointList(m["latlngs"])
	}
}

func pointList(v any) ([]LatLng, bool) {
	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case [][]float64:
		items = make([]any, len(list))
		for i, p := range list {
			items[i] = p
		}
	case []map[string]any:
		items = make([]any, len(list))
		for i, p := range list {
			items[i] = p
		}
	default:
		return nil, false
	}

	out := make([]LatLng, 0, len(items))
	for _, item := range items {
		p, ok := point(item)
		if !ok {
			return nil, false
		}
		out = append(out, p)
	}
	return out, true
}

func point(v any) (LatLng, bool) {
	switch p := v.(type) {
	case []any:
		if len(p) != 2 {
			return LatLng{}, false
		}
		return pair(p[0], p[1])
	case []float64:
		if len(p) != 2 {
			return LatLng{}, false
		}
		return pair(p[0], p[1])
	case map[string]any:
		lat, hasLat := p["lat"]
		lng, hasLng := p["lng"]
		if !hasLat || !hasLng {
			return LatLng{}, false
		}
		return pair(lat, lng)
	}
	return LatLng{}, false
}

func pair(a, b any) (LatLng, bool) {
	lat, ok := toFloat(a)
	if !ok {
		return LatLng{}, false
	}
	lng, ok := toFloat(b)
	if !ok {
		return LatLng{}, false
	}
	return LatLng{Lat: lat, Lng: lng}, true
}

func isNumeric(v any) bool {
	_, ok := toFloat(v)
	return ok
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		if !numericString.MatchString(string(n)) {
			return 0, false
		}
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		if !numericString.MatchString(n) {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
