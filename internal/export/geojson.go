// Package export renders locations as a GeoJSON FeatureCollection and ships
// the document to a file or an S3 bucket.
package export

import (
	"encoding/json"
	"io"

	"cabinmap/core-go/internal/geometry"
	"cabinmap/core-go/internal/locations"
	"cabinmap/core-go/internal/style"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Feature struct {
	Type       string     `json:"type"`
	ID         int64      `json:"id"`
	Geometry   *Geometry  `json:"geometry"`
	Properties Properties `json:"properties"`
}

// Geometry is a GeoJSON Point or Polygon. Positions are [lng, lat].
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

type Properties struct {
	Title           string      `json:"title"`
	LocationType    string      `json:"location_type"`
	Label           *string     `json:"label"`
	GroupTag        string      `json:"group_tag,omitempty"`
	Style           style.Style `json:"style"`
	ConnectionCount int         `json:"connection_count"`
}

// Collection converts locations to features. Locations whose stored geometry
// does not validate get a null geometry and are still listed.
func Collection(locs []locations.Location) FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(locs))}
	for _, loc := range locs {
		fc.Features = append(fc.Features, Feature{
			Type:     "Feature",
			ID:       loc.ID,
			Geometry: toGeometry(loc.Coordinates),
			Properties: Properties{
				Title:           loc.Title,
				LocationType:    loc.Type,
				Label:           loc.Label,
				GroupTag:        loc.GroupTag,
				Style:           loc.Style,
				ConnectionCount: len(loc.Connections) + len(loc.TermConnections),
			},
		})
	}
	return fc
}

// Write encodes the collection of locs to w and returns the bytes written.
func Write(w io.Writer, locs []locations.Location) (int64, error) {
	b, err := json.Marshal(Collection(locs))
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

func toGeometry(raw json.RawMessage) *Geometry {
	payload, err := geometry.Decode(raw)
	if err != nil {
		return nil
	}
	shape, ok := geometry.ShapeOf(payload)
	if !ok {
		return nil
	}
	pts, ok := geometry.Points(payload)
	if !ok {
		return nil
	}

	switch shape {
	case geometry.ShapeMarker:
		return &Geometry{Type: "Point", Coordinates: position(pts[0])}
	case geometry.ShapeRectangle:
		a, b := pts[0], pts[1]
		ring := [][2]float64{
			{a.Lng, a.Lat},
			{b.Lng, a.Lat},
			{b.Lng, b.Lat},
			{a.Lng, b.Lat},
			{a.Lng, a.Lat},
		}
		return &Geometry{Type: "Polygon", Coordinates: [][][2]float64{ring}}
	default:
		ring := make([][2]float64, 0, len(pts)+1)
		for _, p := range pts {
			ring = append(ring, position(p))
		}
		if pts[0] != pts[len(pts)-1] {
			ring = append(ring, position(pts[0]))
		}
		return &Geometry{Type: "Polygon", Coordinates: [][][2]float64{ring}}
	}
}

func position(p geometry.LatLng) [2]float64 {
	return [2]float64{p.Lng, p.Lat}
}
