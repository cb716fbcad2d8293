package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	v, err := Decode([]byte(raw))
	require.NoError(t, err)
	return v
}

func TestValidateCoordinates_Markers(t *testing.T) {
	assert.True(t, ValidateCoordinates(map[string]any{"lat": 59.8982, "lng": 10.7489}))
	assert.True(t, ValidateCoordinates(map[string]any{"lat": "59.8982", "lng": "10.7489"}))
	assert.True(t, ValidateCoordinates(decode(t, `{"lat":59.8982,"lng":10.7489}`)))
	assert.True(t, ValidateCoordinates(decode(t, `{"lat":"-1e2","lng":"0"}`)))

	assert.False(t, ValidateCoordinates(map[string]any{"lng": 10.7489}))
	assert.False(t, ValidateCoordinates(map[string]any{"lat": 59.8982}))
	assert.False(t, ValidateCoordinates(map[string]any{"lat": "north", "lng": 10.7}))
	assert.False(t, ValidateCoordinates(map[string]any{"lat": "", "lng": 10.7}))
	assert.False(t, ValidateCoordinates(map[string]any{"lat": true, "lng": 10.7}))
	assert.False(t, ValidateCoordinates(map[string]any{"lat": "NaN", "lng": "Inf"}))
}

func TestValidateCoordinates_RejectsNonGeometry(t *testing.T) {
	assert.False(t, ValidateCoordinates(nil))
	assert.False(t, ValidateCoordinates("59.8982,10.7489"))
	assert.False(t, ValidateCoordinates([]any{59.8, 10.7}))
	assert.False(t, ValidateCoordinates(map[string]any{}))
	assert.False(t, ValidateCoordinates(decode(t, `{"x":1,"y":2}`)))
}

func TestValidateCoordinates_Rectangles(t *testing.T) {
	assert.True(t, ValidateCoordinates(decode(t, `{"bounds":[[59.89,10.74],[59.91,10.76]]}`)))
	assert.True(t, ValidateCoordinates(decode(t, `{"bounds":[["59.89","10.74"],[59.91,10.76]]}`)))

	assert.False(t, ValidateCoordinates(decode(t, `{"bounds":[[59.89,10.74]]}`)))
	assert.False(t, ValidateCoordinates(decode(t, `{"bounds":[[1,2],[3,4],[5,6]]}`)))
	assert.False(t, ValidateCoordinates(decode(t, `{"bounds":[[59.89],[59.91,10.76]]}`)))
	assert.False(t, ValidateCoordinates(decode(t, `{"bounds":[[59.89,10.74,3],[59.91,10.76]]}`)))
	assert.False(t, ValidateCoordinates(decode(t, `{"bounds":"59.89,10.74,59.91,10.76"}`)))
}

func TestValidateCoordinates_Polygons(t *testing.T) {
	assert.False(t, ValidateCoordinates(decode(t, `{"latlngs":[[0,0],[1,1]]}`)))
	assert.True(t, ValidateCoordinates(decode(t, `{"latlngs":[[0,0],[1,1],[2,2]]}`)))
	assert.True(t, ValidateCoordinates(map[string]any{"latlngs": [][]float64{{0, 0}, {1, 1}, {2, 2}, {0, 2}}}))
	assert.False(t, ValidateCoordinates(decode(t, `{"latlngs":[[0,0],[1,1],["a","b"]]}`)))
	assert.False(t, ValidateCoordinates(decode(t, `{"latlngs":[]}`)))
}

// Keyed {lat,lng} corners are accepted the same way marker payloads are.
func TestValidateCoordinates_KeyedPointsAccepted(t *testing.T) {
	assert.True(t, ValidateCoordinates(decode(t, `{"bounds":[{"lat":59.89,"lng":10.74},{"lat":"59.91","lng":"10.76"}]}`)))
	assert.True(t, ValidateCoordinates(decode(t, `{"latlngs":[{"lat":0,"lng":0},[1,1],{"lat":2,"lng":2}]}`)))

	assert.False(t, ValidateCoordinates(decode(t, `{"bounds":[{"lat":59.89},{"lat":59.91,"lng":10.76}]}`)))
	assert.False(t, ValidateCoordinates(decode(t, `{"latlngs":[{"lat":0,"lng":0},{"lat":1,"lng":1}]}`)))
}

func TestShapeOf(t *testing.T) {
	cases := []struct {
		raw  string
		want Shape
	}{
		{`{"lat":1,"lng":2}`, ShapeMarker},
		{`{"bounds":[[1,2],[3,4]]}`, ShapeRectangle},
		{`{"latlngs":[[1,2],[3,4],[5,6]]}`, ShapePolygon},
	}
	for _, tc := range cases {
		got, ok := ShapeOf(decode(t, tc.raw))
		require.True(t, ok, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	shape, ok := ValidateJSON([]byte(`{"lat":1,"lng":2}`))
	assert.True(t, ok)
	assert.Equal(t, ShapeMarker, shape)

	_, ok = ValidateJSON([]byte(`{"lat":1,`))
	assert.False(t, ok)
}

func TestParseShape(t *testing.T) {
	for _, s := range []string{"marker", "rectangle", "polygon"} {
		got, ok := ParseShape(s)
		assert.True(t, ok)
		assert.Equal(t, Shape(s), got)
	}
	_, ok := ParseShape("circle")
	assert.False(t, ok)
}

func TestBounds(t *testing.T) {
	box, ok := Bounds(decode(t, `{"latlngs":[[59.0,10.0],[60.0,11.5],[59.5,10.2]]}`))
	require.True(t, ok)
	assert.InDelta(t, 59.0, box.MinLat, 1e-9)
	assert.InDelta(t, 60.0, box.MaxLat, 1e-9)
	assert.InDelta(t, 10.0, box.MinLng, 1e-9)
	assert.InDelta(t, 11.5, box.MaxLng, 1e-9)

	marker, ok := Bounds(decode(t, `{"lat":"59.8982","lng":"10.7489"}`))
	require.True(t, ok)
	assert.Equal(t, Box{MinLat: 59.8982, MinLng: 10.7489, MaxLat: 59.8982, MaxLng: 10.7489}, marker)
	assert.True(t, marker.Contains(LatLng{Lat: 59.8982, Lng: 10.7489}))
	assert.True(t, marker.Intersects(Box{MinLat: 59, MinLng: 10, MaxLat: 59.8982, MaxLng: 10.7489}))

	wrapped, ok := Bounds(decode(t, `{"bounds":[[10,179],[11,-179]]}`))
	require.True(t, ok)
	assert.Equal(t, -180.0, wrapped.MinLng)
	assert.Equal(t, 180.0, wrapped.MaxLng)

	_, ok = Bounds(decode(t, `{"lat":120,"lng":10}`))
	assert.False(t, ok)

	_, ok = Bounds(map[string]any{"x": 1})
	assert.False(t, ok)
}

func TestBox_Intersects(t *testing.T) {
	a := Box{MinLat: 0, MinLng: 0, MaxLat: 2, MaxLng: 2}
	assert.True(t, a.Intersects(Box{MinLat: 1, MinLng: 1, MaxLat: 3, MaxLng: 3}))
	assert.True(t, a.Intersects(Box{MinLat: 2, MinLng: 2, MaxLat: 3, MaxLng: 3}))
	assert.False(t, a.Intersects(Box{MinLat: 2.1, MinLng: 0, MaxLat: 3, MaxLng: 1}))
}
