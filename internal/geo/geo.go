// Package geo holds the primitive geometry types and numerics shared by the
// road network engine: WGS84 points, polylines, bounding boxes, great-circle
// distance and nearest-point-on-line math, and the binary geometry decoders.
package geo

import (
	"encoding/json"
	"math"
)

// Point is a WGS84 coordinate. Lng before Lat to match GeoJSON ordering.
type Point struct {
	Lng float64
	Lat float64
}

func (p Point) Valid() bool {
	return !math.IsNaN(p.Lng) && !math.IsInf(p.Lng, 0) &&
		!math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// LineString is an ordered polyline of at least two vertices (a single vertex
// or empty slice is a degenerate geometry and is handled, not rejected).
type LineString []Point

// Length returns the total great-circle length in meters.
func (ls LineString) Length() float64 {
	var total float64
	for i := 1; i < len(ls); i++ {
		total += Haversine(ls[i-1], ls[i])
	}
	return total
}

func (ls LineString) BBox() BBox {
	if len(ls) == 0 {
		return BBox{}
	}
	b := BBox{MinLng: ls[0].Lng, MinLat: ls[0].Lat, MaxLng: ls[0].Lng, MaxLat: ls[0].Lat}
	for _, p := range ls[1:] {
		b.MinLng = math.Min(b.MinLng, p.Lng)
		b.MinLat = math.Min(b.MinLat, p.Lat)
		b.MaxLng = math.Max(b.MaxLng, p.Lng)
		b.MaxLat = math.Max(b.MaxLat, p.Lat)
	}
	return b
}

// Coordinates returns the GeoJSON [lng, lat] nested array form.
func (ls LineString) Coordinates() [][]float64 {
	coords := make([][]float64, 0, len(ls))
	for _, p := range ls {
		coords = append(coords, []float64{p.Lng, p.Lat})
	}
	return coords
}

// GeoJSON renders the line as a GeoJSON LineString geometry object.
func (ls LineString) GeoJSON() json.RawMessage {
	obj := map[string]interface{}{
		"type":        "LineString",
		"coordinates": ls.Coordinates(),
	}
	raw, _ := json.Marshal(obj)
	return raw
}

// BBox is an axis-aligned lng/lat bounding box.
type BBox struct {
	MinLng float64
	MinLat float64
	MaxLng float64
	MaxLat float64
}

func (b BBox) Intersects(o BBox) bool {
	return b.MinLng <= o.MaxLng && b.MaxLng >= o.MinLng &&
		b.MinLat <= o.MaxLat && b.MaxLat >= o.MinLat
}

func (b BBox) Contains(p Point) bool {
	return p.Lng >= b.MinLng && p.Lng <= b.MaxLng && p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

func (b BBox) Center() Point {
	return Point{Lng: (b.MinLng + b.MaxLng) / 2, Lat: (b.MinLat + b.MaxLat) / 2}
}

// Pad expands the box by the given distance in meters on every side. Longitude
// padding degrades near the poles; callers cap the distance before asking.
func (b BBox) Pad(meters float64) BBox {
	latDeg := meters / metersPerDegreeLat
	cos := math.Cos(b.Center().Lat * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	lngDeg := meters / (metersPerDegreeLat * cos)
	return BBox{
		MinLng: b.MinLng - lngDeg,
		MinLat: b.MinLat - latDeg,
		MaxLng: b.MaxLng + lngDeg,
		MaxLat: b.MaxLat + latDeg,
	}
}
