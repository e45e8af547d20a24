package geo

import (
	"math"
	"testing"
)

// northLine returns a line heading due north from (0,0); 50 m is roughly
// 0.000449 degrees of latitude.
func northLine(meters float64, steps int) LineString {
	line := make(LineString, 0, steps+1)
	degPerMeter := 1.0 / metersPerDegreeLat
	for i := 0; i <= steps; i++ {
		line = append(line, Point{Lng: 0, Lat: meters * degPerMeter * float64(i) / float64(steps)})
	}
	return line
}

func TestHaversine_KnownDistance(t *testing.T) {
	// One degree of latitude at the equator is ~111.19 km on a sphere.
	d := Haversine(Point{Lng: 0, Lat: 0}, Point{Lng: 0, Lat: 1})
	if math.Abs(d-111195) > 100 {
		t.Fatalf("unexpected distance: %f", d)
	}
	if Haversine(Point{Lng: 2.15, Lat: 41.39}, Point{Lng: 2.15, Lat: 41.39}) != 0 {
		t.Fatalf("identical points must be 0 m apart")
	}
}

func TestLineStringLength(t *testing.T) {
	line := northLine(120, 12)
	if math.Abs(line.Length()-120) > 0.5 {
		t.Fatalf("expected ~120 m, got %f", line.Length())
	}
}

func TestNearestOnLine_AlongDistance(t *testing.T) {
	line := northLine(120, 12)
	// A point due east of the 55 m mark.
	query := Point{Lng: 0.0001, Lat: 55 / metersPerDegreeLat}
	nearest, dist, along := NearestOnLine(query, line)
	if math.Abs(along-55) > 1 {
		t.Fatalf("expected ~55 m along, got %f", along)
	}
	if dist > 15 {
		t.Fatalf("expected a close projection, got %f m", dist)
	}
	if math.Abs(nearest.Lng) > 1e-9 {
		t.Fatalf("projection should land on the line, got lng %f", nearest.Lng)
	}
}

func TestNearestOnLine_Degenerate(t *testing.T) {
	if _, d, _ := NearestOnLine(Point{}, nil); !math.IsInf(d, 1) {
		t.Fatalf("empty line should report infinite distance")
	}
	p := Point{Lng: 1, Lat: 1}
	_, d, along := NearestOnLine(p, LineString{{Lng: 1, Lat: 1}})
	if d != 0 || along != 0 {
		t.Fatalf("single-vertex line: d=%f along=%f", d, along)
	}
}

func TestBBoxPadAndIntersect(t *testing.T) {
	b := LineString{{Lng: 0, Lat: 0}, {Lng: 0.001, Lat: 0.001}}.BBox()
	padded := b.Pad(100)
	if !padded.Contains(Point{Lng: -0.0005, Lat: -0.0005}) {
		t.Fatalf("padded box should contain nearby point")
	}
	if !padded.Intersects(b) {
		t.Fatalf("padded box must intersect the original")
	}
	far := BBox{MinLng: 10, MinLat: 10, MaxLng: 11, MaxLat: 11}
	if padded.Intersects(far) {
		t.Fatalf("disjoint boxes must not intersect")
	}
}

func TestSimplify_DropsCollinearVertices(t *testing.T) {
	line := northLine(120, 12)
	simplified := Simplify(line, 0.00001)
	if len(simplified) != 2 {
		t.Fatalf("collinear line should collapse to endpoints, got %d vertices", len(simplified))
	}
	if simplified[0] != line[0] || simplified[1] != line[len(line)-1] {
		t.Fatalf("endpoints must survive simplification")
	}

	// A pronounced detour must survive a small tolerance.
	detour := LineString{{Lng: 0, Lat: 0}, {Lng: 0.01, Lat: 0.005}, {Lng: 0, Lat: 0.01}}
	kept := Simplify(detour, 0.0001)
	if len(kept) != 3 {
		t.Fatalf("detour vertex should be kept, got %d vertices", len(kept))
	}
}
