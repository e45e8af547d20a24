package geosource

import (
	"testing"

	"github.com/viamet/roadwatch-backend/internal/geo"
)

func line(points ...[2]float64) geo.LineString {
	out := make(geo.LineString, 0, len(points))
	for _, p := range points {
		out = append(out, geo.Point{Lng: p[0], Lat: p[1]})
	}
	return out
}

func testFeatures() []feature {
	lines := map[string]geo.LineString{
		"a": line([2]float64{2.150, 41.390}, [2]float64{2.151, 41.391}),
		"b": line([2]float64{2.160, 41.400}, [2]float64{2.161, 41.401}),
		"c": line([2]float64{3.000, 42.000}, [2]float64{3.001, 42.001}),
	}
	var feats []feature
	for id, l := range lines {
		feats = append(feats, feature{RoadID: id, Line: l, BBox: l.BBox()})
	}
	return feats
}

func TestGridIndex_QueryBBox(t *testing.T) {
	idx := buildGridIndex(testFeatures(), 0)

	hits := idx.query(geo.BBox{MinLng: 2.14, MinLat: 41.38, MaxLng: 2.17, MaxLat: 41.41})
	if len(hits) != 2 {
		t.Fatalf("expected 2 features in the box, got %d", len(hits))
	}
	for _, i := range hits {
		if idx.features[i].RoadID == "c" {
			t.Fatalf("feature c is outside the box")
		}
	}

	if hits := idx.query(geo.BBox{MinLng: 10, MinLat: 10, MaxLng: 11, MaxLat: 11}); len(hits) != 0 {
		t.Fatalf("empty box should return nothing, got %d", len(hits))
	}
}

func TestGridIndex_CandidatesSortedAndCapped(t *testing.T) {
	idx := buildGridIndex(testFeatures(), 0)
	p := geo.Point{Lng: 2.1505, Lat: 41.3905}

	ids := idx.candidatesNear(p, 5000, 0)
	if len(ids) < 2 {
		t.Fatalf("expected at least 2 candidates, got %d", len(ids))
	}
	if idx.features[ids[0]].RoadID != "a" {
		t.Fatalf("closest candidate should be a, got %s", idx.features[ids[0]].RoadID)
	}

	capped := idx.candidatesNear(p, 5000, 1)
	if len(capped) != 1 || idx.features[capped[0]].RoadID != "a" {
		t.Fatalf("cap should keep only the closest candidate")
	}
}

func TestGridIndex_ByRoadID(t *testing.T) {
	idx := buildGridIndex(testFeatures(), 0)
	i, ok := idx.byRoadID["b"]
	if !ok || idx.features[i].RoadID != "b" {
		t.Fatalf("road id lookup broken")
	}
}
