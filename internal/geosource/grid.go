package geosource

import (
	"math"
	"sort"

	"github.com/viamet/roadwatch-backend/internal/geo"
)

// feature is one indexed edge held in memory by the file-backed source.
type feature struct {
	RoadID    string
	Name      *string
	RoadClass *string
	Line      geo.LineString
	BBox      geo.BBox
}

// gridIndex is a uniform grid over feature bounding boxes. It is built once
// per dataset load and read-only afterwards, so lookups take no locks.
type gridIndex struct {
	cellDeg  float64
	cells    map[[2]int][]int
	features []feature
	byRoadID map[string]int
}

const defaultCellDeg = 0.005 // ~550 m of latitude per cell

func buildGridIndex(features []feature, cellDeg float64) *gridIndex {
	if cellDeg <= 0 {
		cellDeg = defaultCellDeg
	}
	idx := &gridIndex{
		cellDeg:  cellDeg,
		cells:    make(map[[2]int][]int),
		features: features,
		byRoadID: make(map[string]int, len(features)),
	}
	for i, f := range features {
		idx.byRoadID[f.RoadID] = i
		minX, minY := idx.cellOf(f.BBox.MinLng, f.BBox.MinLat)
		maxX, maxY := idx.cellOf(f.BBox.MaxLng, f.BBox.MaxLat)
		for x := minX; x <= maxX; x++ {
			for y := minY; y <= maxY; y++ {
				key := [2]int{x, y}
				idx.cells[key] = append(idx.cells[key], i)
			}
		}
	}
	return idx
}

func (g *gridIndex) cellOf(lng, lat float64) (int, int) {
	return int(math.Floor(lng / g.cellDeg)), int(math.Floor(lat / g.cellDeg))
}

// query returns the indexes of every feature whose bbox intersects the box,
// deduplicated, in no particular order.
func (g *gridIndex) query(bbox geo.BBox) []int {
	minX, minY := g.cellOf(bbox.MinLng, bbox.MinLat)
	maxX, maxY := g.cellOf(bbox.MaxLng, bbox.MaxLat)
	seen := make(map[int]struct{})
	var out []int
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			for _, i := range g.cells[[2]int{x, y}] {
				if _, ok := seen[i]; ok {
					continue
				}
				seen[i] = struct{}{}
				if g.features[i].BBox.Intersects(bbox) {
					out = append(out, i)
				}
			}
		}
	}
	return out
}

// candidatesNear returns feature indexes around the point ordered by
// approximate bbox-center distance and capped, so the exact distance pass
// downstream spends its budget on the most likely hits.
func (g *gridIndex) candidatesNear(p geo.Point, radiusMeters float64, limit int) []int {
	search := geo.BBox{MinLng: p.Lng, MinLat: p.Lat, MaxLng: p.Lng, MaxLat: p.Lat}.Pad(radiusMeters)
	ids := g.query(search)
	sort.Slice(ids, func(a, b int) bool {
		da := geo.Haversine(p, g.features[ids[a]].BBox.Center())
		db := geo.Haversine(p, g.features[ids[b]].BBox.Center())
		return da < db
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}
