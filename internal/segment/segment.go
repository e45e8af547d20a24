// Package segment divides road edge geometry into fixed-length pieces and
// attributes measurement points to them.
package segment

import (
	"fmt"

	"github.com/viamet/roadwatch-backend/internal/geo"
)

// LengthMeters is the cut length used across the whole system. Ratings,
// history rows and tiles all key off segments of this size.
const LengthMeters = 50.0

// Ref identifies a rating key: a road edge plus an optional segment index.
// A nil Index means the whole edge is rated as one unit, which is the
// fallback when geometry is unavailable or degenerate.
type Ref struct {
	RoadID string
	Index  *int
}

func WholeEdge(roadID string) Ref {
	return Ref{RoadID: roadID}
}

func Indexed(roadID string, index int) Ref {
	return Ref{RoadID: roadID, Index: &index}
}

// Key renders the external string form: "{roadID}_seg_{index}", or the bare
// road id for a whole-edge ref. Only serialization uses this; internal code
// passes Ref values around.
func (r Ref) Key() string {
	if r.Index == nil {
		return r.RoadID
	}
	return fmt.Sprintf("%s_seg_%d", r.RoadID, *r.Index)
}

func (r Ref) Equal(o Ref) bool {
	if r.RoadID != o.RoadID {
		return false
	}
	if (r.Index == nil) != (o.Index == nil) {
		return false
	}
	return r.Index == nil || *r.Index == *o.Index
}

// Segment is one fixed-length piece of an edge. StartMeters/EndMeters are
// measured along the edge from its first vertex.
type Segment struct {
	Ref         Ref
	StartMeters float64
	EndMeters   float64
	Line        geo.LineString
}

func (s Segment) LengthMeters() float64 {
	return s.EndMeters - s.StartMeters
}
