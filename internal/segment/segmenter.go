package segment

import (
	"math"

	"github.com/viamet/roadwatch-backend/internal/geo"
)

// Split walks the polyline accumulating great-circle distance and cuts a new
// segment every LengthMeters, interpolating the cut vertex when a boundary
// falls inside a hop. The boundary vertex belongs to both neighbors, so the
// concatenation of all sub-polylines reconstructs the edge. A final remainder
// shorter than LengthMeters stays as its own segment.
func Split(roadID string, line geo.LineString) []Segment {
	if len(line) < 2 || line.Length() == 0 {
		// Degenerate geometry rates as a single zero-length segment.
		seg := Segment{Ref: Indexed(roadID, 0), StartMeters: 0, EndMeters: 0}
		if len(line) > 0 {
			seg.Line = geo.LineString{line[0], line[0]}
		}
		return []Segment{seg}
	}

	var segments []Segment
	index := 0
	segStart := 0.0
	walked := 0.0
	cursor := line[0]
	current := geo.LineString{cursor}

	closeSegment := func(end float64) {
		segments = append(segments, Segment{
			Ref:         Indexed(roadID, index),
			StartMeters: segStart,
			EndMeters:   end,
			Line:        current,
		})
		index++
		segStart = end
	}

	for i := 1; i < len(line); i++ {
		target := line[i]
		hop := geo.Haversine(cursor, target)
		for hop > 0 && walked+hop >= segStart+LengthMeters-1e-9 {
			// The boundary falls inside this hop; interpolate the cut vertex.
			boundary := segStart + LengthMeters
			t := math.Max(0, math.Min(1, (boundary-walked)/hop))
			cut := geo.Interpolate(cursor, target, t)
			current = append(current, cut)
			closeSegment(boundary)
			cursor = cut
			walked = boundary
			current = geo.LineString{cut}
			hop = geo.Haversine(cursor, target)
		}
		if hop > 0 {
			current = append(current, target)
			walked += hop
			cursor = target
		}
	}

	if len(current) >= 2 && walked > segStart+1e-9 {
		closeSegment(walked)
	}
	if len(segments) == 0 {
		segments = append(segments, Segment{
			Ref:         Indexed(roadID, 0),
			StartMeters: 0,
			EndMeters:   walked,
			Line:        line,
		})
	}
	return segments
}

// ForPoint returns the indexes of every segment whose polyline lies within
// toleranceMeters of the point. When nothing is inside the tolerance the
// single nearest segment comes back, so a non-empty input always yields at
// least one attribution.
func ForPoint(p geo.Point, segments []Segment, toleranceMeters float64) []int {
	if len(segments) == 0 {
		return nil
	}
	var within []int
	bestIdx := -1
	bestDist := math.Inf(1)
	for i, seg := range segments {
		d := geo.DistanceToLine(p, seg.Line)
		if d <= toleranceMeters {
			within = append(within, i)
		}
		if d < bestDist {
			bestDist = d
			bestIdx = i
		}
	}
	if len(within) > 0 {
		return within
	}
	return []int{bestIdx}
}
