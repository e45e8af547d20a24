package geo

import "math"

// Simplify runs Douglas-Peucker with a tolerance in degrees. Endpoints are
// always kept, so a valid line never collapses below two vertices.
func Simplify(line LineString, toleranceDeg float64) LineString {
	if toleranceDeg <= 0 || len(line) <= 2 {
		return line
	}
	keep := make([]bool, len(line))
	keep[0] = true
	keep[len(line)-1] = true
	simplifyRange(line, 0, len(line)-1, toleranceDeg, keep)

	out := make(LineString, 0, len(line))
	for i, k := range keep {
		if k {
			out = append(out, line[i])
		}
	}
	return out
}

func simplifyRange(line LineString, first, last int, tol float64, keep []bool) {
	if last <= first+1 {
		return
	}
	maxDist := 0.0
	maxIdx := first
	for i := first + 1; i < last; i++ {
		d := perpendicularDistanceDeg(line[i], line[first], line[last])
		if d > maxDist {
			maxDist = d
			maxIdx = i
		}
	}
	if maxDist <= tol {
		return
	}
	keep[maxIdx] = true
	simplifyRange(line, first, maxIdx, tol, keep)
	simplifyRange(line, maxIdx, last, tol, keep)
}

// perpendicularDistanceDeg works in plain degree space; at tile-rendering
// tolerances the anisotropy between axes does not matter.
func perpendicularDistanceDeg(p, a, b Point) float64 {
	dx := b.Lng - a.Lng
	dy := b.Lat - a.Lat
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		dx = p.Lng - a.Lng
		dy = p.Lat - a.Lat
		return math.Sqrt(dx*dx + dy*dy)
	}
	t := ((p.Lng-a.Lng)*dx + (p.Lat-a.Lat)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	cx := a.Lng + t*dx
	cy := a.Lat + t*dy
	ex := p.Lng - cx
	ey := p.Lat - cy
	return math.Sqrt(ex*ex + ey*ey)
}
