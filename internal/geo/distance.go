package geo

import "math"

const (
	earthRadiusMeters   = 6371000.0
	metersPerDegreeLat  = 111320.0
	degToRad            = math.Pi / 180
)

// Haversine returns the great-circle distance between two points in meters.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * degToRad
	lat2 := b.Lat * degToRad
	dLat := (b.Lat - a.Lat) * degToRad
	dLng := (b.Lng - a.Lng) * degToRad

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Interpolate returns the point at fraction t along the straight (planar)
// segment a→b. Good enough for the sub-100 m hops road geometry is made of.
func Interpolate(a, b Point, t float64) Point {
	return Point{
		Lng: a.Lng + (b.Lng-a.Lng)*t,
		Lat: a.Lat + (b.Lat-a.Lat)*t,
	}
}

// NearestOnSegment projects p onto the segment a→b using an equirectangular
// approximation (longitudes scaled by cos of the mean latitude) and returns
// the closest point on the segment plus the parameter t in [0,1].
func NearestOnSegment(p, a, b Point) (Point, float64) {
	cos := math.Cos(((a.Lat + b.Lat) / 2) * degToRad)
	ax, ay := a.Lng*cos, a.Lat
	bx, by := b.Lng*cos, b.Lat
	px, py := p.Lng*cos, p.Lat

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return a, 0
	}
	t := ((px-ax)*dx + (py-ay)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return Interpolate(a, b, t), t
}

// NearestOnLine walks every segment of the polyline and returns the overall
// closest point, its distance in meters, and the distance in meters from the
// line's first vertex to that point measured along the line.
func NearestOnLine(p Point, line LineString) (nearest Point, distMeters, alongMeters float64) {
	if len(line) == 0 {
		return Point{}, math.Inf(1), 0
	}
	if len(line) == 1 {
		return line[0], Haversine(p, line[0]), 0
	}

	best := math.Inf(1)
	var bestPoint Point
	var bestAlong float64
	var walked float64
	for i := 1; i < len(line); i++ {
		candidate, t := NearestOnSegment(p, line[i-1], line[i])
		d := Haversine(p, candidate)
		hop := Haversine(line[i-1], line[i])
		if d < best {
			best = d
			bestPoint = candidate
			bestAlong = walked + hop*t
		}
		walked += hop
	}
	return bestPoint, best, bestAlong
}

// DistanceToLine is NearestOnLine reduced to the distance alone.
func DistanceToLine(p Point, line LineString) float64 {
	_, d, _ := NearestOnLine(p, line)
	return d
}
