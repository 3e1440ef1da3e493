// Package geo measures how far a point is from hazard polygon boundaries.
//
// Coordinates are projected onto a local plane around the query point
// (equirectangular: 69 miles per degree of latitude, 69·cos(lat) per degree
// of longitude). That is accurate enough for regional "is the storm near"
// checks and wrong for continental spans.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// MilesPerDegreeLat is the length of one degree of latitude.
const MilesPerDegreeLat = 69.0

// milesPerDegree returns the latitude and longitude scale at lat.
func milesPerDegree(lat float64) (float64, float64) {
	return MilesPerDegreeLat, MilesPerDegreeLat * math.Cos(lat*math.Pi/180)
}

// PointSegmentMiles is the distance in miles from p to the segment a-b.
// Points are orb.Point{lon, lat}; the projection is evaluated at p's latitude.
func PointSegmentMiles(p, a, b orb.Point) float64 {
	mlat, mlon := milesPerDegree(p.Lat())

	px, py := p.Lon()*mlon, p.Lat()*mlat
	ax, ay := a.Lon()*mlon, a.Lat()*mlat
	bx, by := b.Lon()*mlon, b.Lat()*mlat

	vx, vy := bx-ax, by-ay
	vv := vx*vx + vy*vy
	if vv <= 1e-12 {
		return math.Hypot(px-ax, py-ay)
	}

	t := ((px-ax)*vx + (py-ay)*vy) / vv
	t = math.Max(0, math.Min(1, t))

	cx, cy := ax+t*vx, ay+t*vy
	return math.Hypot(px-cx, py-cy)
}

// RingMiles is the distance from p to the nearest edge of r. A ring that is
// not explicitly closed gets its closing edge. Rings with fewer than two
// vertices have no edges and report ok = false.
func RingMiles(p orb.Point, r orb.Ring) (float64, bool) {
	if len(r) < 2 {
		return 0, false
	}
	best := math.Inf(1)
	for i := 0; i < len(r)-1; i++ {
		best = math.Min(best, PointSegmentMiles(p, r[i], r[i+1]))
	}
	if !r[0].Equal(r[len(r)-1]) {
		best = math.Min(best, PointSegmentMiles(p, r[len(r)-1], r[0]))
	}
	return best, true
}

// GeometryMiles is the distance from p to the boundary of g, the minimum over
// every ring of a Polygon or MultiPolygon. Holes count as boundary like any
// other ring, so a point inside a polygon gets its distance to the nearest
// edge, not zero. Unsupported or empty geometries report ok = false.
func GeometryMiles(p orb.Point, g orb.Geometry) (float64, bool) {
	var rings []orb.Ring
	switch geom := g.(type) {
	case orb.Polygon:
		rings = geom
	case orb.MultiPolygon:
		for _, poly := range geom {
			rings = append(rings, poly...)
		}
	case orb.Ring:
		rings = []orb.Ring{geom}
	default:
		return 0, false
	}

	best, found := math.Inf(1), false
	for _, r := range rings {
		if d, ok := RingMiles(p, r); ok {
			best = math.Min(best, d)
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return best, true
}
