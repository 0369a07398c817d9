package geo

import "math"

// earthRadiusMeters is the mean Earth radius used for great-circle distance.
const earthRadiusMeters = 6371000.0

// metersPerDegreeLat is the shortest a degree of latitude gets anywhere on
// the globe. Using the minimum makes BoxAround over-cover, so the box
// prefilter can never drop a point the exact distance check would keep.
const metersPerDegreeLat = 110574.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lng float64
}

// BoundingBox is a latitude/longitude rectangle used to prefilter radius
// queries before the exact distance check.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// Distance returns the great-circle (haversine) distance between two points
// in meters. Euclidean distance is not good enough at the radii this service
// works with (10 miles).
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// BoxAround returns a bounding box that fully contains the circle of the
// given radius around center. The longitude span is widened by the cosine of
// the latitude so the box cannot false-negative away from the equator.
// Behavior at the poles and across the antimeridian is out of scope.
func BoxAround(center Point, radiusMeters float64) BoundingBox {
	latDelta := radiusMeters / metersPerDegreeLat

	cosLat := math.Cos(center.Lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	lngDelta := radiusMeters / (metersPerDegreeLat * cosLat)

	return BoundingBox{
		MinLat: center.Lat - latDelta,
		MaxLat: center.Lat + latDelta,
		MinLng: center.Lng - lngDelta,
		MaxLng: center.Lng + lngDelta,
	}
}

// Contains reports whether the point lies inside the box.
func (b BoundingBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// WithinRadius reports whether b is within radiusMeters of a by
// great-circle distance.
func WithinRadius(a, b Point, radiusMeters float64) bool {
	return Distance(a, b) <= radiusMeters
}
