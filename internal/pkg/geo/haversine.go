// Package geo holds the distance math used to match geoposition reports
// against dissemination zones.
//
// Points are in radians. Convert degrees with FromDegrees at the edge
// (HTTP bodies, Kafka events, zone configuration) and nowhere else.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius.
const EarthRadiusKm = 6371.0

// Point is a latitude/longitude pair in radians.
type Point struct {
	Lat float64
	Lon float64
}

// FromDegrees converts a latitude/longitude pair given in degrees.
func FromDegrees(lat, lon float64) Point {
	return Point{Lat: lat * math.Pi / 180, Lon: lon * math.Pi / 180}
}

// Distance returns the great-circle distance between a and b in kilometers.
func Distance(a, b Point) float64 {
	dLat := b.Lat - a.Lat
	dLon := b.Lon - a.Lon

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat)*math.Cos(b.Lat)*math.Sin(dLon/2)*math.Sin(dLon/2)

	// rounding can push h a hair outside [0,1]
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// Within reports whether b lies at most radiusKm away from a.
func Within(a, b Point, radiusKm float64) bool {
	return Distance(a, b) <= radiusKm
}
