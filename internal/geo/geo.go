// Package geo provides great-circle helpers used by incident clustering.
package geo

import "math"

// EarthRadiusMeters is the mean radius of the Earth. Clustering distances
// are short enough that the spherical model is sufficient; no ellipsoidal
// correction is applied.
const EarthRadiusMeters = 6371008.8

// Haversine returns the great-circle distance in meters between two
// coordinates.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// WithinRadius reports whether the two coordinates are at most radiusMeters
// apart. The boundary itself is included.
func WithinRadius(lat1, lng1, lat2, lng2, radiusMeters float64) bool {
	return Haversine(lat1, lng1, lat2, lng2) <= radiusMeters
}
