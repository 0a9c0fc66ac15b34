// Package geo provides the geodesy helpers used throughout detection:
// great-circle distance, bearing, destination points and 3D distance
// between points above and below the surface.
package geo

import (
	"math"

	"github.com/golang/geo/s2"
)

const (
	EarthRadiusKm        = 6371.0
	EarthCircumferenceKm = 2 * math.Pi * EarthRadiusKm
)

// GreatCircleDistance returns the surface distance between two points in km.
func GreatCircleDistance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusKm
}

// Bearing returns the initial bearing from point 1 to point 2 in degrees (0-360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	lonDiff := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(lonDiff) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) - math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(lonDiff)
	return math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)
}

// MoveOnGlobe returns the point reached by travelling distKm from (lat, lon)
// along the given bearing.
func MoveOnGlobe(lat, lon, distKm, bearing float64) (float64, float64) {
	p := s2.LatLngFromDegrees(lat, lon)
	bearingRad := bearing * math.Pi / 180
	angular := distKm / EarthRadiusKm

	latRad := p.Lat.Radians()
	lonRad := p.Lng.Radians()

	lat2 := math.Asin(math.Sin(latRad)*math.Cos(angular) +
		math.Cos(latRad)*math.Sin(angular)*math.Cos(bearingRad))
	lon2 := lonRad + math.Atan2(
		math.Sin(bearingRad)*math.Sin(angular)*math.Cos(latRad),
		math.Cos(angular)-math.Sin(latRad)*math.Sin(lat2))

	return lat2 * 180 / math.Pi, normalizeLon(lon2 * 180 / math.Pi)
}

// GeologicalDistance returns the straight-line distance in km between two
// points given as lat/lon plus altitude in km (negative below the surface).
func GeologicalDistance(lat1, lon1, alt1, lat2, lon2, alt2 float64) float64 {
	v1 := s2.PointFromLatLng(s2.LatLngFromDegrees(lat1, lon1)).Mul(EarthRadiusKm + alt1)
	v2 := s2.PointFromLatLng(s2.LatLngFromDegrees(lat2, lon2)).Mul(EarthRadiusKm + alt2)
	return v1.Sub(v2).Norm()
}

// ToAngle converts a surface distance in km to an angular distance in degrees.
func ToAngle(distKm float64) float64 {
	return distKm / EarthCircumferenceKm * 360.0
}

// ToKm converts an angular distance in degrees to km along the surface.
func ToKm(angle float64) float64 {
	return angle / 360.0 * EarthCircumferenceKm
}

func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
