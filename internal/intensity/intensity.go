// Package intensity relates magnitude, distance and the expected shaking
// intensity seen by a station, expressed on the same scale as a pick ratio.
package intensity

import "math"

// Attenuation coefficients of log10(I) = M - geometric*log10(d + nearField) + offset.
const (
	geometric = 2.0
	nearField = 20.0
	offset    = 1.5
)

// MaxIntensity returns the expected peak intensity at distKm for a quake of
// the given magnitude.
func MaxIntensity(mag, distKm float64) float64 {
	return math.Pow(10, mag-geometric*math.Log10(math.Max(distKm, 0)+nearField)+offset)
}

// MagnitudeFromIntensity inverts MaxIntensity.
func MagnitudeFromIntensity(intensity, distKm float64) float64 {
	if intensity <= 0 {
		return math.Inf(-1)
	}
	return math.Log10(intensity) + geometric*math.Log10(math.Max(distKm, 0)+nearField) - offset
}
