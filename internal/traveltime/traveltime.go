// Package traveltime provides seismic phase travel times as pure lookups keyed
// by hypocenter depth and angular distance.
package traveltime

import "math"

// NoArrival is returned when a phase has no solution for the requested
// depth and angle.
const NoArrival = -999.0

// Model maps (depth km, angular distance deg) to a phase travel time in
// seconds, or NoArrival.
type Model interface {
	PWave(depth, angle float64) float64
	SWave(depth, angle float64) float64
	PKPWave(depth, angle float64) float64
	PKIKPWave(depth, angle float64) float64
	MaxDepth() float64
}

// Valid reports whether t is a real travel time.
func Valid(t float64) bool {
	return t != NoArrival && !math.IsNaN(t)
}
