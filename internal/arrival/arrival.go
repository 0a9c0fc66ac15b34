// Package arrival decides whether a pick is consistent with a hypocenter's
// predicted phase arrivals.
package arrival

import (
	"math"

	"github.com/couchcryptid/quake-detect/internal/domain"
	"github.com/couchcryptid/quake-detect/internal/geo"
	"github.com/couchcryptid/quake-detect/internal/intensity"
	"github.com/couchcryptid/quake-detect/internal/station"
	"github.com/couchcryptid/quake-detect/internal/traveltime"
)

// ToleranceMode selects how far a pick may sit from the predicted P arrival.
type ToleranceMode int

const (
	// ToleranceFixed uses the configured inaccuracy threshold.
	ToleranceFixed ToleranceMode = iota
	// ToleranceWidened scales with travel time, for expansion.
	ToleranceWidened
)

const (
	widenedMinMs     = 5000.0
	widenedFraction  = 0.01
	deepMinMs        = 6000.0
	deepFraction     = 0.005
	pkikpMinAngle    = 100.0
	sBaseToleranceMs = 1000.0
	sFraction        = 0.01
	sElevationFactor = 1.5

	// MinExpectedIntensity is the shaking below which a station is not
	// expected to record the event at all.
	MinExpectedIntensity = 3.0
)

// ElevationCorrection is the extra travel time in seconds to a station at
// the given elevation in meters.
func ElevationCorrection(elevationM float64) float64 {
	return elevationM / 6000.0
}

// Options parameterize a consistency check.
type Options struct {
	Mode ToleranceMode
	// PWaveOnly skips the core phases.
	PWaveOnly bool
	// ConsiderIntensity rejects stations not expected to feel the event.
	ConsiderIntensity bool
}

// Checker evaluates picks against a travel-time model.
type Checker struct {
	Model       traveltime.Model
	ThresholdMs float64
}

func NewChecker(model traveltime.Model, thresholdMs float64) *Checker {
	return &Checker{Model: model, ThresholdMs: thresholdMs}
}

// ExpectedIntensity is the shaking the hypocenter should produce at the pick's
// station.
func (c *Checker) ExpectedIntensity(p station.PickSnapshot, h *domain.Hypocenter) float64 {
	d := geo.GeologicalDistance(h.Lat, h.Lon, -h.Depth, p.Lat, p.Lon, p.Elevation/1000)
	return intensity.MaxIntensity(h.Magnitude, d)
}

// PTravelMs predicts the P travel time in ms from the hypocenter to a station,
// elevation included.
func (c *Checker) PTravelMs(h domain.PreliminaryHypocenter, lat, lon, elevationM float64) (float64, bool) {
	angle := geo.ToAngle(geo.GreatCircleDistance(h.Lat, h.Lon, lat, lon))
	raw := c.Model.PWave(h.Depth, angle)
	if !traveltime.Valid(raw) {
		return 0, false
	}
	return (raw + ElevationCorrection(elevationM)) * 1000, true
}

// CouldBeArrival reports whether the pick could be a P (or, unless PWaveOnly,
// PKP/PKIKP) arrival of h.
func (c *Checker) CouldBeArrival(p station.PickSnapshot, h *domain.Hypocenter, opts Options) bool {
	if opts.ConsiderIntensity && c.ExpectedIntensity(p, h) < MinExpectedIntensity {
		return false
	}

	angle := geo.ToAngle(geo.GreatCircleDistance(h.Lat, h.Lon, p.Lat, p.Lon))
	actual := float64(p.ArrivalMs - h.OriginMs)
	corr := ElevationCorrection(p.Elevation)

	if raw := c.Model.PWave(h.Depth, angle); traveltime.Valid(raw) {
		expected := (raw + corr) * 1000
		if math.Abs(expected-actual) < c.pTolerance(expected, opts.Mode) {
			return true
		}
	}
	if opts.PWaveOnly {
		return false
	}

	if raw := c.Model.PKPWave(h.Depth, angle); traveltime.Valid(raw) {
		expected := (raw + corr) * 1000
		if math.Abs(expected-actual) < deepTolerance(expected) {
			return true
		}
	}

	if angle > pkikpMinAngle {
		if raw := c.Model.PKIKPWave(h.Depth, angle); traveltime.Valid(raw) {
			expected := (raw + corr) * 1000
			if math.Abs(expected-actual) < deepTolerance(expected) {
				return true
			}
		}
	}
	return false
}

// CouldBeSArrival reports whether the pick matches the S arrival of h.
func (c *Checker) CouldBeSArrival(p station.PickSnapshot, h *domain.Hypocenter, considerIntensity bool) bool {
	if considerIntensity && c.ExpectedIntensity(p, h) < MinExpectedIntensity {
		return false
	}
	angle := geo.ToAngle(geo.GreatCircleDistance(h.Lat, h.Lon, p.Lat, p.Lon))
	raw := c.Model.SWave(h.Depth, angle)
	if !traveltime.Valid(raw) {
		return false
	}
	expected := (raw + ElevationCorrection(p.Elevation)*sElevationFactor) * 1000
	actual := float64(p.ArrivalMs - h.OriginMs)
	return math.Abs(expected-actual) < sBaseToleranceMs+expected*sFraction
}

func (c *Checker) pTolerance(expectedMs float64, mode ToleranceMode) float64 {
	if mode == ToleranceWidened {
		return math.Max(widenedMinMs, expectedMs*widenedFraction)
	}
	return c.ThresholdMs
}

func deepTolerance(expectedMs float64) float64 {
	return math.Max(deepMinMs, expectedMs*deepFraction)
}
