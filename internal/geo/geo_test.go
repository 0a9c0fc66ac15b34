package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGreatCircleDistance_OneDegreeAtEquator(t *testing.T) {
	d := GreatCircleDistance(0, 0, 0, 1)
	assert.InDelta(t, 111.19, d, 0.05)
}

func TestGreatCircleDistance_SamePoint(t *testing.T) {
	assert.InDelta(t, 0, GreatCircleDistance(10, 10, 10, 10), 1e-9)
}

func TestBearing_CardinalDirections(t *testing.T) {
	assert.InDelta(t, 0, Bearing(0, 0, 1, 0), 1e-6)
	assert.InDelta(t, 90, Bearing(0, 0, 0, 1), 1e-6)
	assert.InDelta(t, 180, Bearing(1, 0, 0, 0), 1e-6)
	assert.InDelta(t, 270, Bearing(0, 1, 0, 0), 1e-6)
}

func TestMoveOnGlobe_RoundTrip(t *testing.T) {
	for _, bearing := range []float64{0, 45, 90, 135, 200, 315} {
		lat, lon := MoveOnGlobe(10, 10, 250, bearing)
		assert.InDelta(t, 250, GreatCircleDistance(10, 10, lat, lon), 0.01, "bearing %v", bearing)
	}
}

func TestMoveOnGlobe_WrapsLongitude(t *testing.T) {
	_, lon := MoveOnGlobe(0, 179.5, 200, 90)
	assert.Less(t, lon, -178.0)
}

func TestGeologicalDistance_DepthOnly(t *testing.T) {
	assert.InDelta(t, 20, GeologicalDistance(10, 10, -20, 10, 10, 0), 1e-6)
}

func TestGeologicalDistance_ShorterThanArc(t *testing.T) {
	arc := GreatCircleDistance(0, 0, 0, 30)
	chord := GeologicalDistance(0, 0, 0, 0, 30, 0)
	assert.Less(t, chord, arc)
}

func TestToAngle_ToKm(t *testing.T) {
	assert.InDelta(t, 180, ToAngle(EarthCircumferenceKm/2), 1e-9)
	assert.InDelta(t, 500, ToKm(ToAngle(500)), 1e-9)
}
