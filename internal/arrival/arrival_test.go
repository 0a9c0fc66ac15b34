package arrival

import (
	"testing"

	"github.com/couchcryptid/quake-detect/internal/domain"
	"github.com/couchcryptid/quake-detect/internal/geo"
	"github.com/couchcryptid/quake-detect/internal/station"
	"github.com/couchcryptid/quake-detect/internal/traveltime"
	"github.com/stretchr/testify/assert"
)

// fixedModel returns the same travel time for every depth and angle.
type fixedModel struct {
	p, s, pkp, pkikp float64
}

func (m fixedModel) PWave(float64, float64) float64     { return m.p }
func (m fixedModel) SWave(float64, float64) float64     { return m.s }
func (m fixedModel) PKPWave(float64, float64) float64   { return m.pkp }
func (m fixedModel) PKIKPWave(float64, float64) float64 { return m.pkikp }
func (m fixedModel) MaxDepth() float64                  { return 700 }

const origin = int64(1_000_000)

func hypo(mag float64) *domain.Hypocenter {
	return &domain.Hypocenter{
		PreliminaryHypocenter: domain.PreliminaryHypocenter{Lat: 0, Lon: 0, Depth: 10, OriginMs: origin},
		Magnitude:             mag,
	}
}

func pickAt(lon float64, arrival int64) station.PickSnapshot {
	return station.PickSnapshot{Lat: 0, Lon: lon, ArrivalMs: arrival}
}

func TestCouldBeArrival_FixedTolerance(t *testing.T) {
	c := NewChecker(fixedModel{p: 10, s: traveltime.NoArrival, pkp: traveltime.NoArrival, pkikp: traveltime.NoArrival}, 1000)
	h := hypo(5)

	assert.True(t, c.CouldBeArrival(pickAt(1, origin+10_500), h, Options{}))
	assert.False(t, c.CouldBeArrival(pickAt(1, origin+11_500), h, Options{}))
	assert.False(t, c.CouldBeArrival(pickAt(1, origin+9_000), h, Options{}), "boundary is exclusive")
}

func TestCouldBeArrival_WidenedTolerance(t *testing.T) {
	c := NewChecker(fixedModel{p: 10, s: traveltime.NoArrival, pkp: traveltime.NoArrival, pkikp: traveltime.NoArrival}, 1000)
	h := hypo(5)
	p := pickAt(1, origin+14_000)

	assert.False(t, c.CouldBeArrival(p, h, Options{Mode: ToleranceFixed}))
	assert.True(t, c.CouldBeArrival(p, h, Options{Mode: ToleranceWidened}))
}

func TestCouldBeArrival_WidenedScalesWithTravelTime(t *testing.T) {
	c := NewChecker(fixedModel{p: 1000, s: traveltime.NoArrival, pkp: traveltime.NoArrival, pkikp: traveltime.NoArrival}, 1000)
	h := hypo(5)
	// 1% of 1000 s is 10 s.
	assert.True(t, c.CouldBeArrival(pickAt(1, origin+1_009_000), h, Options{Mode: ToleranceWidened}))
	assert.False(t, c.CouldBeArrival(pickAt(1, origin+1_011_000), h, Options{Mode: ToleranceWidened}))
}

func TestCouldBeArrival_CorePhases(t *testing.T) {
	c := NewChecker(fixedModel{p: traveltime.NoArrival, s: traveltime.NoArrival, pkp: 1200, pkikp: 1100}, 1000)
	h := hypo(9)

	pkp := pickAt(60, origin+1_205_000)
	assert.True(t, c.CouldBeArrival(pkp, h, Options{}))
	assert.False(t, c.CouldBeArrival(pkp, h, Options{PWaveOnly: true}))

	// 150 degrees away qualifies for PKIKP; 60 degrees does not.
	far := pickAt(150, origin+1_100_000)
	near := pickAt(60, origin+1_100_000)
	assert.True(t, c.CouldBeArrival(far, h, Options{}))
	assert.False(t, c.CouldBeArrival(near, h, Options{}))
}

func TestCouldBeArrival_IntensityGate(t *testing.T) {
	c := NewChecker(traveltime.NewConstantVelocity(), 1000)
	h := hypo(1.0)
	dist := 500.0
	lon := geo.ToAngle(dist)
	travel := c.Model.PWave(h.Depth, lon)
	p := pickAt(lon, origin+int64(travel*1000))

	assert.True(t, c.CouldBeArrival(p, h, Options{}))
	assert.False(t, c.CouldBeArrival(p, h, Options{ConsiderIntensity: true}), "M1 is not felt 500 km away")
	assert.True(t, c.CouldBeArrival(p, hypo(6), Options{ConsiderIntensity: true}))
}

func TestCouldBeArrival_ElevationCorrection(t *testing.T) {
	c := NewChecker(fixedModel{p: 10, s: traveltime.NoArrival, pkp: traveltime.NoArrival, pkikp: traveltime.NoArrival}, 500)
	h := hypo(5)
	p := pickAt(1, origin+11_000)
	assert.False(t, c.CouldBeArrival(p, h, Options{}))

	p.Elevation = 6000
	assert.True(t, c.CouldBeArrival(p, h, Options{}))
	assert.InDelta(t, 0.5, ElevationCorrection(3000), 1e-12)
}

func TestCouldBeSArrival(t *testing.T) {
	c := NewChecker(fixedModel{p: 10, s: 100, pkp: traveltime.NoArrival, pkikp: traveltime.NoArrival}, 1000)
	h := hypo(5)

	// Tolerance is 1000 + 1% of 100 s = 2 s.
	assert.True(t, c.CouldBeSArrival(pickAt(1, origin+101_900), h, false))
	assert.False(t, c.CouldBeSArrival(pickAt(1, origin+102_100), h, false))

	none := NewChecker(fixedModel{p: 10, s: traveltime.NoArrival}, 1000)
	assert.False(t, none.CouldBeSArrival(pickAt(1, origin+100_000), h, false))
}

func TestPTravelMs(t *testing.T) {
	c := NewChecker(fixedModel{p: 10}, 1000)
	ms, ok := c.PTravelMs(domain.PreliminaryHypocenter{}, 0, 1, 600)
	assert.True(t, ok)
	assert.InDelta(t, 10_100, ms, 1e-9)

	c = NewChecker(fixedModel{p: traveltime.NoArrival}, 1000)
	_, ok = c.PTravelMs(domain.PreliminaryHypocenter{}, 0, 1, 0)
	assert.False(t, ok)
}
