package main

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/couchcryptid/quake-detect/internal/geo"
	"github.com/couchcryptid/quake-detect/internal/station"
	"github.com/couchcryptid/quake-detect/internal/traveltime"
)

const (
	baseline     = 1000.0
	noiseStdDev  = 50.0
	signalHz     = 2.0
	decaySeconds = 20.0
)

// scenario is a synthetic earthquake recorded by a ring of stations.
type scenario struct {
	lat, lon, depth float64
	magnitude       float64
	originMs        int64
	sampleRate      float64

	stations []station.Info
	pArrival []int64 // per station, ms; -1 when the phase does not reach it
	sArrival []int64
	amp      []float64
	rng      *rand.Rand
}

// newScenario places n stations uniformly within radiusKm of the epicenter
// and precomputes their arrival times.
func newScenario(lat, lon, depth, magnitude float64, originMs int64, n int, radiusKm, sampleRate float64, seed int64) *scenario {
	rng := rand.New(rand.NewSource(seed))
	model := traveltime.NewConstantVelocity()
	s := &scenario{
		lat: lat, lon: lon, depth: depth,
		magnitude:  magnitude,
		originMs:   originMs,
		sampleRate: sampleRate,
		rng:        rng,
	}
	for i := range n {
		dist := radiusKm * math.Sqrt(rng.Float64())
		sLat, sLon := geo.MoveOnGlobe(lat, lon, dist, rng.Float64()*360)
		s.stations = append(s.stations, station.Info{
			ID:      i + 1,
			Network: "SY",
			Code:    fmt.Sprintf("S%03d", i+1),
			Lat:     sLat,
			Lon:     sLon,
		})
		angle := geo.ToAngle(geo.GreatCircleDistance(lat, lon, sLat, sLon))
		s.pArrival = append(s.pArrival, arrivalMs(originMs, model.PWave(depth, angle)))
		s.sArrival = append(s.sArrival, arrivalMs(originMs, model.SWave(depth, angle)))
		s.amp = append(s.amp, amplitude(magnitude, geo.GeologicalDistance(lat, lon, -depth, sLat, sLon, 0)))
	}
	return s
}

func arrivalMs(originMs int64, seconds float64) int64 {
	if !traveltime.Valid(seconds) {
		return -1
	}
	return originMs + int64(seconds*1000)
}

// amplitude is the peak count for a station dist km from the hypocenter.
func amplitude(magnitude, dist float64) float64 {
	return math.Pow(10, magnitude) / math.Pow(dist+10, 1.5) * 200
}

// record returns one second of samples for station index i starting at
// startMs.
func (s *scenario) record(i int, startMs int64) station.Record {
	n := int(s.sampleRate)
	rec := station.Record{
		StationID:  s.stations[i].ID,
		StartMs:    startMs,
		SampleRate: s.sampleRate,
		Samples:    make([]int32, n),
	}
	for j := range n {
		t := startMs + int64(float64(j)*1000/s.sampleRate)
		v := baseline + s.rng.NormFloat64()*noiseStdDev
		v += s.phase(s.pArrival[i], t, s.amp[i])
		v += s.phase(s.sArrival[i], t, s.amp[i]*1.7)
		rec.Samples[j] = int32(math.Max(math.MinInt32, math.Min(math.MaxInt32, v)))
	}
	return rec
}

func (s *scenario) phase(arrival, t int64, amp float64) float64 {
	if arrival < 0 || t < arrival {
		return 0
	}
	sec := float64(t-arrival) / 1000
	return amp * math.Exp(-sec/decaySeconds) * math.Sin(2*math.Pi*signalHz*sec)
}
