package hypocenter

import (
	"math"
	"sort"

	"github.com/couchcryptid/quake-detect/internal/domain"
	"github.com/couchcryptid/quake-detect/internal/geo"
	"github.com/couchcryptid/quake-detect/internal/intensity"
	"github.com/couchcryptid/quake-detect/internal/station"
	"github.com/couchcryptid/quake-detect/internal/traveltime"
)

const (
	// Readings closer than this are always used.
	magnitudeNearKm = 1000.0
	// At least this many readings, or this fraction of all, are used.
	magnitudeMinReadings = 25
	magnitudeFraction    = 0.25

	// A record running this long past the expected S arrival means the
	// pick ratio already includes the S wave.
	sWaveSettleMs = 8000
	// Ratio boost decays to none at boostRangeKm.
	boostRangeKm = 400.0
)

// SelectMagnitude returns the median magnitude of the closest readings: all
// within magnitudeNearKm, topped up to the closest quarter or 25 readings.
// It returns 0 when there are no readings.
func SelectMagnitude(readings []domain.MagnitudeReading) float64 {
	if len(readings) == 0 {
		return 0
	}
	byDistance := make([]domain.MagnitudeReading, len(readings))
	copy(byDistance, readings)
	sort.SliceStable(byDistance, func(i, j int) bool { return byDistance[i].DistanceKm < byDistance[j].DistanceKm })

	target := max(magnitudeMinReadings, int(float64(len(readings))*magnitudeFraction))
	mags := make([]float64, 0, len(readings))
	for _, r := range byDistance {
		if r.DistanceKm >= magnitudeNearKm && len(mags) >= target {
			break
		}
		mags = append(mags, r.Magnitude)
	}
	sort.Float64s(mags)
	return mags[int(float64(len(mags)-1)*0.5)]
}

// magnitude estimates the size of h from the peak ratios of the cluster's
// valid picks. Readings are ranked by surface distance; the intensity
// conversion uses the slant distance. Stations whose record has not yet run well past the S arrival
// get their ratio boosted, more so when close.
func (s *Search) magnitude(h *domain.Hypocenter, picks []station.PickSnapshot) (float64, []domain.MagnitudeReading) {
	readings := make([]domain.MagnitudeReading, 0, len(picks))
	for _, p := range picks {
		if !p.Valid {
			continue
		}
		distGC := geo.GreatCircleDistance(h.Lat, h.Lon, p.Lat, p.Lon)
		distGE := geo.GeologicalDistance(h.Lat, h.Lon, -h.Depth, p.Lat, p.Lon, p.Elevation/1000)

		lastRecord := p.LastLogMs
		if st, ok := s.stations.Get(p.StationID); ok {
			if ms := st.LastRecordMs(); ms != 0 {
				lastRecord = ms
			}
		}

		mul := 1.0
		if sRaw := s.model.SWave(h.Depth, geo.ToAngle(distGC)); traveltime.Valid(sRaw) {
			expectedS := h.OriginMs + int64(sRaw*1000)
			if lastRecord <= expectedS+sWaveSettleMs {
				mul = math.Max(1, 2-distGC/boostRangeKm)
			}
		}

		mag := intensity.MagnitudeFromIntensity(p.MaxRatio*mul, distGE)
		if math.IsInf(mag, 0) || math.IsNaN(mag) {
			continue
		}
		readings = append(readings, domain.MagnitudeReading{Magnitude: mag, DistanceKm: distGC})
	}
	return SelectMagnitude(readings), readings
}
