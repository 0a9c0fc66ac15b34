package hypocenter

import (
	"context"
	"math"
	"slices"

	"github.com/couchcryptid/quake-detect/internal/arrival"
	"github.com/couchcryptid/quake-detect/internal/domain"
	"github.com/couchcryptid/quake-detect/internal/geo"
	"github.com/couchcryptid/quake-detect/internal/station"
	"github.com/couchcryptid/quake-detect/internal/traveltime"
	"golang.org/x/sync/errgroup"
)

const (
	phi         = 1.61803398875
	goldenAngle = 360 / (phi * phi)

	// dampening of residuals past the inaccuracy threshold.
	excessWeight = 0.2
	errScaleMs   = 1024.0

	// The far phase is skipped once the previous fit is this well supported.
	farCorrect      = 24
	farCorrectRatio = 0.8
	// Wide regional phase unless the previous fit is at least this good.
	wideCorrect      = 42
	wideCorrectRatio = 0.9

	// ctx is polled every this many candidate points.
	pollEvery = 256
)

// phase is one refinement step of the spatial search.
type phase struct {
	radiusKm   float64
	points     float64
	iterations int
}

// finder scores candidate hypocenters against a fixed set of picked events.
type finder struct {
	model     traveltime.Model
	threshold float64
	settings  Settings
	workers   int
	events    []station.PickSnapshot
}

// scratch holds per-goroutine buffers for analyse.
type scratch struct {
	origins []int64
	sorted  []int64
	angles  []float64
}

func (f *finder) newScratch() *scratch {
	n := len(f.events)
	return &scratch{
		origins: make([]int64, n),
		sorted:  make([]int64, n),
		angles:  make([]float64, n),
	}
}

// setAngles stores the angular distance from (lat, lon) to every event.
func (f *finder) setAngles(lat, lon float64, sc *scratch) {
	for i, e := range f.events {
		sc.angles[i] = geo.ToAngle(geo.GreatCircleDistance(lat, lon, e.Lat, e.Lon))
	}
}

// analyse scores a single candidate. The origin time is the median of the
// origins implied by each event; events farther than the threshold from it
// are penalized with a dampened excess.
func (f *finder) analyse(lat, lon, depth float64, sc *scratch) domain.PreliminaryHypocenter {
	h := domain.PreliminaryHypocenter{Lat: lat, Lon: lon, Depth: depth}
	for i, e := range f.events {
		travel := f.model.PWave(depth, sc.angles[i])
		if !traveltime.Valid(travel) {
			h.Err = math.MaxFloat64
			return h
		}
		sc.origins[i] = e.ArrivalMs - int64((travel+arrival.ElevationCorrection(e.Elevation))*1000)
	}
	copy(sc.sorted, sc.origins)
	slices.Sort(sc.sorted)
	h.OriginMs = sc.sorted[(len(sc.sorted)-1)/2]

	for _, o := range sc.origins {
		err := math.Abs(float64(o - h.OriginMs))
		if err < f.threshold {
			h.Correct++
		} else {
			err = (err-f.threshold)*excessWeight + f.threshold
		}
		h.Err += (err / errScaleMs) * (err / errScaleMs)
	}
	return h
}

// bestAtDepth narrows the depth bracket by halves, keeping trial depths at one
// and two thirds of it, and returns the best depth seen. The surface and
// 10 km are always tried since shallow events are common.
func (f *finder) bestAtDepth(iterations int, lat, lon float64, sc *scratch) domain.PreliminaryHypocenter {
	lb, ub := 0.0, f.model.MaxDepth()
	a := f.analyse(lat, lon, lb+(ub-lb)/3, sc)
	b := f.analyse(lat, lon, lb+2*(ub-lb)/3, sc)
	best := domain.SelectBetter(a, b)

	for range iterations {
		mid := (lb + ub) / 2
		if !domain.Better(b, a) {
			ub = mid
			b = a
			a = f.analyse(lat, lon, lb+(ub-lb)/3, sc)
			best = domain.SelectBetter(best, a)
		} else {
			lb = mid
			a = b
			b = f.analyse(lat, lon, lb+2*(ub-lb)/3, sc)
			best = domain.SelectBetter(best, b)
		}
	}

	best = domain.SelectBetter(best, f.analyse(lat, lon, 0, sc))
	return domain.SelectBetter(best, f.analyse(lat, lon, 10, sc))
}

// scanArea evaluates points on a golden-angle spiral around (lat, lon),
// partitioned across workers, and reduces them to the best candidate.
func (f *finder) scanArea(ctx context.Context, lat, lon float64, p phase) (domain.PreliminaryHypocenter, error) {
	points := max(1, int(p.points))
	workers := max(1, min(f.workers, points))
	per := float64(points) / float64(workers)
	spacing := p.radiusKm / math.Sqrt(float64(points))

	results := make([]domain.PreliminaryHypocenter, workers)
	g, ctx := errgroup.WithContext(ctx)
	for w := range workers {
		g.Go(func() error {
			sc := f.newScratch()
			start, end := int(float64(w)*per), int(float64(w+1)*per)
			var best domain.PreliminaryHypocenter
			for n := start; n < end; n++ {
				if (n-start)%pollEvery == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				pLat, pLon := geo.MoveOnGlobe(lat, lon, math.Sqrt(float64(n))*spacing, goldenAngle*float64(n))
				f.setAngles(pLat, pLon, sc)
				h := f.bestAtDepth(p.iterations, pLat, pLon, sc)
				if n == start {
					best = h
				} else {
					best = domain.SelectBetter(best, h)
				}
			}
			results[w] = best
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.PreliminaryHypocenter{}, err
	}

	best := results[0]
	for _, h := range results[1:] {
		best = domain.SelectBetter(best, h)
	}
	return best, nil
}

// phases returns the refinement schedule. The far phase is included only when
// far is set and the previous fit is missing or weak.
func (f *finder) phases(far bool, prev *domain.Hypocenter) []phase {
	pm := f.settings.pointMultiplier()
	d := f.settings.iterationsDifference()

	var out []phase
	if far && (prev == nil || prev.Correct < farCorrect || prev.CorrectRatio() < farCorrectRatio) {
		out = append(out, phase{radiusKm: geo.EarthCircumferenceKm / 4, points: 40_000 * pm, iterations: 6 + d})
	}
	if prev == nil || prev.Correct < wideCorrect || prev.CorrectRatio() < wideCorrectRatio {
		out = append(out, phase{radiusKm: 2500, points: 20_000 * pm, iterations: 7 + d})
	} else {
		out = append(out, phase{radiusKm: 1000, points: 10_000 * pm, iterations: 7 + d})
	}
	return append(out,
		phase{radiusKm: 100, points: 4000 * pm, iterations: 8 + d},
		phase{radiusKm: 10, points: 4000 * pm, iterations: 10 + d},
	)
}

// run performs the phased search starting at (lat, lon). Each phase is
// centered on the best candidate found so far.
func (f *finder) run(ctx context.Context, lat, lon float64, far bool, prev *domain.Hypocenter) (domain.PreliminaryHypocenter, error) {
	var best domain.PreliminaryHypocenter
	for i, p := range f.phases(far, prev) {
		p.iterations = max(1, p.iterations)
		h, err := f.scanArea(ctx, lat, lon, p)
		if err != nil {
			return domain.PreliminaryHypocenter{}, err
		}
		if i == 0 {
			best = h
		} else {
			best = domain.SelectBetter(best, h)
		}
		lat, lon = best.Lat, best.Lon
	}
	return best, nil
}

// residual is the absolute P misfit of an event against h in ms.
func (f *finder) residual(e station.PickSnapshot, h domain.PreliminaryHypocenter) float64 {
	angle := geo.ToAngle(geo.GreatCircleDistance(h.Lat, h.Lon, e.Lat, e.Lon))
	travel := f.model.PWave(h.Depth, angle)
	if !traveltime.Valid(travel) {
		return math.Inf(1)
	}
	expected := h.OriginMs + int64((travel+arrival.ElevationCorrection(e.Elevation))*1000)
	return math.Abs(float64(e.ArrivalMs - expected))
}
