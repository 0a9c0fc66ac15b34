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
	depthConfidenceRatio = 1.2

	polygonRays       = 64
	polygonStartKm    = 10.0
	polygonMinStepKm  = 0.25
	polygonMaxKm      = 5000.0
	polygonIterations = 12

	// Fits with a wider outermost polygon are not published.
	maxLocationUncertaintyKm = 1000.0
	// The depth is fixed when its interval is wider than maxDepthUncertaintyKm,
	// or wider than shallowDepthUncertaintyKm while still including fixedDepthKm.
	maxDepthUncertaintyKm     = 200.0
	shallowDepthUncertaintyKm = 20.0
	fixedDepthKm              = 10.0

	deltaPBaseMs    = 1600
	deltaPPerSqrtKm = 200
)

// confidenceRatios are the error multiples bounding each polygon, outermost
// last.
var confidenceRatios = []float64{3.0, 2.0, 1.5, 1.15}

// depthConfidence scans every depth below the best epicenter and returns the
// range whose error stays within depthConfidenceRatio of the best error.
func (f *finder) depthConfidence(best domain.PreliminaryHypocenter) domain.DepthConfidenceInterval {
	sc := f.newScratch()
	f.setAngles(best.Lat, best.Lon, sc)

	shallow, deep := best.Depth, best.Depth
	step := 1 / f.settings.universal()
	for depth := 0.0; depth <= f.model.MaxDepth(); depth += step {
		h := f.analyse(best.Lat, best.Lon, depth, sc)
		if h.Err >= best.Err*depthConfidenceRatio {
			continue
		}
		shallow = math.Min(shallow, depth)
		deep = math.Max(deep, depth)
	}
	return domain.DepthConfidenceInterval{MinDepth: shallow, MaxDepth: deep}
}

func (f *finder) polygons(ctx context.Context, best domain.PreliminaryHypocenter) ([]domain.PolygonConfidenceInterval, error) {
	out := make([]domain.PolygonConfidenceInterval, 0, len(confidenceRatios))
	for _, ratio := range confidenceRatios {
		p, err := f.polygon(ctx, best, ratio)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// polygon marches outward along evenly spaced bearings, halving the step
// whenever it leaves the region where the error is within ratio of the best.
func (f *finder) polygon(ctx context.Context, best domain.PreliminaryHypocenter, ratio float64) (domain.PolygonConfidenceInterval, error) {
	poly := domain.PolygonConfidenceInterval{
		Ratio:     ratio,
		Lengths:   make([]float64, polygonRays),
		MinOrigin: best.OriginMs,
		MaxOrigin: best.OriginMs,
	}
	minOrigins := make([]int64, polygonRays)
	maxOrigins := make([]int64, polygonRays)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, f.workers))
	for i := range polygonRays {
		g.Go(func() error {
			l, lo, hi, err := f.ray(ctx, best, ratio, poly.Bearing(i))
			if err != nil {
				return err
			}
			poly.Lengths[i], minOrigins[i], maxOrigins[i] = l, lo, hi
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.PolygonConfidenceInterval{}, err
	}

	poly.MinOrigin = slices.Min(append(minOrigins, poly.MinOrigin))
	poly.MaxOrigin = slices.Max(append(maxOrigins, poly.MaxOrigin))
	return poly, nil
}

func (f *finder) ray(ctx context.Context, best domain.PreliminaryHypocenter, ratio, bearing float64) (float64, int64, int64, error) {
	sc := f.newScratch()
	dist, step := polygonStartKm, polygonStartKm
	lo, hi := best.OriginMs, best.OriginMs
	limit := best.Err * ratio

	for step > polygonMinStepKm && dist < polygonMaxKm {
		if err := ctx.Err(); err != nil {
			return 0, 0, 0, err
		}
		lat, lon := geo.MoveOnGlobe(best.Lat, best.Lon, dist, bearing)
		f.setAngles(lat, lon, sc)
		h := f.bestAtDepth(polygonIterations, lat, lon, sc)
		if h.Err < limit {
			dist += step
			lo = min(lo, h.OriginMs)
			hi = max(hi, h.OriginMs)
		} else {
			step /= 2
			dist -= step
		}
	}
	return dist, lo, hi, nil
}

// depthUncertain reports whether the depth is too poorly constrained to
// publish as located.
func depthUncertain(ci domain.DepthConfidenceInterval) bool {
	width := ci.MaxDepth - ci.MinDepth
	if width > maxDepthUncertaintyKm {
		return true
	}
	return width > shallowDepthUncertaintyKm && ci.MinDepth <= fixedDepthKm && ci.MaxDepth >= fixedDepthKm
}

// fixDepth pins the hypocenter to fixedDepthKm and takes the origin as the
// median of the origins implied by the events at that depth.
func fixDepth(model traveltime.Model, h *domain.Hypocenter, events []station.PickSnapshot) {
	origins := make([]int64, 0, len(events))
	for _, e := range events {
		angle := geo.ToAngle(geo.GreatCircleDistance(h.Lat, h.Lon, e.Lat, e.Lon))
		travel := model.PWave(fixedDepthKm, angle)
		if !traveltime.Valid(travel) {
			continue
		}
		origins = append(origins, e.ArrivalMs-int64((travel+arrival.ElevationCorrection(e.Elevation))*1000))
	}
	h.Depth = fixedDepthKm
	h.DepthFixed = true
	if len(origins) == 0 {
		return
	}
	slices.Sort(origins)
	h.OriginMs = origins[(len(origins)-1)/2]
}

// deltaP is the interquartile spread of the P arrival times in ms.
func deltaP(events []station.PickSnapshot) int64 {
	if len(events) == 0 {
		return 0
	}
	arrivals := make([]int64, len(events))
	for i, e := range events {
		arrivals[i] = e.ArrivalMs
	}
	slices.Sort(arrivals)
	n := float64(len(arrivals) - 1)
	return arrivals[int(n*0.75)] - arrivals[int(n*0.25)]
}

// minDeltaP is the smallest arrival spread accepted for a fit the given
// distance away from the cluster root. Closely packed arrivals far from the
// stations usually mean a core phase was located as a direct one.
func minDeltaP(distFromRootKm float64) int64 {
	return deltaPBaseMs + int64(math.Sqrt(distFromRootKm))*deltaPPerSqrtKm
}
