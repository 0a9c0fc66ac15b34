package domain

import "math"

// Constants of the candidate comparator.
const (
	// OutrightCorrectRatio is how many times more correct events a candidate
	// needs to win regardless of error.
	OutrightCorrectRatio = 1.3
	// ScoreErrorBias keeps the score finite for zero-error candidates.
	ScoreErrorBias = 2.0
)

// PreliminaryHypocenter is a candidate location produced during search.
type PreliminaryHypocenter struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Depth    float64 `json:"depth"`
	OriginMs int64   `json:"origin_ms"`
	Err      float64 `json:"err"`
	Correct  int     `json:"correct"`
}

// Score is the error-weighted quality used when neither candidate wins on
// correct events alone.
func (h PreliminaryHypocenter) Score() float64 {
	return float64(h.Correct) / (h.Err*h.Err + ScoreErrorBias)
}

// Better reports whether a is a better fit than b. It is intentionally not a
// strict order: it may be that neither Better(a, b) nor Better(b, a) holds
// only when both scores tie.
func Better(a, b PreliminaryHypocenter) bool {
	if a.Correct > b.Correct && float64(a.Correct) >= float64(b.Correct)*OutrightCorrectRatio {
		return true
	}
	if b.Correct > a.Correct && float64(b.Correct) >= float64(a.Correct)*OutrightCorrectRatio {
		return false
	}
	return a.Score() > b.Score()
}

// SelectBetter returns the better of the two candidates, preferring a on ties.
func SelectBetter(a, b PreliminaryHypocenter) PreliminaryHypocenter {
	if Better(b, a) {
		return b
	}
	return a
}

// DepthConfidenceInterval is the depth range whose error stays within the
// confidence ratio of the best error.
type DepthConfidenceInterval struct {
	MinDepth float64 `json:"min_depth"`
	MaxDepth float64 `json:"max_depth"`
}

// PolygonConfidenceInterval bounds the epicenter along evenly spaced bearings.
type PolygonConfidenceInterval struct {
	Ratio     float64   `json:"ratio"`
	Offset    float64   `json:"offset"`
	Lengths   []float64 `json:"lengths"`
	MinOrigin int64     `json:"min_origin_ms"`
	MaxOrigin int64     `json:"max_origin_ms"`
}

// MaxLength is the largest extent of the polygon in km.
func (p PolygonConfidenceInterval) MaxLength() float64 {
	m := 0.0
	for _, l := range p.Lengths {
		m = math.Max(m, l)
	}
	return m
}

// Bearing returns the bearing in degrees of the i-th ray.
func (p PolygonConfidenceInterval) Bearing(i int) float64 {
	return p.Offset + float64(i)*360.0/float64(len(p.Lengths))
}

type MagnitudeReading struct {
	Magnitude  float64 `json:"magnitude"`
	DistanceKm float64 `json:"distance_km"`
}

// ObviousArrivals counts stations that should clearly have seen the event and
// how many of them did not.
type ObviousArrivals struct {
	Total int `json:"total"`
	Wrong int `json:"wrong"`
}

// WrongRatio is the fraction of obvious stations without a pick.
func (o ObviousArrivals) WrongRatio() float64 {
	if o.Total == 0 {
		return 0
	}
	return float64(o.Wrong) / float64(o.Total)
}

// Hypocenter is an accepted location with uncertainty and size estimates.
type Hypocenter struct {
	PreliminaryHypocenter
	TotalEvents int                         `json:"total_events"`
	DepthCI     DepthConfidenceInterval     `json:"depth_ci"`
	Polygons    []PolygonConfidenceInterval `json:"polygons"`
	DepthFixed  bool                        `json:"depth_fixed"`
	Magnitude   float64                     `json:"magnitude"`
	Readings    []MagnitudeReading          `json:"-"`
	Obvious     ObviousArrivals             `json:"obvious_arrivals"`
	Quality     Quality                     `json:"quality"`
}

// CorrectRatio is the fraction of picked events consistent with the fit.
func (h *Hypocenter) CorrectRatio() float64 {
	if h.TotalEvents == 0 {
		return 0
	}
	return float64(h.Correct) / float64(h.TotalEvents)
}
