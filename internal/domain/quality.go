package domain

import (
	"fmt"
	"math"
)

// QualityClass grades one aspect of a solution, S being the best.
type QualityClass int

const (
	QualityS QualityClass = iota
	QualityA
	QualityB
	QualityC
	QualityD
)

func (q QualityClass) String() string {
	switch q {
	case QualityS:
		return "S"
	case QualityA:
		return "A"
	case QualityB:
		return "B"
	case QualityC:
		return "C"
	default:
		return "D"
	}
}

func (q QualityClass) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

func (q *QualityClass) UnmarshalText(text []byte) error {
	c, err := ParseQualityClass(string(text))
	if err != nil {
		return err
	}
	*q = c
	return nil
}

// ParseQualityClass is the inverse of QualityClass.String.
func ParseQualityClass(s string) (QualityClass, error) {
	switch s {
	case "S":
		return QualityS, nil
	case "A":
		return QualityA, nil
	case "B":
		return QualityB, nil
	case "C":
		return QualityC, nil
	case "D":
		return QualityD, nil
	default:
		return QualityD, fmt.Errorf("unknown quality class %q", s)
	}
}

var (
	originThresholds     = [4]float64{1.0, 2.5, 10.0, 30.0}
	depthThresholds      = [4]float64{5.0, 20.0, 50.0, 200.0}
	locationThresholds   = [4]float64{5.0, 20.0, 50.0, 200.0}
	stationThresholds    = [4]float64{24, 16, 10, 6}
	percentageThresholds = [4]float64{90, 80, 65, 50}
)

// Quality is the per-criterion grading of a hypocenter.
type Quality struct {
	Origin     QualityClass `json:"origin"`
	Depth      QualityClass `json:"depth"`
	NS         QualityClass `json:"ns"`
	EW         QualityClass `json:"ew"`
	Stations   QualityClass `json:"stations"`
	Percentage QualityClass `json:"percentage"`
	Summary    QualityClass `json:"summary"`
}

// NewQuality grades the given uncertainties. Errors are graded lower-is-better,
// station count and percentage higher-is-better.
func NewQuality(errOriginSec, errDepthKm, errNSKm, errEWKm float64, stations int, pct float64) Quality {
	q := Quality{
		Origin:     atMost(errOriginSec, originThresholds),
		Depth:      atMost(errDepthKm, depthThresholds),
		NS:         atMost(errNSKm, locationThresholds),
		EW:         atMost(errEWKm, locationThresholds),
		Stations:   atLeast(float64(stations), stationThresholds),
		Percentage: atLeast(pct, percentageThresholds),
	}
	q.Summary = max(q.Origin, q.Depth, q.NS, q.EW, q.Stations, q.Percentage)
	return q
}

func atMost(v float64, thresholds [4]float64) QualityClass {
	if math.IsNaN(v) {
		return QualityD
	}
	for i, t := range thresholds {
		if v <= t {
			return QualityClass(i)
		}
	}
	return QualityD
}

func atLeast(v float64, thresholds [4]float64) QualityClass {
	for i, t := range thresholds {
		if v >= t {
			return QualityClass(i)
		}
	}
	return QualityD
}

// QualityFromPolygon grades a hypocenter from its outermost confidence
// polygon. Rays pointing into the north or south quadrants count toward NS.
func QualityFromPolygon(h *Hypocenter, poly PolygonConfidenceInterval) Quality {
	var errNS, errEW float64
	for i, l := range poly.Lengths {
		ang := poly.Bearing(i)
		if int((ang+360-45)/90)%2 == 1 {
			errNS = math.Max(errNS, l)
		} else {
			errEW = math.Max(errEW, l)
		}
	}
	errOrigin := float64(poly.MaxOrigin-poly.MinOrigin) / 1000.0
	errDepth := h.DepthCI.MaxDepth - h.DepthCI.MinDepth
	return NewQuality(errOrigin, errDepth, errNS, errEW, h.Correct, h.CorrectRatio()*100)
}
