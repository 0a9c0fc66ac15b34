package hypocenter

import "math"

// Settings tune the search. They mirror the detector configuration.
type Settings struct {
	// PWaveInaccuracyMs is the fixed tolerance for a correct P arrival.
	PWaveInaccuracyMs float64
	// CorrectnessThreshold is the minimum percentage of correct events.
	CorrectnessThreshold float64
	MinStations          int
	// MaxEvents caps the farthest-point sample fed to the search.
	MaxEvents int
	// Resolution scales the number of candidate points and depth iterations.
	Resolution      float64
	ReduceRevisions bool
}

func DefaultSettings() Settings {
	return Settings{
		PWaveInaccuracyMs:    1000,
		CorrectnessThreshold: 40,
		MinStations:          5,
		MaxEvents:            40,
		Resolution:           40,
		ReduceRevisions:      true,
	}
}

// universal is the resolution multiplier applied to point counts and depth
// steps. It is 1 at the default resolution.
func (s Settings) universal() float64 {
	return (s.Resolution*s.Resolution + 600) / 2200
}

func (s Settings) pointMultiplier() float64 {
	u := s.universal()
	return u * u * 0.33
}

func (s Settings) iterationsDifference() int {
	return int(math.Round((s.Resolution - 40) / 14))
}

// Outcome is the result of processing one cluster.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeThrottled
	OutcomeNoEvents
	OutcomeWeak
	OutcomeInsufficient
	OutcomeNoFit
	OutcomeTooDeep
	OutcomeDeltaP
	OutcomeUncertain
	OutcomeInvalid
	OutcomeRemoved
	OutcomeDistant
	OutcomeNotEnoughCorrect
	OutcomePreviousBetter
	OutcomeDropped
	OutcomeAccepted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeThrottled:
		return "throttled"
	case OutcomeNoEvents:
		return "no_events"
	case OutcomeWeak:
		return "weak"
	case OutcomeInsufficient:
		return "insufficient"
	case OutcomeNoFit:
		return "no_fit"
	case OutcomeTooDeep:
		return "too_deep"
	case OutcomeDeltaP:
		return "delta_p"
	case OutcomeUncertain:
		return "uncertain"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeRemoved:
		return "removed"
	case OutcomeDistant:
		return "distant"
	case OutcomeNotEnoughCorrect:
		return "not_enough_correct"
	case OutcomePreviousBetter:
		return "previous_better"
	case OutcomeDropped:
		return "dropped"
	case OutcomeAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}
