package station

import "math"

// State is the detection state of an analyzer.
type State int

const (
	StateInit State = iota
	StateIdle
	StateEvent
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateIdle:
		return "idle"
	case StateEvent:
		return "event"
	default:
		return "unknown"
	}
}

const (
	// EventThreshold is the short/long ratio that opens a pick.
	EventThreshold = 4.75
	// RecalculationThreshold is the ratio an unconfirmed pick must stay above.
	RecalculationThreshold = 2.0

	offsetWindowMs     = 4_000
	settleMs           = 1_000
	initPeriodMs       = 10_000
	onsetRatio         = 1.5
	maxOnsetLeadMs     = 5_000
	eventEndDurationMs = 7_000
	eventMaxDurationMs = 5 * 60_000
	longAdaptRatio     = 4.0

	shortWindowSec   = 0.5
	mediumWindowSec  = 6.0
	thirdWindowSec   = 30.0
	longWindowSec    = 200.0
	specialWindowSec = 50.0
)

// validityDeadlines lists, by descending max ratio, how long a pick must keep
// its ratio above RecalculationThreshold before it is confirmed.
var validityDeadlines = []struct {
	ratio     float64
	maxWaitMs int64
}{
	{64, 5_000},
	{16, 3_000},
	{8, 2_000},
	{0, 1_000},
}

func validityDeadline(maxRatio float64) int64 {
	for _, d := range validityDeadlines {
		if maxRatio >= d.ratio {
			return d.maxWaitMs
		}
	}
	return validityDeadlines[len(validityDeadlines)-1].maxWaitMs
}

// GapThresholdMs returns the largest gap between records tolerated without
// resetting the analyzer.
func GapThresholdMs(sampleRate float64) int64 {
	if sampleRate <= 0 {
		return 1000
	}
	return max(1000, int64(10*1000/sampleRate))
}

// Analyzer runs STA/LTA style detection over a band-passed signal.
type Analyzer struct {
	sampleRate float64
	filter     *bandPass

	firstMs     int64
	started     bool
	offset      float64
	offsetSum   float64
	offsetCount int
	initSum     float64
	initCount   int

	short, medium, third, long, special float64
	ratio                               float64

	state   State
	quietMs int64
	current *Pick
	open    func(onsetMs int64, ratio float64) *Pick
}

func newAnalyzer(open func(onsetMs int64, ratio float64) *Pick) *Analyzer {
	return &Analyzer{open: open}
}

func (a *Analyzer) SampleRate() float64 { return a.sampleRate }
func (a *Analyzer) State() State        { return a.state }
func (a *Analyzer) Ratio() float64      { return a.ratio }

// setSampleRate installs a new rate and resets when it differs from the
// current one.
func (a *Analyzer) setSampleRate(rate float64) bool {
	if rate == a.sampleRate {
		return false
	}
	a.sampleRate = rate
	a.reset()
	return true
}

func (a *Analyzer) reset() {
	if a.current != nil {
		a.current.end(a.quietMs)
		a.current = nil
	}
	*a = Analyzer{sampleRate: a.sampleRate, open: a.open}
	if a.sampleRate > 0 {
		a.filter = newBandPass(a.sampleRate)
	}
}

// next feeds one raw sample taken at t (unix ms).
func (a *Analyzer) next(v float64, t int64) {
	if !a.started {
		a.started = true
		a.firstMs = t
		a.offset = v
		a.quietMs = t
	}
	elapsed := t - a.firstMs

	if elapsed < offsetWindowMs {
		a.offsetSum += v
		a.offsetCount++
		a.offset = a.offsetSum / float64(a.offsetCount)
	}

	abs := math.Abs(a.filter.next(v - a.offset))
	rate := a.sampleRate

	a.short -= (a.short - abs) / (rate * shortWindowSec)
	a.medium -= (a.medium - abs) / (rate * mediumWindowSec)
	a.third -= (a.third - abs) / (rate * thirdWindowSec)
	if abs > a.special {
		a.special = abs
	} else {
		a.special -= (a.special - abs) / (rate * specialWindowSec)
	}

	if a.state == StateInit {
		if elapsed >= settleMs {
			a.initSum += abs
			a.initCount++
			a.long = a.initSum / float64(a.initCount)
		}
		if elapsed >= initPeriodMs && a.long > 0 {
			a.state = StateIdle
		}
		return
	}

	if a.long <= 0 {
		a.long = abs
		return
	}
	a.ratio = a.short / a.long
	if a.ratio < longAdaptRatio {
		a.long -= (a.long - abs) / (rate * longWindowSec)
	}

	switch a.state {
	case StateIdle:
		a.idle(t)
	case StateEvent:
		a.event(t)
	}
}

func (a *Analyzer) idle(t int64) {
	if a.ratio < onsetRatio {
		a.quietMs = t
		return
	}
	if a.ratio < EventThreshold {
		return
	}
	onset := a.quietMs
	if t-onset > maxOnsetLeadMs {
		onset = t
	}
	a.current = a.open(onset, a.ratio)
	a.state = StateEvent
}

func (a *Analyzer) event(t int64) {
	p := a.current
	age := p.update(a.ratio, t)

	if !p.confirm(age, a.ratio) {
		p.Invalidate()
		p.end(t)
		a.current = nil
		a.state = StateIdle
		a.quietMs = t
		return
	}

	if age >= eventEndDurationMs && a.medium < a.third*0.95 {
		p.end(t)
		a.current = nil
		a.state = StateIdle
		a.quietMs = t
		return
	}

	if age > eventMaxDurationMs {
		a.quietMs = t
		a.reset()
	}
}

// confirm reports whether the pick is still valid given the current ratio.
func (p *Pick) confirm(age int64, ratio float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.confirmed {
		return true
	}
	if age >= validityDeadline(p.maxRatio) {
		p.confirmed = true
		return true
	}
	return ratio >= RecalculationThreshold
}
