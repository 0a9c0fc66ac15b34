// Package station turns per-station waveform records into picks: candidate
// seismic wave arrivals with a signal-to-noise ratio score.
package station

import (
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
)

const (
	historyCapacity = 600
	historyGapMs    = 1_000

	// PickRetentionMs is how long a pick stays valid after its arrival.
	PickRetentionMs = 5 * 60_000
	pickRemoveMs    = 60_000
)

// Info is the directory entry for a station.
type Info struct {
	ID        int     `json:"id"`
	Network   string  `json:"network"`
	Code      string  `json:"code"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Elevation float64 `json:"elevation"` // meters
}

// Nearby is another station within the nearby radius.
type Nearby struct {
	StationID  int
	DistanceKm float64
}

// Station owns the analyzer, the record queue and the picks of one sensor.
type Station struct {
	Info
	Nearby []Nearby

	clock clockwork.Clock

	mu           sync.Mutex
	queue        resequencer
	analyzer     *Analyzer
	picks        []*Pick
	nextPickID   int64
	history      *history
	lastRecordMs int64
	numRecords   int64
	resets       int64
	recordMax    float64
}

// New creates a station with an empty pick list.
func New(info Info, clock clockwork.Clock) *Station {
	s := &Station{
		Info:    info,
		clock:   clock,
		history: newHistory(historyCapacity),
	}
	s.analyzer = newAnalyzer(s.openPick)
	return s
}

func (s *Station) String() string {
	if s.Network == "" {
		return s.Code
	}
	return s.Network + "." + s.Code
}

// Push validates a record and queues it for the next analysis pass.
func (s *Station) Push(r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	now := s.clock.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if r.StartMs > now+maxFutureMs || (s.lastRecordMs != 0 && r.LastSampleMs() < s.lastRecordMs) {
		return fmt.Errorf("station %d at %d: %w", s.ID, r.StartMs, ErrStaleRecord)
	}
	s.queue.push(r)
	return nil
}

// Analyse drains every record the resequencer is ready to release and
// returns how many were processed.
func (s *Station) Analyse() int {
	now := s.clock.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	processed := 0
	for {
		r, ok := s.queue.next(now)
		if !ok {
			return processed
		}
		if s.process(r, now) {
			processed++
		}
	}
}

func (s *Station) process(r Record, now int64) bool {
	last := r.LastSampleMs()
	if last < s.lastRecordMs || last > now+maxFutureMs {
		return false
	}

	if s.analyzer.setSampleRate(r.SampleRate) {
		s.resets++
	} else if s.lastRecordMs != 0 && r.StartMs-s.lastRecordMs > GapThresholdMs(r.SampleRate) {
		s.resetLocked()
	}

	s.recordMax = 0
	t := float64(r.StartMs)
	period := r.periodMs()
	for _, v := range r.Samples {
		s.analyzer.next(float64(v), int64(t))
		if s.analyzer.ratio > s.recordMax {
			s.recordMax = s.analyzer.ratio
		}
		t += period
	}

	s.history.push(HistoryEntry{
		StartMs:  r.StartMs,
		EndMs:    last,
		State:    s.analyzer.state,
		MaxRatio: s.recordMax,
	})
	s.queue.advance(r)
	s.lastRecordMs = last
	s.numRecords++
	return true
}

func (s *Station) openPick(onsetMs int64, ratio float64) *Pick {
	s.nextPickID++
	p := newPick(s.nextPickID, s, onsetMs, ratio)
	s.picks = append(s.picks, p)
	return p
}

// AddArrival records an arrival determined outside the analyzer, such as an
// analyst-reviewed onset, as a confirmed pick. The pick stays open like an
// analyzer pick and expires after PickRetentionMs.
func (s *Station) AddArrival(arrivalMs int64, ratio float64) *Pick {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.openPick(arrivalMs, ratio)
	p.confirmed = true
	return p
}

func (s *Station) resetLocked() {
	s.analyzer.reset()
	s.resets++
}

// Second runs per-second housekeeping. Picks past retention are invalidated
// and dropped on a later pass, so clusters see them invalid first.
func (s *Station) Second() {
	now := s.clock.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.picks[:0]
	for _, p := range s.picks {
		snap := p.Snapshot()
		age := now - snap.ArrivalMs
		if !snap.Valid && age > pickRemoveMs {
			continue
		}
		if age > PickRetentionMs {
			p.Invalidate()
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(s.picks); i++ {
		s.picks[i] = nil
	}
	s.picks = kept
}

// Picks returns the station's current picks, oldest first.
func (s *Station) Picks() []*Pick {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Pick, len(s.picks))
	copy(out, s.picks)
	return out
}

// PicksOpened is the number of picks the station has ever created.
func (s *Station) PicksOpened() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextPickID
}

// LastRecordMs is the watermark of the last analyzed sample.
func (s *Station) LastRecordMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRecordMs
}

// ActiveAt reports whether the station was analyzing past initialization at t.
func (s *Station) ActiveAt(t int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.history.at(t, historyGapMs)
	return ok && e.State != StateInit
}

// HasPickNear reports whether any pick arrived within windowMs of t.
func (s *Station) HasPickNear(t, windowMs int64) bool {
	for _, p := range s.Picks() {
		d := p.ArrivalMs() - t
		if d >= -windowMs && d <= windowMs {
			return true
		}
	}
	return false
}

// History returns analyzed record summaries, oldest first.
func (s *Station) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.slice()
}

// Snapshot is the externally visible status of a station.
type Snapshot struct {
	Info
	State        string  `json:"state"`
	Ratio        float64 `json:"ratio"`
	SampleRate   float64 `json:"sample_rate"`
	LastRecordMs int64   `json:"last_record_ms"`
	DelayMs      int64   `json:"delay_ms"`
	Records      int64   `json:"records"`
	Resets       int64   `json:"resets"`
	Picks        int     `json:"picks"`
	Queued       int     `json:"queued"`
}

func (s *Station) Snapshot() Snapshot {
	now := s.clock.Now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Info:         s.Info,
		State:        s.analyzer.state.String(),
		Ratio:        s.analyzer.ratio,
		SampleRate:   s.analyzer.sampleRate,
		LastRecordMs: s.lastRecordMs,
		Records:      s.numRecords,
		Resets:       s.resets,
		Picks:        len(s.picks),
		Queued:       s.queue.len(),
	}
	if s.lastRecordMs != 0 {
		snap.DelayMs = now - s.lastRecordMs
	}
	return snap
}
