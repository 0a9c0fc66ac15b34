package station

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrEmptyRecord    = errors.New("record has no samples")
	ErrBadSampleRate  = errors.New("record has no valid sample rate")
	ErrStaleRecord    = errors.New("record is older than the last processed record or too far in the future")
	ErrUnknownStation = errors.New("unknown station")
	ErrBadArrival     = errors.New("arrival is outside the pick retention window or has no positive ratio")
)

const (
	resequenceToleranceMs = 60
	maxResequenceWaitMs   = 60_000
	maxFutureMs           = 60_000
)

// Record is one decoded batch of waveform samples.
type Record struct {
	StationID  int
	StartMs    int64
	SampleRate float64
	Samples    []int32
}

func (r Record) periodMs() float64 { return 1000 / r.SampleRate }

// LastSampleMs is the timestamp of the final sample.
func (r Record) LastSampleMs() int64 {
	if len(r.Samples) == 0 {
		return r.StartMs
	}
	return r.StartMs + int64(float64(len(r.Samples)-1)*r.periodMs())
}

// Validate rejects records the analyzer cannot interpret.
func (r Record) Validate() error {
	if len(r.Samples) == 0 {
		return fmt.Errorf("station %d at %d: %w", r.StationID, r.StartMs, ErrEmptyRecord)
	}
	if r.SampleRate <= 0 {
		return fmt.Errorf("station %d at %d: %w", r.StationID, r.StartMs, ErrBadSampleRate)
	}
	return nil
}

// resequencer buffers records and releases them in start-time order,
// dropping overlaps and waiting a bounded time for missing ones.
type resequencer struct {
	records        []Record
	nextExpectedMs int64
}

func (q *resequencer) push(r Record) {
	i := sort.Search(len(q.records), func(i int) bool { return q.records[i].StartMs >= r.StartMs })
	if i < len(q.records) && q.records[i].StartMs == r.StartMs {
		return
	}
	q.records = append(q.records, Record{})
	copy(q.records[i+1:], q.records[i:])
	q.records[i] = r
}

func (q *resequencer) len() int { return len(q.records) }

// next returns the record to analyse, if any.
func (q *resequencer) next(nowMs int64) (Record, bool) {
	for len(q.records) > 0 {
		oldest := q.records[0]
		diff := oldest.StartMs - q.nextExpectedMs
		switch {
		case q.nextExpectedMs == 0 || (diff >= -resequenceToleranceMs && diff <= resequenceToleranceMs):
			return q.pop(), true
		case diff < 0:
			q.pop()
		case nowMs-q.nextExpectedMs > maxResequenceWaitMs ||
			q.records[len(q.records)-1].StartMs-oldest.StartMs > maxResequenceWaitMs:
			return q.pop(), true
		default:
			return Record{}, false
		}
	}
	return Record{}, false
}

func (q *resequencer) pop() Record {
	r := q.records[0]
	q.records = q.records[1:]
	return r
}

func (q *resequencer) advance(r Record) {
	q.nextExpectedMs = r.LastSampleMs() + int64(r.periodMs()+0.5)
}
