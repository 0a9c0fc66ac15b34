package station

import "sync"

// NoCluster is the cluster handle of a pick that no cluster owns.
const NoCluster = 0

// updateStep is the relative growth of the max ratio that counts as a new
// revision of the pick.
const updateStep = 1.05

// Pick is a candidate wave arrival detected at one station. The station owns
// the pick; clusters only record their claim through the cluster handle.
type Pick struct {
	id        int64
	stationID int
	lat       float64
	lon       float64
	elevation float64

	mu           sync.RWMutex
	arrivalMs    int64
	endMs        int64
	lastLogMs    int64
	ratio        float64
	maxRatio     float64
	reportedMax  float64
	valid        bool
	ended        bool
	confirmed    bool
	updates      int
	sWave        bool
	sWaveCluster int
	clusterID    int
}

// PickSnapshot is an immutable copy of a pick's state.
type PickSnapshot struct {
	ID           int64
	StationID    int
	Lat          float64
	Lon          float64
	Elevation    float64
	ArrivalMs    int64
	EndMs        int64
	LastLogMs    int64
	Ratio        float64
	MaxRatio     float64
	Valid        bool
	Ended        bool
	Updates      int
	SWave        bool
	SWaveCluster int
	ClusterID    int
}

func newPick(id int64, s *Station, arrivalMs int64, ratio float64) *Pick {
	return &Pick{
		id:          id,
		stationID:   s.ID,
		lat:         s.Lat,
		lon:         s.Lon,
		elevation:   s.Elevation,
		arrivalMs:   arrivalMs,
		lastLogMs:   arrivalMs,
		ratio:       ratio,
		maxRatio:    ratio,
		reportedMax: ratio,
		valid:       true,
	}
}

func (p *Pick) ID() int64      { return p.id }
func (p *Pick) StationID() int { return p.stationID }

func (p *Pick) Snapshot() PickSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PickSnapshot{
		ID:           p.id,
		StationID:    p.stationID,
		Lat:          p.lat,
		Lon:          p.lon,
		Elevation:    p.elevation,
		ArrivalMs:    p.arrivalMs,
		EndMs:        p.endMs,
		LastLogMs:    p.lastLogMs,
		Ratio:        p.ratio,
		MaxRatio:     p.maxRatio,
		Valid:        p.valid,
		Ended:        p.ended,
		Updates:      p.updates,
		SWave:        p.sWave,
		SWaveCluster: p.sWaveCluster,
		ClusterID:    p.clusterID,
	}
}

func (p *Pick) ArrivalMs() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.arrivalMs
}

func (p *Pick) Valid() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.valid
}

func (p *Pick) ClusterID() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clusterID
}

// SetCluster records the owning cluster. Callers must hold the cluster list
// write lock.
func (p *Pick) SetCluster(id int) {
	p.mu.Lock()
	p.clusterID = id
	p.mu.Unlock()
}

func (p *Pick) IsSWave() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sWave
}

// MarkSWave flags the pick as an S arrival of the given cluster's hypocenter.
func (p *Pick) MarkSWave(clusterID int) {
	p.mu.Lock()
	p.sWave = true
	p.sWaveCluster = clusterID
	p.mu.Unlock()
}

func (p *Pick) ClearSWave() {
	p.mu.Lock()
	p.sWave = false
	p.sWaveCluster = NoCluster
	p.mu.Unlock()
}

// Invalidate retracts the pick. It stays listed until the station purges it.
func (p *Pick) Invalidate() {
	p.mu.Lock()
	p.valid = false
	p.mu.Unlock()
}

// update records the latest ratio. It returns the pick's age in ms.
func (p *Pick) update(ratio float64, t int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ratio = ratio
	p.lastLogMs = t
	if ratio > p.maxRatio {
		p.maxRatio = ratio
	}
	if p.maxRatio > p.reportedMax*updateStep {
		p.reportedMax = p.maxRatio
		p.updates++
	}
	return t - p.arrivalMs
}

func (p *Pick) end(t int64) {
	p.mu.Lock()
	if !p.ended {
		p.ended = true
		p.endMs = t
	}
	p.mu.Unlock()
}
