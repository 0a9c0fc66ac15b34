package domain

import (
	"sort"
	"sync"

	"github.com/couchcryptid/quake-detect/internal/station"
)

// MinClusterSize is the smallest number of picks a cluster may hold.
const MinClusterSize = 4

// Cluster is a set of cross-station picks hypothesized to share one source.
//
// The assignment map is guarded by the owning cluster list lock: it is only
// written while that lock is held for writing. Hypocenter state has its own
// mutex because the search updates it while holding the list lock for reading.
type Cluster struct {
	ID int

	assigned map[int]*station.Pick
	rootLat  float64
	rootLon  float64

	mu                   sync.RWMutex
	anchorLat            float64
	anchorLon            float64
	revision             int
	previous             *Hypocenter
	earthquake           *Earthquake
	lastUpdateMs         int64
	lastSignature        int
	nextReportEventCount int
	dropped              bool
}

func NewCluster(id int, nowMs int64) *Cluster {
	return &Cluster{
		ID:           id,
		assigned:     make(map[int]*station.Pick),
		lastUpdateMs: nowMs,
	}
}

// Assign claims p for this cluster. It fails when the station slot is taken.
func (c *Cluster) Assign(p *station.Pick) bool {
	if _, taken := c.assigned[p.StationID()]; taken {
		return false
	}
	c.assigned[p.StationID()] = p
	p.SetCluster(c.ID)
	return true
}

// Release drops the station's pick from this cluster and clears its owner
// when the owner is still this cluster.
func (c *Cluster) Release(stationID int) {
	p, ok := c.assigned[stationID]
	if !ok {
		return
	}
	delete(c.assigned, stationID)
	if p.ClusterID() == c.ID {
		p.SetCluster(station.NoCluster)
	}
}

// Detach forgets the station's pick without touching the pick itself.
func (c *Cluster) Detach(stationID int) {
	delete(c.assigned, stationID)
}

func (c *Cluster) Has(stationID int) bool {
	_, ok := c.assigned[stationID]
	return ok
}

func (c *Cluster) Pick(stationID int) (*station.Pick, bool) {
	p, ok := c.assigned[stationID]
	return p, ok
}

func (c *Cluster) Size() int { return len(c.assigned) }

// Picks returns the assigned picks ordered by station id.
func (c *Cluster) Picks() []*station.Pick {
	out := make([]*station.Pick, 0, len(c.assigned))
	for _, p := range c.assigned {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationID() < out[j].StationID() })
	return out
}

// CalculateRoot sets the root to the mean position of the assigned picks.
func (c *Cluster) CalculateRoot() {
	if len(c.assigned) == 0 {
		return
	}
	var lat, lon float64
	for _, p := range c.assigned {
		s := p.Snapshot()
		lat += s.Lat
		lon += s.Lon
	}
	n := float64(len(c.assigned))
	c.rootLat, c.rootLon = lat/n, lon/n

	c.mu.Lock()
	if c.previous == nil {
		c.anchorLat, c.anchorLon = c.rootLat, c.rootLon
	}
	c.mu.Unlock()
}

// Root is the mean pick position at creation or last recalculation.
func (c *Cluster) Root() (float64, float64) { return c.rootLat, c.rootLon }

// Signature changes whenever a pick is added, removed, grows noticeably or
// is reclassified as an S arrival.
func (c *Cluster) Signature() int {
	sig := len(c.assigned)
	for id, p := range c.assigned {
		snap := p.Snapshot()
		sig += id*1_000_003 + int(snap.ID)*131 + snap.Updates
		if snap.SWave {
			sig += 524_287
		}
	}
	return sig
}

func (c *Cluster) Anchor() (float64, float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.anchorLat, c.anchorLon
}

// Previous returns the last accepted hypocenter, or nil.
func (c *Cluster) Previous() *Hypocenter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.previous
}

func (c *Cluster) Revision() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.revision
}

func (c *Cluster) LastUpdateMs() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdateMs
}

// Touch records activity on the cluster.
func (c *Cluster) Touch(nowMs int64) {
	c.mu.Lock()
	c.lastUpdateMs = nowMs
	c.mu.Unlock()
}

// Accept installs an accepted hypocenter: the anchor moves to it and the
// revision is bumped. It returns the hypocenter it replaced.
func (c *Cluster) Accept(h *Hypocenter, nowMs int64) *Hypocenter {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.previous
	c.previous = h
	c.anchorLat, c.anchorLon = h.Lat, h.Lon
	c.revision++
	c.lastUpdateMs = nowMs
	return prev
}

func (c *Cluster) Earthquake() *Earthquake {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.earthquake
}

func (c *Cluster) SetEarthquake(e *Earthquake) {
	c.mu.Lock()
	c.earthquake = e
	c.mu.Unlock()
}

// SearchPending reports whether the signature differs from the one last
// searched.
func (c *Cluster) SearchPending(signature int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return signature != c.lastSignature
}

// MarkSearched records the signature of a completed search. A search that
// failed leaves the cluster pending.
func (c *Cluster) MarkSearched(signature int) {
	c.mu.Lock()
	c.lastSignature = signature
	c.mu.Unlock()
}

// ThrottleRevision limits searches of large clusters to every 20% growth in
// picked events. It reports whether a search should run.
func (c *Cluster) ThrottleRevision(events, minEvents int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if events < minEvents {
		return true
	}
	if events < c.nextReportEventCount {
		return false
	}
	c.nextReportEventCount = int(float64(events) * 1.2)
	return true
}

// MarkDropped flags a cluster that was retired or absorbed by a merge. A
// search already in flight for it must not publish its result.
func (c *Cluster) MarkDropped() {
	c.mu.Lock()
	c.dropped = true
	c.mu.Unlock()
}

func (c *Cluster) Dropped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dropped
}

// RefreshMagnitude replaces the accepted hypocenter with a copy carrying a
// new magnitude. The revision is unchanged.
func (c *Cluster) RefreshMagnitude(mag float64, readings []MagnitudeReading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.previous == nil {
		return
	}
	h := *c.previous
	h.Magnitude = mag
	h.Readings = readings
	c.previous = &h
}

// ClusterSnapshot is an immutable view of a cluster.
type ClusterSnapshot struct {
	ID         int         `json:"id"`
	Size       int         `json:"size"`
	StationIDs []int       `json:"station_ids"`
	RootLat    float64     `json:"root_lat"`
	RootLon    float64     `json:"root_lon"`
	AnchorLat  float64     `json:"anchor_lat"`
	AnchorLon  float64     `json:"anchor_lon"`
	Revision   int         `json:"revision"`
	Hypocenter *Hypocenter `json:"hypocenter,omitempty"`
	QuakeID    string      `json:"quake_id,omitempty"`
}

// Snapshot must be called with the cluster list lock held.
func (c *Cluster) Snapshot() ClusterSnapshot {
	ids := make([]int, 0, len(c.assigned))
	for id := range c.assigned {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := ClusterSnapshot{
		ID:         c.ID,
		Size:       len(ids),
		StationIDs: ids,
		RootLat:    c.rootLat,
		RootLon:    c.rootLon,
		AnchorLat:  c.anchorLat,
		AnchorLon:  c.anchorLon,
		Revision:   c.revision,
		Hypocenter: c.previous,
	}
	if c.earthquake != nil {
		snap.QuakeID = c.earthquake.ID.String()
	}
	return snap
}
