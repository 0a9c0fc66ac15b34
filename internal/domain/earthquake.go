package domain

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// storeMinutes is how long a quake is kept, indexed by twice its magnitude.
var storeMinutes = [16]int64{3, 3, 3, 3, 3, 3, 5, 6, 8, 16, 30, 30, 30, 30, 60, 60}

// StoreDurationMs returns the retention for a quake of the given magnitude.
func StoreDurationMs(mag float64) int64 {
	idx := int(mag * 2)
	if idx < 0 || math.IsNaN(mag) {
		idx = 0
	}
	if idx >= len(storeMinutes) {
		idx = len(storeMinutes) - 1
	}
	return storeMinutes[idx] * 60_000
}

// Earthquake is the accepted, externally visible result of a cluster. All
// location and size accessors read the cluster's current hypocenter.
type Earthquake struct {
	ID      uuid.UUID
	cluster *Cluster

	mu           sync.RWMutex
	createdMs    int64
	lastUpdateMs int64
	region       string
}

func NewEarthquake(c *Cluster, nowMs int64) *Earthquake {
	return &Earthquake{
		ID:           uuid.New(),
		cluster:      c,
		createdMs:    nowMs,
		lastUpdateMs: nowMs,
	}
}

func (e *Earthquake) Cluster() *Cluster { return e.cluster }

func (e *Earthquake) hypocenter() *Hypocenter {
	if h := e.cluster.Previous(); h != nil {
		return h
	}
	return &Hypocenter{}
}

func (e *Earthquake) Lat() float64       { return e.hypocenter().Lat }
func (e *Earthquake) Lon() float64       { return e.hypocenter().Lon }
func (e *Earthquake) Depth() float64     { return e.hypocenter().Depth }
func (e *Earthquake) OriginMs() int64    { return e.hypocenter().OriginMs }
func (e *Earthquake) Magnitude() float64 { return e.hypocenter().Magnitude }
func (e *Earthquake) Revision() int      { return e.cluster.Revision() }

func (e *Earthquake) Region() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.region
}

func (e *Earthquake) SetRegion(region string) {
	e.mu.Lock()
	e.region = region
	e.mu.Unlock()
}

func (e *Earthquake) LastUpdateMs() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastUpdateMs
}

func (e *Earthquake) Touch(nowMs int64) {
	e.mu.Lock()
	e.lastUpdateMs = nowMs
	e.mu.Unlock()
}

// ShouldArchive applies the magnitude-based retention policy.
func (e *Earthquake) ShouldArchive(nowMs int64) bool {
	store := StoreDurationMs(e.Magnitude())
	return nowMs-e.OriginMs() > store && nowMs-e.LastUpdateMs() > store/4
}

// QuakeSnapshot is an immutable view of an earthquake.
type QuakeSnapshot struct {
	ID           string      `json:"id"`
	ClusterID    int         `json:"cluster_id"`
	Revision     int         `json:"revision"`
	Region       string      `json:"region"`
	CreatedMs    int64       `json:"created_ms"`
	LastUpdateMs int64       `json:"last_update_ms"`
	Hypocenter   *Hypocenter `json:"hypocenter"`
}

func (e *Earthquake) Snapshot() QuakeSnapshot {
	h := e.cluster.Previous()
	e.mu.RLock()
	defer e.mu.RUnlock()
	return QuakeSnapshot{
		ID:           e.ID.String(),
		ClusterID:    e.cluster.ID,
		Revision:     e.cluster.Revision(),
		Region:       e.region,
		CreatedMs:    e.createdMs,
		LastUpdateMs: e.lastUpdateMs,
		Hypocenter:   h,
	}
}

// Magnitude of the snapshot, zero when no hypocenter was accepted.
func (s QuakeSnapshot) Magnitude() float64 {
	if s.Hypocenter == nil {
		return 0
	}
	return s.Hypocenter.Magnitude
}

// FormatCoordinates renders a position as e.g. "10.00°N 10.00°E".
func FormatCoordinates(lat, lon float64) string {
	ns, ew := "N", "E"
	if lat < 0 {
		ns = "S"
	}
	if lon < 0 {
		ew = "W"
	}
	return fmt.Sprintf("%.2f°%s %.2f°%s", math.Abs(lat), ns, math.Abs(lon), ew)
}

// Earthquakes is the set of live earthquakes.
type Earthquakes struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*Earthquake
	order []uuid.UUID
}

func NewEarthquakes() *Earthquakes {
	return &Earthquakes{byID: make(map[uuid.UUID]*Earthquake)}
}

func (r *Earthquakes) Add(e *Earthquake) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[e.ID]; ok {
		return
	}
	r.byID[e.ID] = e
	r.order = append(r.order, e.ID)
}

// Remove deletes the quake and reports whether it was present.
func (r *Earthquakes) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Earthquakes) Get(id uuid.UUID) (*Earthquake, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

// All returns the quakes in creation order.
func (r *Earthquakes) All() []*Earthquake {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Earthquake, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *Earthquakes) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Snapshots returns immutable views, newest origin first.
func (r *Earthquakes) Snapshots() []QuakeSnapshot {
	all := r.All()
	out := make([]QuakeSnapshot, 0, len(all))
	for _, e := range all {
		out = append(out, e.Snapshot())
	}
	sort.SliceStable(out, func(i, j int) bool {
		var oi, oj int64
		if out[i].Hypocenter != nil {
			oi = out[i].Hypocenter.OriginMs
		}
		if out[j].Hypocenter != nil {
			oj = out[j].Hypocenter.OriginMs
		}
		return oi > oj
	})
	return out
}
