// Package cluster associates picks across stations into candidate events.
package cluster

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/couchcryptid/quake-detect/internal/arrival"
	"github.com/couchcryptid/quake-detect/internal/domain"
	"github.com/couchcryptid/quake-detect/internal/events"
	"github.com/couchcryptid/quake-detect/internal/geo"
	"github.com/couchcryptid/quake-detect/internal/observability"
	"github.com/couchcryptid/quake-detect/internal/station"
	"github.com/jonboulle/clockwork"
)

const (
	// MergeThreshold is the fraction of a cluster's picks that must fit
	// another cluster's hypocenter for the two to merge.
	MergeThreshold = 0.45

	expandPCorrect      = 7
	markSWavesCorrect   = 6
	propagationKmPerSec = 5.0
	windowSlackMs       = 2500
	mergeGateKm         = 6000.0
	mergeGateFactor     = 0.2
	activeFraction      = 0.12
	minActive           = 2
	retireIdleMs        = 2 * 60_000
)

// Analysis owns the active cluster list. Run mutates it under the write lock;
// readers use View or Snapshots.
type Analysis struct {
	mu       sync.RWMutex
	clusters []*domain.Cluster
	nextID   int

	stations  *station.Registry
	checker   *arrival.Checker
	quakes    *domain.Earthquakes
	publisher events.Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

func New(
	stations *station.Registry,
	checker *arrival.Checker,
	quakes *domain.Earthquakes,
	publisher events.Publisher,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Analysis {
	return &Analysis{
		nextID:    1,
		stations:  stations,
		checker:   checker,
		quakes:    quakes,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run executes one association cycle.
func (a *Analysis) Run(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pruneDropped()
	a.clearSWaves()
	for _, c := range a.clusters {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.expand(c)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	a.createClusters()
	a.stealPicks()
	a.mergeClusters()
	a.updateClusters()

	a.metrics.ActiveClusters.Set(float64(len(a.clusters)))
	return nil
}

// View calls fn with the active clusters while holding the read lock. fn must
// not retain the slice.
func (a *Analysis) View(fn func(clusters []*domain.Cluster)) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	fn(a.clusters)
}

// Snapshots returns immutable views of the active clusters.
func (a *Analysis) Snapshots() []domain.ClusterSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.ClusterSnapshot, len(a.clusters))
	for i, c := range a.clusters {
		out[i] = c.Snapshot()
	}
	return out
}

func (a *Analysis) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.clusters)
}

func (a *Analysis) byID(id int) *domain.Cluster {
	for _, c := range a.clusters {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// pruneDropped removes clusters dropped outside the cycle, such as those whose
// earthquake was archived. Their picks stay claimed so they cannot seed a
// duplicate cluster.
func (a *Analysis) pruneDropped() {
	kept := a.clusters[:0]
	for _, c := range a.clusters {
		if c.Dropped() {
			a.logger.Debug("cluster pruned", "cluster", c.ID, "picks", c.Size())
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(a.clusters); i++ {
		a.clusters[i] = nil
	}
	a.clusters = kept
}

// clearSWaves revokes S classifications that no longer fit the hypocenter of
// the cluster that made them.
func (a *Analysis) clearSWaves() {
	for _, st := range a.stations.All() {
		for _, p := range st.Picks() {
			snap := p.Snapshot()
			if !snap.SWave {
				continue
			}
			c := a.byID(snap.SWaveCluster)
			if c == nil {
				p.ClearSWave()
				continue
			}
			h := c.Previous()
			if h == nil || !snap.Valid || !a.checker.CouldBeSArrival(snap, h, true) {
				p.ClearSWave()
			}
		}
	}
}

func (a *Analysis) expand(c *domain.Cluster) {
	if h := c.Previous(); h != nil && c.Earthquake() != nil {
		if h.Correct > expandPCorrect {
			a.expandPWaves(c, h)
		}
		if h.Correct > markSWavesCorrect {
			a.markSWaves(c, h)
		}
	}

	before := c.Size()
	frontier := c.Picks()
	for len(frontier) > 0 {
		var added []*station.Pick
		for _, e := range frontier {
			src := e.Snapshot()
			if !src.Valid {
				continue
			}
			st, ok := a.stations.Get(e.StationID())
			if !ok {
				continue
			}
			for _, nb := range st.Nearby {
				if c.Has(nb.StationID) {
					continue
				}
				other, ok := a.stations.Get(nb.StationID)
				if !ok {
					continue
				}
				for _, p := range other.Picks() {
					if potentialArrival(p.Snapshot(), src.ArrivalMs, nb.DistanceKm) && c.Assign(p) {
						added = append(added, p)
						break
					}
				}
			}
		}
		frontier = added
	}
	if c.Size() != before {
		c.Touch(a.clock.Now().UnixMilli())
	}
}

// expandPWaves claims unowned picks anywhere in the network that fit the
// accepted hypocenter under the widened tolerance.
func (a *Analysis) expandPWaves(c *domain.Cluster, h *domain.Hypocenter) {
	opts := arrival.Options{Mode: arrival.ToleranceWidened, ConsiderIntensity: true}
	for _, st := range a.stations.All() {
		if c.Has(st.ID) {
			continue
		}
		for _, p := range st.Picks() {
			snap := p.Snapshot()
			if !snap.Valid || snap.SWave || snap.ClusterID != station.NoCluster {
				continue
			}
			if a.checker.CouldBeArrival(snap, h, opts) {
				c.Assign(p)
				break
			}
		}
	}
}

func (a *Analysis) markSWaves(c *domain.Cluster, h *domain.Hypocenter) {
	for _, st := range a.stations.All() {
		for _, p := range st.Picks() {
			snap := p.Snapshot()
			if !snap.Valid || snap.SWave {
				continue
			}
			if snap.ClusterID == c.ID && a.checker.CouldBeArrival(snap, h, arrival.Options{PWaveOnly: true}) {
				continue
			}
			if a.checker.CouldBeSArrival(snap, h, true) {
				p.MarkSWave(c.ID)
			}
		}
	}
}

// potentialArrival reports whether an unowned pick at a station distKm away
// could belong to the same event as a pick at refMs.
func potentialArrival(p station.PickSnapshot, refMs int64, distKm float64) bool {
	if !p.Valid || p.ArrivalMs <= 0 || p.ClusterID != station.NoCluster {
		return false
	}
	window := int64(distKm*1000/propagationKmPerSec) + windowSlackMs
	return p.ArrivalMs >= refMs-window && p.ArrivalMs <= refMs+window
}

func (a *Analysis) createClusters() {
	for _, st := range a.stations.All() {
		for _, seed := range st.Picks() {
			snap := seed.Snapshot()
			if !snap.Valid || snap.ArrivalMs <= 0 || snap.ClusterID != station.NoCluster {
				continue
			}

			members := []*station.Pick{}
			for _, nb := range st.Nearby {
				other, ok := a.stations.Get(nb.StationID)
				if !ok {
					continue
				}
				for _, p := range other.Picks() {
					if potentialArrival(p.Snapshot(), snap.ArrivalMs, nb.DistanceKm) {
						members = append(members, p)
						break
					}
				}
			}
			if len(members) < domain.MinClusterSize {
				continue
			}
			members = append(members, seed)
			a.expand(a.createCluster(members))
		}
	}
}

func (a *Analysis) createCluster(members []*station.Pick) *domain.Cluster {
	c := domain.NewCluster(a.nextID, a.clock.Now().UnixMilli())
	a.nextID++
	for _, p := range members {
		c.Assign(p)
	}
	c.CalculateRoot()
	a.clusters = append(a.clusters, c)

	a.logger.Debug("cluster created", "cluster", c.ID, "picks", c.Size())
	a.metrics.ClustersCreated.Inc()
	a.publisher.Publish(events.ClusterCreated{Cluster: c.Snapshot()})
	return c
}

type stealCandidate struct {
	target    *domain.Cluster
	intensity float64
}

// stealPicks moves S-flagged picks that do not fit their own cluster to the
// accepted cluster that should feel them most. A pick already owned by that
// cluster stays put, which keeps repeated cycles stable.
func (a *Analysis) stealPicks() {
	best := make(map[*station.Pick]stealCandidate)
	var order []*station.Pick

	for _, st := range a.stations.All() {
		for _, p := range st.Picks() {
			snap := p.Snapshot()
			if !snap.Valid || !snap.SWave {
				continue
			}
			owner := a.byID(snap.ClusterID)
			if owner != nil {
				if h := owner.Previous(); h != nil && a.checker.CouldBeArrival(snap, h, arrival.Options{PWaveOnly: true}) {
					continue
				}
			}
			for _, c := range a.clusters {
				h := c.Previous()
				if h == nil || c.Earthquake() == nil {
					continue
				}
				in := a.checker.ExpectedIntensity(snap, h)
				if in < arrival.MinExpectedIntensity {
					continue
				}
				cur, seen := best[p]
				if !seen {
					order = append(order, p)
				}
				if !seen || in > cur.intensity {
					best[p] = stealCandidate{target: c, intensity: in}
				}
			}
		}
	}

	now := a.clock.Now().UnixMilli()
	for _, p := range order {
		cand := best[p]
		if cand.target.Has(p.StationID()) {
			continue
		}
		if owner := a.byID(p.ClusterID()); owner != nil {
			owner.Detach(p.StationID())
		}
		cand.target.Assign(p)
		cand.target.Touch(now)
		a.logger.Debug("pick stolen", "station", p.StationID(), "cluster", cand.target.ID)
	}
}

// mergeClusters folds clusters whose picks fit another accepted hypocenter
// into one. The better hypocenter survives.
func (a *Analysis) mergeClusters() {
	dropped := make(map[*domain.Cluster]bool)
	for _, c := range a.clusters {
		if dropped[c] || c.Earthquake() == nil || c.Previous() == nil {
			continue
		}
		for _, other := range a.clusters {
			if other == c || dropped[other] {
				continue
			}
			if !a.canMerge(c, other) {
				continue
			}
			target, absorbed := c, other
			if oh := other.Previous(); oh != nil && other.Earthquake() != nil &&
				domain.Better(oh.PreliminaryHypocenter, c.Previous().PreliminaryHypocenter) {
				target, absorbed = other, c
			}
			a.merge(target, absorbed)
			dropped[absorbed] = true
			if absorbed == c {
				break
			}
		}
	}
	if len(dropped) == 0 {
		return
	}
	kept := a.clusters[:0]
	for _, c := range a.clusters {
		if !dropped[c] {
			kept = append(kept, c)
		}
	}
	a.clusters = kept
}

func (a *Analysis) canMerge(c, other *domain.Cluster) bool {
	h := c.Previous()
	if oh := other.Previous(); oh != nil && other.Earthquake() != nil {
		dist := geo.GreatCircleDistance(h.Lat, h.Lon, oh.Lat, oh.Lon)
		if dist > mergeGateKm/(1+float64(oh.Correct)*mergeGateFactor) {
			return false
		}
	}
	if other.Size() == 0 {
		return false
	}
	consistent := 0
	opts := arrival.Options{Mode: arrival.ToleranceWidened, ConsiderIntensity: true}
	for _, p := range other.Picks() {
		snap := p.Snapshot()
		if snap.Valid && !snap.SWave && a.checker.CouldBeArrival(snap, h, opts) {
			consistent++
		}
	}
	return float64(consistent)/float64(other.Size()) > MergeThreshold
}

func (a *Analysis) merge(target, absorbed *domain.Cluster) {
	for _, p := range absorbed.Picks() {
		absorbed.Detach(p.StationID())
		target.Assign(p)
	}
	target.Touch(a.clock.Now().UnixMilli())
	absorbed.MarkDropped()

	if q := absorbed.Earthquake(); q != nil {
		absorbed.SetEarthquake(nil)
		if a.quakes.Remove(q.ID) {
			a.publisher.Publish(events.QuakeRemoved{Quake: q.Snapshot()})
		}
	}
	a.logger.Info("clusters merged", "cluster", target.ID, "absorbed", absorbed.ID, "picks", target.Size())
}

// updateClusters drops invalid picks and retires clusters that shrank below
// the minimum size or went quiet.
func (a *Analysis) updateClusters() {
	now := a.clock.Now().UnixMilli()
	kept := a.clusters[:0]
	for _, c := range a.clusters {
		minimum := max(minActive, int(float64(c.Size())*activeFraction))
		active := 0
		for _, p := range c.Picks() {
			snap := p.Snapshot()
			if !snap.Valid {
				c.Release(snap.StationID)
				continue
			}
			if !snap.Ended {
				active++
			}
		}
		if c.Size() < domain.MinClusterSize || (active < minimum && now-c.LastUpdateMs() > retireIdleMs) {
			c.MarkDropped()
			a.logger.Debug("cluster retired", "cluster", c.ID, "picks", c.Size())
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(a.clusters); i++ {
		a.clusters[i] = nil
	}
	a.clusters = kept
	sort.Slice(a.clusters, func(i, j int) bool { return a.clusters[i].ID < a.clusters[j].ID })
}
