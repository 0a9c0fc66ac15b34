// Package hypocenter locates clusters: a phased spatial search for the source
// of their picks, followed by uncertainty, magnitude and acceptance checks.
package hypocenter

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/couchcryptid/quake-detect/internal/arrival"
	"github.com/couchcryptid/quake-detect/internal/domain"
	"github.com/couchcryptid/quake-detect/internal/events"
	"github.com/couchcryptid/quake-detect/internal/geo"
	"github.com/couchcryptid/quake-detect/internal/intensity"
	"github.com/couchcryptid/quake-detect/internal/observability"
	"github.com/couchcryptid/quake-detect/internal/station"
	"github.com/couchcryptid/quake-detect/internal/traveltime"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const (
	// MinRatio is the strongest pick ratio below which a cluster is not
	// searched.
	MinRatio = 16.0

	// Revisions are throttled from this many picked events on.
	throttleMinEvents = 24

	// A second pass over more events than this keeps only the best fitting
	// share of the excess.
	residualKeepMin      = 16
	residualKeepFraction = 0.65

	maxDepthMarginKm = 5.0

	distantKm      = 2000.0
	distantCorrect = 12

	// Obvious-arrival check.
	obviousIntensity = 64.0
	obviousWindowMs  = 10_000
	obviousMinTotal  = 8
	maxWrongRatio    = 0.25
	severeWrongRatio = 0.4375

	severeFraction = 0.75
)

// ClusterSource exposes the active clusters under a read lock.
type ClusterSource interface {
	View(fn func(clusters []*domain.Cluster))
}

// Search runs hypocenter searches for clusters whose picks changed.
type Search struct {
	settings  Settings
	model     traveltime.Model
	checker   *arrival.Checker
	stations  *station.Registry
	clusters  ClusterSource
	quakes    *domain.Earthquakes
	publisher events.Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	workers   int
}

func New(
	settings Settings,
	checker *arrival.Checker,
	stations *station.Registry,
	clusters ClusterSource,
	quakes *domain.Earthquakes,
	publisher events.Publisher,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Search {
	return &Search{
		settings:  settings,
		model:     checker.Model,
		checker:   checker,
		stations:  stations,
		clusters:  clusters,
		quakes:    quakes,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		workers:   runtime.NumCPU(),
	}
}

// job is a cluster and the picks it held when the search was scheduled.
type job struct {
	cluster   *domain.Cluster
	signature int
	rootLat   float64
	rootLon   float64
	picks     []station.PickSnapshot
}

// Run searches every cluster with new picks. Picks are snapshotted under the
// read lock; the searches themselves run without it, one goroutine per
// cluster.
func (s *Search) Run(ctx context.Context) error {
	var jobs []job
	s.clusters.View(func(clusters []*domain.Cluster) {
		for _, c := range clusters {
			sig := c.Signature()
			if c.Dropped() || !c.SearchPending(sig) {
				continue
			}
			j := job{cluster: c, signature: sig}
			j.rootLat, j.rootLon = c.Root()
			for _, p := range c.Picks() {
				j.picks = append(j.picks, p.Snapshot())
			}
			jobs = append(jobs, j)
		}
	})

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, j := range jobs {
		g.Go(func() error {
			_, err := s.process(ctx, j)
			return err
		})
	}
	err := g.Wait()
	s.metrics.ActiveQuakes.Set(float64(s.quakes.Len()))
	return err
}

func (s *Search) process(ctx context.Context, j job) (Outcome, error) {
	start := time.Now()
	outcome, err := s.processCluster(ctx, j)
	if err != nil {
		return outcome, err
	}
	j.cluster.MarkSearched(j.signature)
	s.metrics.HypocenterOutcomes.WithLabelValues(outcome.String()).Inc()
	if outcome != OutcomeUnchanged && outcome != OutcomeThrottled {
		s.metrics.SearchDuration.Observe(time.Since(start).Seconds())
		s.logger.Debug("hypocenter search finished", "cluster", j.cluster.ID, "outcome", outcome.String(), "duration", time.Since(start))
	}
	return outcome, nil
}

func (s *Search) processCluster(ctx context.Context, j job) (Outcome, error) {
	c := j.cluster
	if !c.SearchPending(j.signature) {
		return OutcomeUnchanged, nil
	}

	picked := pickedEvents(j.picks)
	if len(picked) == 0 {
		return OutcomeNoEvents, nil
	}

	if c.Earthquake() != nil {
		if prev := c.Previous(); prev != nil {
			c.RefreshMagnitude(s.magnitude(prev, j.picks))
		}
		if s.settings.ReduceRevisions && !c.ThrottleRevision(len(picked), throttleMinEvents) {
			return OutcomeThrottled, nil
		}
	}

	sort.SliceStable(picked, func(a, b int) bool { return picked[a].MaxRatio > picked[b].MaxRatio })
	if picked[0].MaxRatio < MinRatio {
		return OutcomeWeak, nil
	}
	if len(picked) < s.settings.MinStations {
		return OutcomeInsufficient, nil
	}

	selected := farthestPoints(picked, s.settings.MaxEvents)
	best, f, ok, err := s.locate(ctx, c, selected)
	if err != nil {
		return OutcomeNoFit, err
	}
	if !ok {
		return OutcomeNoFit, nil
	}
	return s.postProcess(ctx, j, selected, best, f)
}

// pickedEvents are the valid picks not classified as S arrivals.
func pickedEvents(picks []station.PickSnapshot) []station.PickSnapshot {
	out := make([]station.PickSnapshot, 0, len(picks))
	for _, p := range picks {
		if p.Valid && !p.SWave {
			out = append(out, p)
		}
	}
	return out
}

// farthestPoints greedily samples up to n events, each time taking the one
// farthest from all already taken. The first event seeds the sample.
func farthestPoints(evs []station.PickSnapshot, n int) []station.PickSnapshot {
	if len(evs) <= n {
		out := make([]station.PickSnapshot, len(evs))
		copy(out, evs)
		return out
	}
	selected := make([]station.PickSnapshot, 0, n)
	selected = append(selected, evs[0])
	taken := make([]bool, len(evs))
	taken[0] = true
	nearest := make([]float64, len(evs))
	for i, e := range evs {
		nearest[i] = geo.GreatCircleDistance(evs[0].Lat, evs[0].Lon, e.Lat, e.Lon)
	}

	for len(selected) < n {
		next := -1
		for i := range evs {
			if !taken[i] && (next < 0 || nearest[i] > nearest[next]) {
				next = i
			}
		}
		taken[next] = true
		chosen := evs[next]
		selected = append(selected, chosen)
		for i, e := range evs {
			nearest[i] = min(nearest[i], geo.GreatCircleDistance(chosen.Lat, chosen.Lon, e.Lat, e.Lon))
		}
	}
	return selected
}

func (s *Search) newFinder(evs []station.PickSnapshot) *finder {
	return &finder{
		model:     s.model,
		threshold: s.settings.PWaveInaccuracyMs,
		settings:  s.settings,
		workers:   s.workers,
		events:    evs,
	}
}

// locate runs the search in up to three passes: over the selected events,
// over those the first fit found correct, and over the best fitting share of
// those when there are many. Later passes start at the previous pass's fit.
// It returns the finder of the last pass, whose events the fit was scored on.
func (s *Search) locate(ctx context.Context, c *domain.Cluster, selected []station.PickSnapshot) (domain.PreliminaryHypocenter, *finder, bool, error) {
	prev := c.Previous()
	lat, lon := c.Anchor()

	f := s.newFinder(selected)
	best, err := f.run(ctx, lat, lon, true, prev)
	if err != nil {
		return best, nil, false, err
	}

	fit := &domain.Hypocenter{PreliminaryHypocenter: best}
	var correct []station.PickSnapshot
	for _, e := range selected {
		if s.checker.CouldBeArrival(e, fit, arrival.Options{Mode: arrival.ToleranceFixed, PWaveOnly: true}) {
			correct = append(correct, e)
		}
	}
	if len(correct) < domain.MinClusterSize {
		return best, f, false, nil
	}

	f = s.newFinder(correct)
	best, err = f.run(ctx, best.Lat, best.Lon, false, prev)
	if err != nil || len(correct) <= residualKeepMin {
		return best, f, err == nil, err
	}

	sort.SliceStable(correct, func(a, b int) bool {
		return f.residual(correct[a], best) < f.residual(correct[b], best)
	})
	keep := residualKeepMin + int(float64(len(correct)-residualKeepMin)*residualKeepFraction)
	f = s.newFinder(correct[:keep])
	best, err = f.run(ctx, best.Lat, best.Lon, false, prev)
	return best, f, err == nil, err
}

func (s *Search) postProcess(ctx context.Context, j job, selected []station.PickSnapshot, best domain.PreliminaryHypocenter, f *finder) (Outcome, error) {
	c := j.cluster
	h := &domain.Hypocenter{PreliminaryHypocenter: best}
	h.DepthCI = f.depthConfidence(best)
	polygons, err := f.polygons(ctx, best)
	if err != nil {
		return OutcomeNoFit, err
	}
	h.Polygons = polygons
	h.Magnitude, h.Readings = s.magnitude(h, j.picks)

	if h.Depth > s.model.MaxDepth()-maxDepthMarginKm {
		return OutcomeTooDeep, nil
	}

	// Spread and depth fixing use the events the fit was scored on;
	// correctness is judged against everything selected.
	distFromRoot := geo.GreatCircleDistance(h.Lat, h.Lon, j.rootLat, j.rootLon)
	if dp := deltaP(f.events); dp < minDeltaP(distFromRoot) {
		s.logger.Debug("hypocenter rejected", "cluster", c.ID, "reason", "delta_p", "delta_p_ms", dp, "dist_from_root_km", distFromRoot)
		return OutcomeDeltaP, nil
	}

	if polygons[len(polygons)-1].MaxLength() > maxLocationUncertaintyKm {
		return OutcomeUncertain, nil
	}
	if depthUncertain(h.DepthCI) {
		fixDepth(s.model, h, f.events)
	}

	h.Correct = 0
	for _, e := range selected {
		if s.checker.CouldBeArrival(e, h, arrival.Options{Mode: arrival.ToleranceFixed, PWaveOnly: true}) {
			h.Correct++
		}
	}
	h.TotalEvents = len(selected)
	h.Obvious = s.obviousArrivals(h)
	h.Quality = domain.QualityFromPolygon(h, polygons[len(polygons)-1])

	if outcome, ok := s.checkValidity(c, h); !ok {
		return outcome, nil
	}
	if outcome, ok := s.checkConditions(c, h, distFromRoot); !ok {
		return outcome, nil
	}
	return s.accept(c, h), nil
}

// obviousArrivals counts stations, member or not, that were running when a
// strong arrival of h was due, and those of them without a pick near it.
func (s *Search) obviousArrivals(h *domain.Hypocenter) domain.ObviousArrivals {
	var o domain.ObviousArrivals
	for _, st := range s.stations.All() {
		raw := s.model.PWave(h.Depth, geo.ToAngle(geo.GreatCircleDistance(h.Lat, h.Lon, st.Lat, st.Lon)))
		if !traveltime.Valid(raw) {
			continue
		}
		dist := geo.GeologicalDistance(h.Lat, h.Lon, -h.Depth, st.Lat, st.Lon, st.Elevation/1000)
		if intensity.MaxIntensity(h.Magnitude, dist) < obviousIntensity {
			continue
		}
		expected := h.OriginMs + int64((raw+arrival.ElevationCorrection(st.Elevation))*1000)
		if !st.ActiveAt(expected) {
			continue
		}
		o.Total++
		if !st.HasPickNear(expected, obviousWindowMs) {
			o.Wrong++
		}
	}
	return o
}

// checkValidity applies the correctness gates. A severe shortfall removes
// the cluster's existing earthquake.
func (s *Search) checkValidity(c *domain.Cluster, h *domain.Hypocenter) (Outcome, bool) {
	pct := h.CorrectRatio() * 100
	minStations := float64(s.settings.MinStations)
	wrong := h.Obvious.Total > obviousMinTotal && h.Obvious.WrongRatio() >= maxWrongRatio
	if pct >= s.settings.CorrectnessThreshold && float64(h.Correct) >= minStations && !wrong {
		return OutcomeAccepted, true
	}

	severe := pct < s.settings.CorrectnessThreshold*severeFraction ||
		float64(h.Correct) < minStations*severeFraction ||
		(h.Obvious.Total > obviousMinTotal && h.Obvious.WrongRatio() > severeWrongRatio)
	if severe {
		if q := c.Earthquake(); q != nil {
			s.removeQuake(c, q)
			return OutcomeRemoved, false
		}
	}
	s.logger.Debug("hypocenter rejected", "cluster", c.ID, "reason", "invalid",
		"correct", h.Correct, "total", h.TotalEvents, "obvious", h.Obvious.Total, "obvious_wrong", h.Obvious.Wrong)
	return OutcomeInvalid, false
}

func (s *Search) checkConditions(c *domain.Cluster, h *domain.Hypocenter, distFromRoot float64) (Outcome, bool) {
	if distFromRoot > distantKm && h.Correct < distantCorrect {
		return OutcomeDistant, false
	}
	if h.Correct < s.settings.MinStations {
		return OutcomeNotEnoughCorrect, false
	}
	if prev := c.Previous(); prev != nil && domain.Better(prev.PreliminaryHypocenter, h.PreliminaryHypocenter) {
		return OutcomePreviousBetter, false
	}
	return OutcomeAccepted, true
}

// accept installs h on the cluster and creates or updates its earthquake.
// It runs under the cluster list read lock so a concurrent merge or
// retirement cannot slip in between the dropped check and the update.
func (s *Search) accept(c *domain.Cluster, h *domain.Hypocenter) Outcome {
	outcome := OutcomeDropped
	s.clusters.View(func([]*domain.Cluster) {
		if c.Dropped() {
			return
		}
		now := s.clock.Now().UnixMilli()
		prev := c.Accept(h, now)
		q := c.Earthquake()
		if q == nil {
			q = domain.NewEarthquake(c, now)
			c.SetEarthquake(q)
			s.quakes.Add(q)
			s.publisher.Publish(events.QuakeCreated{Quake: q.Snapshot()})
		} else {
			q.Touch(now)
			s.publisher.Publish(events.QuakeUpdated{Quake: q.Snapshot(), Previous: prev})
		}
		outcome = OutcomeAccepted
		s.logger.Info("hypocenter accepted",
			"cluster", c.ID,
			"quake", q.ID.String(),
			"revision", c.Revision(),
			"lat", h.Lat,
			"lon", h.Lon,
			"depth", h.Depth,
			"magnitude", h.Magnitude,
			"correct", h.Correct,
			"total", h.TotalEvents,
			"quality", h.Quality.Summary.String(),
		)
	})
	return outcome
}

func (s *Search) removeQuake(c *domain.Cluster, q *domain.Earthquake) {
	snap := q.Snapshot()
	c.SetEarthquake(nil)
	if s.quakes.Remove(q.ID) {
		s.publisher.Publish(events.QuakeRemoved{Quake: snap})
		s.logger.Info("earthquake removed", "cluster", c.ID, "quake", snap.ID)
	}
}
