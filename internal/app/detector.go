// Package app assembles the detection core: stations, cluster analysis,
// hypocenter search and the live earthquake set.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/quake-detect/internal/arrival"
	"github.com/couchcryptid/quake-detect/internal/cluster"
	"github.com/couchcryptid/quake-detect/internal/domain"
	"github.com/couchcryptid/quake-detect/internal/events"
	"github.com/couchcryptid/quake-detect/internal/hypocenter"
	"github.com/couchcryptid/quake-detect/internal/observability"
	"github.com/couchcryptid/quake-detect/internal/pipeline"
	"github.com/couchcryptid/quake-detect/internal/station"
	"github.com/couchcryptid/quake-detect/internal/traveltime"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Task periods.
const (
	AnalysisPeriod     = 100 * time.Millisecond
	HousekeepingPeriod = time.Second
	ClusterPeriod      = 500 * time.Millisecond
	HypocenterPeriod   = time.Second
)

// Options configures a Detector.
type Options struct {
	Stations []station.Info
	Model    traveltime.Model
	Settings hypocenter.Settings
	NearbyKm float64
}

// Detector is the application context. It is built once in main and handed
// to the adapters that feed or read it.
type Detector struct {
	Stations *station.Registry
	Clusters *cluster.Analysis
	Search   *hypocenter.Search
	Quakes   *domain.Earthquakes

	publisher events.Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	workers   int
}

func NewDetector(opts Options, publisher events.Publisher, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Detector {
	if opts.NearbyKm <= 0 {
		opts.NearbyKm = station.DefaultNearbyKm
	}
	checker := arrival.NewChecker(opts.Model, opts.Settings.PWaveInaccuracyMs)
	stations := station.NewRegistry(opts.Stations, opts.NearbyKm, clock)
	quakes := domain.NewEarthquakes()
	clusters := cluster.New(stations, checker, quakes, publisher, clock, logger, metrics)
	search := hypocenter.New(opts.Settings, checker, stations, clusters, quakes, publisher, clock, logger, metrics)

	return &Detector{
		Stations:  stations,
		Clusters:  clusters,
		Search:    search,
		Quakes:    quakes,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		workers:   runtime.NumCPU(),
	}
}

// PushWaveform queues a record for its station.
func (d *Detector) PushWaveform(rec station.Record) error {
	return d.Stations.Push(rec)
}

// AddArrival records an externally determined P arrival at a station. The
// pick joins cluster analysis on the next cycle like an analyzer pick.
func (d *Detector) AddArrival(stationID int, arrivalMs int64, ratio float64) (int64, error) {
	s, ok := d.Stations.Get(stationID)
	if !ok {
		return 0, fmt.Errorf("station %d: %w", stationID, station.ErrUnknownStation)
	}
	now := d.clock.Now().UnixMilli()
	if ratio <= 0 || arrivalMs > now || now-arrivalMs > station.PickRetentionMs {
		return 0, fmt.Errorf("station %d at %d: %w", stationID, arrivalMs, station.ErrBadArrival)
	}
	p := s.AddArrival(arrivalMs, ratio)
	d.metrics.PicksCreated.Inc()
	d.logger.Info("arrival added", "station", s.String(), "pick", p.ID(), "arrival_ms", arrivalMs, "ratio", ratio)
	return p.ID(), nil
}

// Tasks returns the periodic tasks that drive detection.
func (d *Detector) Tasks() []pipeline.Task {
	return []pipeline.Task{
		{Name: "analysis", Period: AnalysisPeriod, Run: d.Analyse},
		{Name: "housekeeping", Period: HousekeepingPeriod, Run: d.Housekeeping},
		{Name: "cluster", Period: ClusterPeriod, Run: d.Cluster},
		{Name: "hypocenter", Period: HypocenterPeriod, Run: d.Hypocenter},
	}
}

// Analyse runs the signal analyzer of every station over its queued records.
func (d *Detector) Analyse(ctx context.Context) error {
	var opened atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, s := range d.Stations.All() {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			before := s.PicksOpened()
			s.Analyse()
			opened.Add(s.PicksOpened() - before)
			return nil
		})
	}
	err := g.Wait()
	if n := opened.Load(); n > 0 {
		d.metrics.PicksCreated.Add(float64(n))
	}
	return err
}

// Housekeeping purges expired picks and archives quakes past retention.
func (d *Detector) Housekeeping(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, s := range d.Stations.All() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s.Second()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	d.archiveExpired()
	return nil
}

// archiveExpired archives quakes whose retention ran out. Their clusters are
// dropped so no further revision is published under the archived id.
func (d *Detector) archiveExpired() {
	now := d.clock.Now().UnixMilli()
	for _, q := range d.Quakes.All() {
		if !q.ShouldArchive(now) {
			continue
		}
		snap := q.Snapshot()
		q.Cluster().MarkDropped()
		if !d.Quakes.Remove(q.ID) {
			continue
		}
		d.publisher.Publish(events.QuakeArchived{Quake: snap})
		d.logger.Info("earthquake archived",
			"quake", snap.ID,
			"cluster", snap.ClusterID,
			"magnitude", snap.Magnitude(),
			"revision", snap.Revision,
		)
	}
	d.metrics.ActiveQuakes.Set(float64(d.Quakes.Len()))
}

// Cluster runs one cluster analysis cycle.
func (d *Detector) Cluster(ctx context.Context) error {
	return d.Clusters.Run(ctx)
}

// Hypocenter searches every cluster whose picks changed.
func (d *Detector) Hypocenter(ctx context.Context) error {
	return d.Search.Run(ctx)
}

func (d *Detector) QuakeSnapshots() []domain.QuakeSnapshot {
	return d.Quakes.Snapshots()
}

func (d *Detector) ClusterSnapshots() []domain.ClusterSnapshot {
	return d.Clusters.Snapshots()
}

func (d *Detector) StationSnapshots() []station.Snapshot {
	all := d.Stations.All()
	out := make([]station.Snapshot, len(all))
	for i, s := range all {
		out[i] = s.Snapshot()
	}
	return out
}

// Quake looks up a live earthquake by id.
func (d *Detector) Quake(id string) (*domain.Earthquake, bool) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, false
	}
	return d.Quakes.Get(uid)
}

// CheckReadiness fails until the station directory holds at least one
// station.
func (d *Detector) CheckReadiness(_ context.Context) error {
	if d.Stations.Len() == 0 {
		return errors.New("station directory is empty")
	}
	return nil
}
