package mapbox

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/quake-detect/internal/domain"
	"github.com/couchcryptid/quake-detect/internal/events"
)

// QuakeLookup finds a live earthquake by id.
type QuakeLookup interface {
	Quake(id string) (*domain.Earthquake, bool)
}

// RegionUpdater names the region of new and revised quakes. It implements
// events.Consumer. A nil geocoder labels every quake with its coordinates.
type RegionUpdater struct {
	quakes   QuakeLookup
	geocoder domain.Geocoder
	logger   *slog.Logger
}

func NewRegionUpdater(quakes QuakeLookup, geocoder domain.Geocoder, logger *slog.Logger) *RegionUpdater {
	return &RegionUpdater{quakes: quakes, geocoder: geocoder, logger: logger}
}

func (u *RegionUpdater) Name() string { return "region" }

func (u *RegionUpdater) Consume(ctx context.Context, e events.Event) error {
	var snap domain.QuakeSnapshot
	switch ev := e.(type) {
	case events.QuakeCreated:
		snap = ev.Quake
	case events.QuakeUpdated:
		snap = ev.Quake
	default:
		return nil
	}
	if snap.Hypocenter == nil {
		return nil
	}
	q, ok := u.quakes.Quake(snap.ID)
	if !ok {
		return nil
	}

	region := domain.ResolveRegion(ctx, snap.Hypocenter.Lat, snap.Hypocenter.Lon, u.geocoder, u.logger)
	if region != q.Region() {
		q.SetRegion(region)
		u.logger.Debug("quake region resolved", "quake", snap.ID, "region", region)
	}
	return nil
}
