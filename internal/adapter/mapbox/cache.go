package mapbox

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/quake-detect/internal/domain"
	"github.com/couchcryptid/quake-detect/internal/observability"
	"github.com/patrickmn/go-cache"
)

// cellDegrees is the grid size cached results are keyed on. Revisions of one
// quake rarely move the epicenter out of its cell.
const cellDegrees = 0.1

// CachedGeocoder wraps a Geocoder with an expiring in-memory cache.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *cache.Cache
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder. Entries
// expire after ttl.
func NewCachedGeocoder(inner domain.Geocoder, ttl time.Duration, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   cache.New(ttl, 2*ttl),
		metrics: metrics,
	}
}

func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	key := cellKey(lat, lon)
	if v, ok := c.cache.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return v.(domain.GeocodingResult), nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	result, err := c.inner.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return result, err
	}
	// Only cache non-empty results so transient "not found" responses can be retried.
	if result.FormattedAddress != "" {
		c.cache.SetDefault(key, result)
	}
	return result, nil
}

// Len is the number of cached cells, expired ones included until the
// janitor runs.
func (c *CachedGeocoder) Len() int {
	return c.cache.ItemCount()
}

func cellKey(lat, lon float64) string {
	return fmt.Sprintf("rev:%.1f,%.1f", snap(lat), snap(lon))
}

func snap(v float64) float64 {
	s := math.Round(v/cellDegrees) * cellDegrees
	if s == 0 {
		return 0 // avoid "-0.0"
	}
	return s
}
