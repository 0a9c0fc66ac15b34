package mapbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/couchcryptid/quake-detect/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock for cache tests ---

type countingGeocoder struct {
	calls  int
	result domain.GeocodingResult
	err    error
}

func (m *countingGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.GeocodingResult, error) {
	m.calls++
	return m.result, m.err
}

// --- CachedGeocoder tests ---

func TestCachedGeocoder_SameCellHits(t *testing.T) {
	inner := &countingGeocoder{result: domain.GeocodingResult{FormattedAddress: "Miyagi, Japan"}}
	metrics := testMetrics()
	cached := NewCachedGeocoder(inner, time.Hour, metrics)

	r1, err := cached.ReverseGeocode(context.Background(), 38.297, 142.373)
	require.NoError(t, err)
	r2, err := cached.ReverseGeocode(context.Background(), 38.31, 142.36)
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Equal(t, 1, inner.calls, "should only call inner once")
	assert.Equal(t, 1, cached.Len())
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("hit")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("miss")), 0)
}

func TestCachedGeocoder_DifferentCellsMiss(t *testing.T) {
	inner := &countingGeocoder{result: domain.GeocodingResult{FormattedAddress: "Somewhere"}}
	cached := NewCachedGeocoder(inner, time.Hour, testMetrics())

	_, _ = cached.ReverseGeocode(context.Background(), 10.0, 10.0)
	_, _ = cached.ReverseGeocode(context.Background(), 10.2, 10.0)

	assert.Equal(t, 2, inner.calls)
}

func TestCachedGeocoder_EmptyAndErrorsNotCached(t *testing.T) {
	inner := &countingGeocoder{}
	cached := NewCachedGeocoder(inner, time.Hour, testMetrics())

	_, _ = cached.ReverseGeocode(context.Background(), 0, 0)
	_, _ = cached.ReverseGeocode(context.Background(), 0, 0)
	assert.Equal(t, 2, inner.calls)

	inner.err = errors.New("rate limited")
	_, err := cached.ReverseGeocode(context.Background(), 0, 0)
	require.Error(t, err)
	assert.Zero(t, cached.Len())
}

func TestCellKey(t *testing.T) {
	assert.Equal(t, "rev:10.0,10.0", cellKey(10.04, 9.96))
	assert.Equal(t, "rev:0.0,-0.1", cellKey(-0.04, -0.06))
	assert.Equal(t, "rev:-33.5,151.2", cellKey(-33.46, 151.21))
}
