//go:build mapbox

package mapbox

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests hit the real Mapbox API and require a valid MAPBOX_TOKEN env var.
// Run with: go test -tags=mapbox ./internal/adapter/mapbox/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Fatal("MAPBOX_TOKEN must be set to run smoke tests")
	}
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://api.mapbox.com/geocoding/v5/mapbox.places",
		metrics:    testMetrics(),
		logger:     discardLogger(),
	}
}

func TestSmoke_ReverseGeocode(t *testing.T) {
	c := smokeClient(t)

	// Tohoku 2011 epicenter, offshore Miyagi.
	result, err := c.ReverseGeocode(context.Background(), 38.297, 142.373)
	require.NoError(t, err)

	assert.NotEmpty(t, result.FormattedAddress)
	assert.Contains(t, result.FormattedAddress, "Japan")
	assert.Greater(t, result.Confidence, 0.0)
}

func TestSmoke_ReverseGeocode_OpenOcean(t *testing.T) {
	c := smokeClient(t)

	// Mid-Pacific may match nothing; the client must not error.
	_, err := c.ReverseGeocode(context.Background(), -40, -130)
	require.NoError(t, err)
}

func TestSmoke_CachedGeocoder(t *testing.T) {
	c := smokeClient(t)
	cached := NewCachedGeocoder(c, time.Hour, testMetrics())

	r1, err := cached.ReverseGeocode(context.Background(), 35.68, 139.69)
	require.NoError(t, err)
	r2, err := cached.ReverseGeocode(context.Background(), 35.68, 139.69)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}
