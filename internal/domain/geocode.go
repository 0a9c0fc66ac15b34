package domain

import (
	"context"
	"log/slog"
)

// ResolveRegion names the region of an epicenter. If the geocoder is nil,
// fails, or finds nothing, the formatted coordinates are used instead.
func ResolveRegion(ctx context.Context, lat, lon float64, geocoder Geocoder, logger *slog.Logger) string {
	fallback := FormatCoordinates(lat, lon)
	if geocoder == nil {
		return fallback
	}

	result, err := geocoder.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"lat", lat,
			"lon", lon,
			"error", err,
		)
		return fallback
	}
	if result.FormattedAddress != "" {
		return result.FormattedAddress
	}
	if result.PlaceName != "" {
		return result.PlaceName
	}
	return fallback
}
