package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/quake-detect/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/quake-detect/internal/adapter/kafka"
	"github.com/couchcryptid/quake-detect/internal/adapter/mapbox"
	"github.com/couchcryptid/quake-detect/internal/adapter/mqtt"
	"github.com/couchcryptid/quake-detect/internal/adapter/sqlite"
	"github.com/couchcryptid/quake-detect/internal/app"
	"github.com/couchcryptid/quake-detect/internal/config"
	"github.com/couchcryptid/quake-detect/internal/domain"
	"github.com/couchcryptid/quake-detect/internal/events"
	"github.com/couchcryptid/quake-detect/internal/hypocenter"
	"github.com/couchcryptid/quake-detect/internal/observability"
	"github.com/couchcryptid/quake-detect/internal/pipeline"
	"github.com/couchcryptid/quake-detect/internal/traveltime"
	"github.com/jonboulle/clockwork"
)

func main() {
	if err := run(); err != nil {
		slog.Error("quakedetect failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(ctx, cfg.StationsDBPath, clock, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("sqlite close error", "error", err)
		}
	}()

	stations, err := store.LoadStations(ctx)
	if err != nil {
		return err
	}
	logger.Info("station directory loaded", "stations", len(stations))

	model, err := travelTimeModel(cfg, logger)
	if err != nil {
		return err
	}

	bus := events.NewBus(events.DefaultBufferSize, logger, metrics)
	detector := app.NewDetector(app.Options{
		Stations: stations,
		Model:    model,
		Settings: hypocenter.Settings{
			PWaveInaccuracyMs:    cfg.PWaveInaccuracyMs,
			CorrectnessThreshold: cfg.CorrectnessThreshold,
			MinStations:          cfg.MinStations,
			MaxEvents:            cfg.MaxEvents,
			Resolution:           cfg.Resolution,
			ReduceRevisions:      cfg.ReduceRevisions,
		},
		NearbyKm: cfg.NearbyStationKm,
	}, bus, clock, logger, metrics)

	writer := kafkaadapter.NewWriter(cfg, clock, logger)
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}()

	consumers := []events.Consumer{writer, store}

	// Region names are resolved through Mapbox when enabled, otherwise from
	// coordinates.
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheTTL, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_ttl", cfg.MapboxCacheTTL, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}
	consumers = append(consumers, mapbox.NewRegionUpdater(detector, geocoder, logger))

	if cfg.MQTTEnabled() {
		pub, err := mqtt.NewPublisher(cfg, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		consumers = append(consumers, pub)
	}

	for _, c := range consumers {
		if err := bus.Register(c); err != nil {
			return err
		}
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}()

	ingestor := pipeline.NewIngestor(reader, detector, logger, metrics, cfg.BatchSize)
	scheduler := pipeline.NewScheduler(clock, logger, metrics, detector.Tasks()...)

	ready := httpadapter.Readiness(detector, scheduler, store, ingestor)
	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, detector, detector, store, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	bus.Start(ctx)
	scheduler.Start(ctx)

	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		if err := ingestor.Run(ctx); err != nil {
			logger.Error("ingestor error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-ingestDone:
	case <-shutdownCtx.Done():
		logger.Warn("ingestor did not stop before shutdown timeout")
	}
	if err := scheduler.Stop(cfg.ShutdownTimeout); err != nil {
		logger.Error("scheduler stop error", "error", err)
	}
	bus.Stop()

	logger.Info("shutdown complete", "events_dropped", bus.Dropped())
	return nil
}

func travelTimeModel(cfg *config.Config, logger *slog.Logger) (traveltime.Model, error) {
	if cfg.TravelTimeTable == "" {
		logger.Info("using constant velocity travel time model")
		return traveltime.NewConstantVelocity(), nil
	}
	table, err := traveltime.LoadFile(cfg.TravelTimeTable)
	if err != nil {
		return nil, err
	}
	logger.Info("travel time table loaded", "path", cfg.TravelTimeTable)
	return table, nil
}
