// Command synthquake streams synthetic waveforms for a single earthquake to
// the waveform topic. It seeds the station directory with the generated
// stations so the detector can be started against the same database.
//
// Usage:
//
//	go run ./cmd/synthquake \
//	  -db quake.db \
//	  -stations 40 -radius 600 \
//	  -lat 38.3 -lon 142.4 -depth 20 -mag 6.5 \
//	  -delay 90s -duration 5m
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/couchcryptid/quake-detect/internal/adapter/sqlite"
	"github.com/couchcryptid/quake-detect/internal/pipeline"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
)

func main() {
	if err := run(); err != nil {
		slog.Error("synthquake failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	dbPath := flag.String("db", sharedcfg.EnvOrDefault("STATIONS_DB_PATH", "quake.db"), "station directory database")
	brokers := flag.String("brokers", sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "comma-separated kafka brokers")
	topic := flag.String("topic", sharedcfg.EnvOrDefault("KAFKA_WAVEFORM_TOPIC", "seismic-waveforms"), "waveform topic")
	n := flag.Int("stations", 40, "number of stations")
	radius := flag.Float64("radius", 600, "station ring radius in km")
	lat := flag.Float64("lat", 38.3, "epicenter latitude")
	lon := flag.Float64("lon", 142.4, "epicenter longitude")
	depth := flag.Float64("depth", 20, "hypocenter depth in km")
	mag := flag.Float64("mag", 6.0, "magnitude")
	rate := flag.Float64("rate", 50, "sample rate in Hz")
	delay := flag.Duration("delay", 90*time.Second, "time from start to origin")
	duration := flag.Duration("duration", 5*time.Minute, "total time to stream")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	if *n <= 0 || *radius <= 0 || *rate <= 0 {
		flag.Usage()
		return errors.New("stations, radius and rate must be positive")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := clock.Now().Truncate(time.Second)
	sc := newScenario(*lat, *lon, *depth, *mag, start.Add(*delay).UnixMilli(), *n, *radius, *rate, *seed)

	store, err := sqlite.Open(ctx, *dbPath, clock, logger)
	if err != nil {
		return err
	}
	err = store.UpsertStations(ctx, sc.stations)
	if cerr := store.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("seed stations: %w", err)
	}
	logger.Info("stations seeded", "db", *dbPath, "stations", len(sc.stations))

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(sharedcfg.ParseBrokers(*brokers)...),
		Topic:        *topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	defer w.Close()

	logger.Info("streaming waveforms", "origin", time.UnixMilli(sc.originMs).UTC(), "duration", *duration)
	ticker := clock.NewTicker(time.Second)
	defer ticker.Stop()

	next := start
	for next.Before(start.Add(*duration)) {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
		msgs := make([]kafkago.Message, 0, len(sc.stations))
		for i, info := range sc.stations {
			data, err := pipeline.EncodeRecord(sc.record(i, next.UnixMilli()))
			if err != nil {
				return err
			}
			msgs = append(msgs, kafkago.Message{Key: []byte(strconv.Itoa(info.ID)), Value: data})
		}
		if err := w.WriteMessages(ctx, msgs...); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("write waveforms: %w", err)
		}
		next = next.Add(time.Second)
	}
	logger.Info("done")
	return nil
}
