// Command stationimport loads a station list from CSV into the station
// directory database read by quakedetect at startup.
//
// The CSV must have a header row with the columns id, network, code, lat
// and lon. An elevation column (meters) is optional.
//
// Usage:
//
//	go run ./cmd/stationimport -csv stations.csv -db quake.db
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/quake-detect/internal/adapter/sqlite"
	"github.com/couchcryptid/quake-detect/internal/station"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/jonboulle/clockwork"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvPath := flag.String("csv", "", "station list CSV")
	dbPath := flag.String("db", sharedcfg.EnvOrDefault("STATIONS_DB_PATH", "quake.db"), "station directory database")
	flag.Parse()

	if *csvPath == "" {
		flag.Usage()
		return errors.New("missing required flag: -csv")
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	infos, err := parseStations(f)
	if err != nil {
		return fmt.Errorf("%s: %w", *csvPath, err)
	}

	ctx := context.Background()
	store, err := sqlite.Open(ctx, *dbPath, clockwork.NewRealClock(), slog.Default())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.UpsertStations(ctx, infos); err != nil {
		return err
	}
	log.Printf("imported %d stations into %s", len(infos), *dbPath)
	return nil
}

func parseStations(r io.Reader) ([]station.Info, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, errors.New("no data rows")
	}

	colIdx := map[string]int{}
	for i, h := range rows[0] {
		colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"id", "network", "code", "lat", "lon"} {
		if _, ok := colIdx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	seen := map[int]bool{}
	infos := make([]station.Info, 0, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2
		id, err := strconv.Atoi(get(row, colIdx, "id"))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("line %d: invalid id", line)
		}
		if seen[id] {
			return nil, fmt.Errorf("line %d: duplicate id %d", line, id)
		}
		seen[id] = true

		lat, err := strconv.ParseFloat(get(row, colIdx, "lat"), 64)
		if err != nil || lat < -90 || lat > 90 {
			return nil, fmt.Errorf("line %d: invalid lat", line)
		}
		lon, err := strconv.ParseFloat(get(row, colIdx, "lon"), 64)
		if err != nil || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("line %d: invalid lon", line)
		}
		var elev float64
		if s := get(row, colIdx, "elevation"); s != "" {
			if elev, err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("line %d: invalid elevation", line)
			}
		}

		infos = append(infos, station.Info{
			ID:        id,
			Network:   get(row, colIdx, "network"),
			Code:      get(row, colIdx, "code"),
			Lat:       lat,
			Lon:       lon,
			Elevation: elev,
		})
	}
	return infos, nil
}

func get(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
