// Package sqlite stores the station directory and the archive of finished
// earthquakes in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/quake-detect/internal/domain"
	"github.com/couchcryptid/quake-detect/internal/events"
	"github.com/couchcryptid/quake-detect/internal/station"
	"github.com/jonboulle/clockwork"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS stations (
	id        INTEGER PRIMARY KEY,
	network   TEXT    NOT NULL DEFAULT '',
	code      TEXT    NOT NULL,
	lat       REAL    NOT NULL,
	lon       REAL    NOT NULL,
	elevation REAL    NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS archived_quakes (
	id          TEXT    PRIMARY KEY,
	lat         REAL    NOT NULL,
	lon         REAL    NOT NULL,
	depth       REAL    NOT NULL,
	origin_ms   INTEGER NOT NULL,
	magnitude   REAL    NOT NULL,
	quality     TEXT    NOT NULL,
	region      TEXT    NOT NULL DEFAULT '',
	revisions   INTEGER NOT NULL,
	archived_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS archived_quakes_origin ON archived_quakes (origin_ms DESC);
`

// Store wraps the database handle.
type Store struct {
	db     *sql.DB
	clock  clockwork.Clock
	logger *slog.Logger
}

// Open connects to the database at path, enables WAL and creates the schema.
func Open(ctx context.Context, path string, clock clockwork.Clock, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	// WAL persists in the file; the per-connection pragmas ride on the DSN.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	logger.Info("sqlite store opened", "path", path)
	return &Store{db: db, clock: clock, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadStations returns the station directory ordered by id. An empty table
// yields an empty slice.
func (s *Store) LoadStations(ctx context.Context) ([]station.Info, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, network, code, lat, lon, elevation FROM stations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	defer rows.Close()

	var out []station.Info
	for rows.Next() {
		var info station.Info
		if err := rows.Scan(&info.ID, &info.Network, &info.Code, &info.Lat, &info.Lon, &info.Elevation); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stations: %w", err)
	}
	return out, nil
}

// UpsertStations writes directory entries in one transaction.
func (s *Store) UpsertStations(ctx context.Context, infos []station.Info) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO stations (id, network, code, lat, lon, elevation)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				network = excluded.network,
				code = excluded.code,
				lat = excluded.lat,
				lon = excluded.lon,
				elevation = excluded.elevation`)
		if err != nil {
			return fmt.Errorf("prepare station upsert: %w", err)
		}
		defer stmt.Close()

		for _, info := range infos {
			if _, err := stmt.ExecContext(ctx, info.ID, info.Network, info.Code, info.Lat, info.Lon, info.Elevation); err != nil {
				return fmt.Errorf("upsert station %d: %w", info.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ArchivedQuake is a row of the quake archive.
type ArchivedQuake struct {
	ID         string    `json:"id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Depth      float64   `json:"depth"`
	OriginMs   int64     `json:"origin_ms"`
	Magnitude  float64   `json:"magnitude"`
	Quality    string    `json:"quality"`
	Region     string    `json:"region"`
	Revisions  int       `json:"revisions"`
	ArchivedAt time.Time `json:"archived_at"`
}

func (s *Store) Name() string { return "archive" }

// Consume persists archived quakes and ignores every other event.
func (s *Store) Consume(ctx context.Context, e events.Event) error {
	ev, ok := e.(events.QuakeArchived)
	if !ok {
		return nil
	}
	return s.Archive(ctx, ev.Quake)
}

// Archive stores a quake snapshot. Archiving the same id twice keeps the
// latest row.
func (s *Store) Archive(ctx context.Context, q domain.QuakeSnapshot) error {
	h := q.Hypocenter
	if h == nil {
		h = &domain.Hypocenter{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO archived_quakes (id, lat, lon, depth, origin_ms, magnitude, quality, region, revisions, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			lat = excluded.lat,
			lon = excluded.lon,
			depth = excluded.depth,
			origin_ms = excluded.origin_ms,
			magnitude = excluded.magnitude,
			quality = excluded.quality,
			region = excluded.region,
			revisions = excluded.revisions,
			archived_at = excluded.archived_at`,
		q.ID, h.Lat, h.Lon, h.Depth, h.OriginMs, h.Magnitude,
		h.Quality.Summary.String(), q.Region, q.Revision, s.clock.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("archive quake %s: %w", q.ID, err)
	}
	s.logger.Debug("quake archived", "quake", q.ID)
	return nil
}

// Recent returns up to n archived quakes, newest origin first.
func (s *Store) Recent(ctx context.Context, n int) ([]ArchivedQuake, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lat, lon, depth, origin_ms, magnitude, quality, region, revisions, archived_at
		FROM archived_quakes
		ORDER BY origin_ms DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query archived quakes: %w", err)
	}
	defer rows.Close()

	out := make([]ArchivedQuake, 0, n)
	for rows.Next() {
		var (
			q          ArchivedQuake
			archivedAt int64
		)
		if err := rows.Scan(&q.ID, &q.Lat, &q.Lon, &q.Depth, &q.OriginMs, &q.Magnitude,
			&q.Quality, &q.Region, &q.Revisions, &archivedAt); err != nil {
			return nil, fmt.Errorf("scan archived quake: %w", err)
		}
		q.ArchivedAt = time.UnixMilli(archivedAt).UTC()
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived quakes: %w", err)
	}
	return out, nil
}
