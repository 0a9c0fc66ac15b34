package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/quake-detect/internal/adapter/sqlite"
	"github.com/couchcryptid/quake-detect/internal/domain"
	"github.com/couchcryptid/quake-detect/internal/station"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultArchiveLimit = 50
	maxArchiveLimit     = 1000
	maxArrivalBody      = 4 << 10
)

// Detections exposes read-only views of the detection state.
type Detections interface {
	QuakeSnapshots() []domain.QuakeSnapshot
	ClusterSnapshots() []domain.ClusterSnapshot
	StationSnapshots() []station.Snapshot
}

// Arrivals accepts externally determined arrivals.
type Arrivals interface {
	AddArrival(stationID int, arrivalMs int64, ratio float64) (int64, error)
}

// Archive lists archived earthquakes.
type Archive interface {
	Recent(ctx context.Context, n int) ([]sqlite.ArchivedQuake, error)
}

// Server exposes health, readiness, metrics, and the detection query API.
type Server struct {
	httpServer *http.Server
	detections Detections
	arrivals   Arrivals
	archive    Archive
	logger     *slog.Logger
}

// NewServer creates an HTTP server. arrivals and archive may be nil, in
// which case their endpoints are not served.
func NewServer(addr string, ready sharedobs.ReadinessChecker, detections Detections, arrivals Arrivals, archive Archive, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		detections: detections,
		arrivals:   arrivals,
		archive:    archive,
		logger:     logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/quakes", s.handleQuakes)
	mux.HandleFunc("GET /api/clusters", s.handleClusters)
	mux.HandleFunc("GET /api/stations", s.handleStations)
	if arrivals != nil {
		mux.HandleFunc("POST /api/arrivals", s.handleAddArrival)
	}
	if archive != nil {
		mux.HandleFunc("GET /api/archive", s.handleArchive)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleQuakes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.detections.QuakeSnapshots())
}

func (s *Server) handleClusters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.detections.ClusterSnapshots())
}

func (s *Server) handleStations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.detections.StationSnapshots())
}

type arrivalRequest struct {
	StationID int     `json:"station_id"`
	ArrivalMs int64   `json:"arrival_ms"`
	Ratio     float64 `json:"ratio"`
}

func (s *Server) handleAddArrival(w http.ResponseWriter, r *http.Request) {
	var req arrivalRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxArrivalBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed arrival"})
		return
	}

	id, err := s.arrivals.AddArrival(req.StationID, req.ArrivalMs, req.Ratio)
	switch {
	case errors.Is(err, station.ErrUnknownStation):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, station.ErrBadArrival):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	case err != nil:
		s.logger.Error("add arrival failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "arrival not recorded"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"pick_id": id})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	limit := defaultArchiveLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxArchiveLimit)
	}

	quakes, err := s.archive.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("list archived quakes failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "archive unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, quakes)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}

// Readiness combines checkers; the first failure wins.
func Readiness(checkers ...sharedobs.ReadinessChecker) sharedobs.ReadinessChecker {
	return readiness(checkers)
}

type readiness []sharedobs.ReadinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}
