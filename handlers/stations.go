package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/MADA-gnuBD/bikeops/internal/authz"
	"github.com/MADA-gnuBD/bikeops/internal/geo"
	"github.com/MADA-gnuBD/bikeops/internal/session"
	"github.com/MADA-gnuBD/bikeops/internal/stations"
	"github.com/MADA-gnuBD/bikeops/internal/workqueue"
	"github.com/MADA-gnuBD/bikeops/models"
)

// StationSource is the poller as the handlers see it
type StationSource interface {
	Current() (*models.Snapshot, error)
	Station(id string) (models.Station, bool)
	Stats() (models.StationStats, error)
	Refresh(ctx context.Context, trigger string) (*models.Snapshot, error)
	Freshness() models.DataFreshness
}

// HistoryRepository reads persisted station history
type HistoryRepository interface {
	GetStationHistory(ctx context.Context, stationID string, since time.Time) ([]models.StationHistoryPoint, error)
}

// StationHandler handles HTTP requests for station data
type StationHandler struct {
	source  StationSource
	history HistoryRepository
	status  func(models.Station) string
	authz   *authz.Enforcer
}

// NewStationHandler creates a station handler. status classifies markers
// for the GeoJSON export.
func NewStationHandler(source StationSource, history HistoryRepository, status func(models.Station) string, en *authz.Enforcer) *StationHandler {
	return &StationHandler{source: source, history: history, status: status, authz: en}
}

// StationsResponse is the JSON response for GET /api/stations
type StationsResponse struct {
	Stations   []models.Station `json:"stations"`
	Count      int              `json:"count"`
	SnapshotID string           `json:"snapshotId"`
	PolledAt   time.Time        `json:"polledAt"`
}

// StationHistoryResponse is the JSON response for GET /api/stations/{id}/history
type StationHistoryResponse struct {
	StationID string                       `json:"stationId"`
	Hours     int                          `json:"hours"`
	Points    []models.StationHistoryPoint `json:"points"`
}

// GetStations handles GET /api/stations
// Optional q filters by name substring. The list and its snapshot metadata
// come from the same snapshot.
func (h *StationHandler) GetStations(w http.ResponseWriter, r *http.Request) {
	snap, err := h.source.Current()
	if err != nil {
		writeServiceError(w, r, "retrieve stations", err)
		return
	}
	list := snap.Search(r.URL.Query().Get("q"))
	if list == nil {
		list = []models.Station{}
	}

	w.Header().Set("Cache-Control", "private, max-age=15")
	writeJSON(w, http.StatusOK, StationsResponse{
		Stations:   list,
		Count:      len(list),
		SnapshotID: snap.ID.String(),
		PolledAt:   snap.PolledAt,
	})
}

// GetStats handles GET /api/stations/stats
func (h *StationHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.source.Stats()
	if err != nil {
		writeServiceError(w, r, "compute station stats", err)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=15")
	writeJSON(w, http.StatusOK, stats)
}

// GetGeoJSON handles GET /api/stations/geojson
func (h *StationHandler) GetGeoJSON(w http.ResponseWriter, r *http.Request) {
	snap, err := h.source.Current()
	if err != nil {
		writeServiceError(w, r, "retrieve stations", err)
		return
	}
	fc := geo.Stations(snap.Stations, h.status, workqueue.Color)
	data, err := json.Marshal(fc)
	if err != nil {
		writeServiceError(w, r, "encode GeoJSON", err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", "private, max-age=15")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GetStation handles GET /api/stations/{id}
func (h *StationHandler) GetStation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.source.Current(); err != nil {
		writeServiceError(w, r, "retrieve station", err)
		return
	}
	st, ok := h.source.Station(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Station not found", map[string]interface{}{"stationId": id})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetStationHistory handles GET /api/stations/{id}/history
// hours defaults to 24 and is capped at the week the database keeps
func (h *StationHandler) GetStationHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 168 {
			writeError(w, http.StatusBadRequest, "hours must be between 1 and 168", map[string]interface{}{"hours": v})
			return
		}
		hours = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	points, err := h.history.GetStationHistory(ctx, id, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		writeServiceError(w, r, "retrieve station history", err)
		return
	}
	writeJSON(w, http.StatusOK, StationHistoryResponse{StationID: id, Hours: hours, Points: points})
}

// Refresh handles POST /api/stations/refresh
// force=true skips the throttle and needs the force_refresh permission
func (h *StationHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	trigger := stations.TriggerManual
	if force, _ := strconv.ParseBool(r.URL.Query().Get("force")); force {
		if !h.authz.Can(session.FromContext(r.Context()), authz.ObjStations, authz.ActForceRefresh) {
			writeError(w, http.StatusForbidden, "you do not have permission to do this", nil)
			return
		}
		trigger = stations.TriggerForced
	}

	snap, err := h.source.Refresh(r.Context(), trigger)
	if err != nil {
		writeServiceError(w, r, "refresh stations", err)
		return
	}
	writeJSON(w, http.StatusOK, StationsResponse{
		Stations:   snap.Stations,
		Count:      len(snap.Stations),
		SnapshotID: snap.ID.String(),
		PolledAt:   snap.PolledAt,
	})
}
