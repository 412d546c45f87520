package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"

	"github.com/MADA-gnuBD/bikeops/internal/logging"
	"github.com/MADA-gnuBD/bikeops/internal/session"
	"github.com/MADA-gnuBD/bikeops/internal/workqueue"
	"github.com/MADA-gnuBD/bikeops/models"
)

// WorkQueueHandler handles the rebalancing queue
type WorkQueueHandler struct {
	queue  *workqueue.Queue
	source StationSource
}

// NewWorkQueueHandler creates a work queue handler
func NewWorkQueueHandler(queue *workqueue.Queue, source StationSource) *WorkQueueHandler {
	return &WorkQueueHandler{queue: queue, source: source}
}

// WorkQueueResponse is the JSON response for GET /api/workqueue
type WorkQueueResponse struct {
	Items     []models.WorkItem      `json:"items"`
	Completed []models.CompletedWork `json:"completed"`
}

// QueueStationRequest is the body of POST /api/workqueue
type QueueStationRequest struct {
	StationID string `json:"stationId" validate:"required"`
}

// CompleteRequest is the optional body of POST /api/workqueue/{stationId}/complete
type CompleteRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

// CompleteResponse reports the local completion and whether the backend
// recorded it
type CompleteResponse struct {
	Completed       models.CompletedWork `json:"completed"`
	HistoryRecorded bool                 `json:"historyRecorded"`
	Warning         string               `json:"warning,omitempty"`
}

// List handles GET /api/workqueue
// With lat and lng the queue is ordered nearest first
func (h *WorkQueueHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items := h.queue.Items()
	if q.Get("lat") != "" || q.Get("lng") != "" {
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
		if errLat != nil || errLng != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			writeError(w, http.StatusBadRequest, "lat and lng must be valid coordinates", nil)
			return
		}
		items = h.queue.Ordered(orb.Point{lng, lat})
	}
	writeJSON(w, http.StatusOK, WorkQueueResponse{Items: items, Completed: h.queue.Completed()})
}

// Add handles POST /api/workqueue
// 201 when queued, 200 when the station was already queued
func (h *WorkQueueHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req QueueStationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	st, ok := h.source.Station(req.StationID)
	if !ok {
		writeError(w, http.StatusNotFound, "Station not found", map[string]interface{}{"stationId": req.StationID})
		return
	}

	by := ""
	if s := session.FromContext(r.Context()); s != nil {
		by = s.User.Email
	}
	item, added, err := h.queue.Add(r.Context(), st, by)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("station_id", st.ID).Msg("work item not persisted")
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, item)
}

// Remove handles DELETE /api/workqueue/{stationId}
func (h *WorkQueueHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "stationId")
	removed, err := h.queue.Remove(r.Context(), id)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("station_id", id).Msg("work item removal not persisted")
	}
	if !removed {
		writeServiceError(w, r, "remove work item", workqueue.ErrNotQueued)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Complete handles POST /api/workqueue/{stationId}/complete
// The station is completed locally even when the backend history call fails.
// The recorded action follows the station's stock in the latest snapshot.
func (h *WorkQueueHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "stationId")
	if !h.queue.IsQueued(id) {
		writeServiceError(w, r, "complete work item", workqueue.ErrNotQueued)
		return
	}
	st, ok := h.source.Station(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Station not found", map[string]interface{}{"stationId": id})
		return
	}
	s := session.FromContext(r.Context())
	done, err := h.queue.Complete(r.Context(), st, s.User, req.Notes)
	if errors.Is(err, workqueue.ErrNotQueued) {
		writeServiceError(w, r, "complete work item", err)
		return
	}

	resp := CompleteResponse{Completed: done, HistoryRecorded: err == nil}
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("station_id", done.StationID).Msg("work history not recorded")
		resp.Warning = "completed, but the work history could not be recorded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// Recommendations handles GET /api/workqueue/recommendations?from=<stationId>
func (h *WorkQueueHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := workqueue.DefaultRecommendations
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 50 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 50", nil)
			return
		}
		limit = n
	}

	snap, err := h.source.Current()
	if err != nil {
		writeServiceError(w, r, "recommend stations", err)
		return
	}
	from, ok := snap.Find(q.Get("from"))
	if !ok {
		writeError(w, http.StatusNotFound, "Station not found", map[string]interface{}{"stationId": q.Get("from")})
		return
	}

	recs := workqueue.Recommend(from, snap.Stations, limit)
	if recs == nil {
		recs = []models.Recommendation{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// Priority handles GET /api/workqueue/priority
// Empty stations first, then low-stock ones; completed stations are left out.
func (h *WorkQueueHandler) Priority(w http.ResponseWriter, r *http.Request) {
	snap, err := h.source.Current()
	if err != nil {
		writeServiceError(w, r, "list priority stations", err)
		return
	}
	list := h.queue.Priority(snap.Stations)
	if list == nil {
		list = []models.Station{}
	}
	writeJSON(w, http.StatusOK, list)
}
