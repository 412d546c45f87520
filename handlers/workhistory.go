package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MADA-gnuBD/bikeops/internal/authz"
	"github.com/MADA-gnuBD/bikeops/internal/session"
	"github.com/MADA-gnuBD/bikeops/models"
)

// WorkHistoryClient is the work history part of the backend
type WorkHistoryClient interface {
	ListWorkHistory(ctx context.Context, q models.WorkHistoryQuery) ([]models.WorkHistory, error)
	CreateWorkHistory(ctx context.Context, in models.WorkHistoryInput) (models.WorkHistory, error)
	DeleteWorkHistory(ctx context.Context, id string) error
	TodayWorkCount(ctx context.Context) (models.WorkCount, error)
}

// WorkHistoryHandler passes work history requests to the backend. Plain
// users only see and delete their own entries.
type WorkHistoryHandler struct {
	client WorkHistoryClient
	authz  *authz.Enforcer
}

// NewWorkHistoryHandler creates a work history handler
func NewWorkHistoryHandler(client WorkHistoryClient, en *authz.Enforcer) *WorkHistoryHandler {
	return &WorkHistoryHandler{client: client, authz: en}
}

// List handles GET /api/work-history
func (h *WorkHistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	q := models.WorkHistoryQuery{
		UserID: r.URL.Query().Get("userId"),
		Date:   r.URL.Query().Get("date"),
	}
	if q.Date != "" {
		if _, err := time.Parse(time.DateOnly, q.Date); err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD", map[string]interface{}{"date": q.Date})
			return
		}
	}
	if !h.authz.Can(s, authz.ObjWorkHistory, authz.ActReadAll) {
		if q.UserID != "" && q.UserID != s.User.ID {
			writeError(w, http.StatusForbidden, "you can only view your own work history", nil)
			return
		}
		q.UserID = s.User.ID
	}

	entries, err := h.client.ListWorkHistory(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, "list work history", err)
		return
	}
	if entries == nil {
		entries = []models.WorkHistory{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Create handles POST /api/work-history
// The entry is always recorded for the signed-in user
func (h *WorkHistoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in models.WorkHistoryInput
	if !decodeBody(w, r, &in) {
		return
	}
	in.UserID = session.FromContext(r.Context()).User.ID
	if in.CompletedAt.IsZero() {
		in.CompletedAt = time.Now().UTC()
	}
	entry, err := h.client.CreateWorkHistory(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, "record work", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// Delete handles DELETE /api/work-history/{id}
func (h *WorkHistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s := session.FromContext(r.Context())

	if !h.authz.Can(s, authz.ObjWorkHistory, authz.ActDeleteAny) {
		own, err := h.client.ListWorkHistory(r.Context(), models.WorkHistoryQuery{UserID: s.User.ID})
		if err != nil {
			writeServiceError(w, r, "check work history owner", err)
			return
		}
		if !containsEntry(own, id) {
			writeError(w, http.StatusForbidden, "you can only delete your own work history", map[string]interface{}{"id": id})
			return
		}
	}

	if err := h.client.DeleteWorkHistory(r.Context(), id); err != nil {
		writeServiceError(w, r, "delete work history", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TodayCount handles GET /api/work-history/count/today
func (h *WorkHistoryHandler) TodayCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.client.TodayWorkCount(r.Context())
	if err != nil {
		writeServiceError(w, r, "count today's work", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func containsEntry(entries []models.WorkHistory, id string) bool {
	for _, e := range entries {
		if strconv.FormatInt(e.ID, 10) == id {
			return true
		}
	}
	return false
}
