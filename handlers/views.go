package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MADA-gnuBD/bikeops/internal/mapview"
	"github.com/MADA-gnuBD/bikeops/internal/session"
	"github.com/MADA-gnuBD/bikeops/models"
)

// Predictor is the prediction pass-through, usually behind the cache
type Predictor interface {
	Predict(ctx context.Context, req models.PredictRequest) (models.Prediction, error)
	RangePredict(ctx context.Context, req models.RangePredictRequest) (models.RangePrediction, error)
	RebalancePlan(ctx context.Context, req models.RebalancePlanRequest) (models.RangePrediction, error)
}

// ViewHandler handles HTTP requests for map views and their overlays
type ViewHandler struct {
	views     *mapview.Registry
	predictor Predictor
}

// NewViewHandler creates a view handler
func NewViewHandler(views *mapview.Registry, predictor Predictor) *ViewHandler {
	return &ViewHandler{views: views, predictor: predictor}
}

// CreateViewRequest is the optional body of POST /api/views
type CreateViewRequest struct {
	Viewport *mapview.Viewport `json:"viewport,omitempty"`
}

// OpenOverlayRequest is the body of POST /api/views/{id}/overlays
type OpenOverlayRequest struct {
	StationID string `json:"stationId" validate:"required"`
}

// OverlayPredictRequest is the body of POST /api/views/{id}/overlays/{stationId}/predict
type OverlayPredictRequest struct {
	Minutes int `json:"minutes" validate:"gt=0,lte=1440"`
	Supply  int `json:"supply" validate:"gte=0"`
}

// view resolves {id} and hides views owned by another session
func (h *ViewHandler) view(w http.ResponseWriter, r *http.Request) (*mapview.View, bool) {
	v, err := h.views.Get(chi.URLParam(r, "id"))
	if err == nil && !ownsView(r, v) {
		err = mapview.ErrViewNotFound
	}
	if err != nil {
		writeServiceError(w, r, "find view", err)
		return nil, false
	}
	return v, true
}

// Watch lets a live socket follow a view the request's session may see
func (h *ViewHandler) Watch(r *http.Request, id string) (mapview.State, bool) {
	v, err := h.views.Get(id)
	if err != nil || !ownsView(r, v) {
		return mapview.State{}, false
	}
	return v.State(), true
}

// CreateView handles POST /api/views
func (h *ViewHandler) CreateView(w http.ResponseWriter, r *http.Request) {
	var req CreateViewRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if req.Viewport != nil {
		if err := req.Viewport.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
	}

	owner := ""
	if s := session.FromContext(r.Context()); s != nil {
		owner = s.ID
	}
	v := h.views.Create(owner)
	st := v.State()
	if req.Viewport != nil {
		var err error
		if st, err = v.SetViewport(*req.Viewport); err != nil {
			writeServiceError(w, r, "set viewport", err)
			return
		}
	}
	w.Header().Set("Location", "/api/views/"+v.ID())
	writeJSON(w, http.StatusCreated, st)
}

// GetView handles GET /api/views/{id}
func (h *ViewHandler) GetView(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, v.State())
}

// SetViewport handles PUT /api/views/{id}/viewport
// Sent when panning or zooming settles
func (h *ViewHandler) SetViewport(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	var vp mapview.Viewport
	if !decodeBody(w, r, &vp) {
		return
	}
	st, err := v.SetViewport(vp)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// OpenOverlay handles POST /api/views/{id}/overlays
func (h *ViewHandler) OpenOverlay(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	var req OpenOverlayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	st, err := v.Open(req.StationID)
	if err != nil {
		writeServiceError(w, r, "open overlay", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DismissOverlay handles DELETE /api/views/{id}/overlays/{stationId}
func (h *ViewHandler) DismissOverlay(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	st, err := v.Dismiss(chi.URLParam(r, "stationId"))
	if err != nil {
		writeServiceError(w, r, "dismiss overlay", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// PredictOverlay handles POST /api/views/{id}/overlays/{stationId}/predict
// The prediction lands in the overlay content and the view is laid out again
func (h *ViewHandler) PredictOverlay(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	var req OverlayPredictRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.predictor.Predict(r.Context(), models.PredictRequest{
		StationID: chi.URLParam(r, "stationId"),
		Minutes:   req.Minutes,
		Supply:    req.Supply,
	})
	if err != nil {
		writeServiceError(w, r, "predict demand", err)
		return
	}
	st, err := v.ApplyPrediction(p)
	if err != nil {
		writeServiceError(w, r, "apply prediction", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DeleteView handles DELETE /api/views/{id}
func (h *ViewHandler) DeleteView(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	h.views.Delete(v.ID())
	w.WriteHeader(http.StatusNoContent)
}
