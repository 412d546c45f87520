package handlers

import (
	"errors"
	"net/http"

	"github.com/MADA-gnuBD/bikeops/internal/logging"
	"github.com/MADA-gnuBD/bikeops/internal/mapview"
	"github.com/MADA-gnuBD/bikeops/internal/session"
	"github.com/MADA-gnuBD/bikeops/models"
)

// AIHandler passes prediction requests to the backend through the cache
type AIHandler struct {
	predictor Predictor
	views     *mapview.Registry
}

// NewAIHandler creates an AI handler. views may be nil.
func NewAIHandler(predictor Predictor, views *mapview.Registry) *AIHandler {
	return &AIHandler{predictor: predictor, views: views}
}

// Predict handles POST /api/ai/predict
// With ?view=<id>, an open overlay of the station in that view is updated
func (h *AIHandler) Predict(w http.ResponseWriter, r *http.Request) {
	var req models.PredictRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.predictor.Predict(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, "predict demand", err)
		return
	}

	if id := r.URL.Query().Get("view"); id != "" && h.views != nil {
		if v, err := h.views.Get(id); err == nil && ownsView(r, v) {
			if _, err := v.ApplyPrediction(p); err != nil && !errors.Is(err, mapview.ErrOverlayNotOpen) {
				logging.Ctx(r.Context()).Warn().Err(err).Str("view", id).Msg("failed to apply prediction to view")
			}
		}
	}
	writeJSON(w, http.StatusOK, p)
}

func ownsView(r *http.Request, v *mapview.View) bool {
	if v.Owner() == "" {
		return true
	}
	s := session.FromContext(r.Context())
	return s != nil && s.ID == v.Owner()
}

// RangePredict handles POST /api/ai/range-predict
func (h *AIHandler) RangePredict(w http.ResponseWriter, r *http.Request) {
	var req models.RangePredictRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := h.predictor.RangePredict(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, "predict range", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// RebalancePlan handles POST /api/ai/rebalance-plan
func (h *AIHandler) RebalancePlan(w http.ResponseWriter, r *http.Request) {
	var req models.RebalancePlanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := h.predictor.RebalancePlan(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, "plan rebalancing", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
