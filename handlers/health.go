package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MADA-gnuBD/bikeops/models"
)

// Pinger checks a dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles GET /health
type HealthHandler struct {
	freshness func() models.DataFreshness
	db        Pinger
	breaker   func() string
}

// NewHealthHandler creates a health handler. breaker reports the backend
// circuit state and may be nil.
func NewHealthHandler(freshness func() models.DataFreshness, db Pinger, breaker func() string) *HealthHandler {
	return &HealthHandler{freshness: freshness, db: db, breaker: breaker}
}

// GetHealth handles GET /health
// 200 while healthy or degraded, 503 when unhealthy
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := models.HealthResponse{
		Status:    models.StatusHealthy,
		Stations:  h.freshness(),
		Checks:    map[string]string{},
		Timestamp: time.Now().UTC(),
	}

	if err := h.db.Ping(ctx); err != nil {
		resp.Checks["database"] = "error: " + err.Error()
		resp.Status = models.StatusUnhealthy
	} else {
		resp.Checks["database"] = "ok"
	}

	if h.breaker != nil {
		state := h.breaker()
		resp.Checks["backend"] = state
		if state != "closed" {
			resp.Status = worse(resp.Status, models.StatusDegraded)
		}
	}

	resp.Checks["stations"] = resp.Stations.Status
	switch resp.Stations.Status {
	case models.FreshnessStale:
		resp.Status = worse(resp.Status, models.StatusDegraded)
	case models.FreshnessUnavailable:
		resp.Status = worse(resp.Status, models.StatusUnhealthy)
	}

	status := http.StatusOK
	if resp.Status == models.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, resp)
}

var healthRank = map[string]int{
	models.StatusHealthy:   0,
	models.StatusDegraded:  1,
	models.StatusUnhealthy: 2,
}

func worse(a, b string) string {
	if healthRank[b] > healthRank[a] {
		return b
	}
	return a
}
