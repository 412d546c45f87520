// Package handlers serves the console's HTTP API.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/MADA-gnuBD/bikeops/internal/backend"
	"github.com/MADA-gnuBD/bikeops/internal/logging"
	"github.com/MADA-gnuBD/bikeops/internal/mapview"
	"github.com/MADA-gnuBD/bikeops/internal/session"
	"github.com/MADA-gnuBD/bikeops/internal/stations"
	"github.com/MADA-gnuBD/bikeops/internal/workqueue"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// ErrorResponse is the JSON error response structure
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string, details map[string]interface{}) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}

// decodeBody reads a JSON body into v and runs struct validation, plus
// Validate() when v has one.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", nil)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", map[string]interface{}{"parse": err.Error()})
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", validationDetails(err))
		return false
	}
	if vv, ok := v.(interface{ Validate() error }); ok {
		if err := vv.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return false
		}
	}
	return true
}

func validationDetails(err error) map[string]interface{} {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]interface{}{"validation": err.Error()}
	}
	fields := make(map[string]interface{}, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[lowerFirst(fe.Field())] = rule
	}
	return fields
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// writeServiceError maps domain and backend errors onto status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := http.StatusInternalServerError, fmt.Sprintf("Failed to %s", op)
	var details map[string]interface{}

	var be *backend.Error
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		status, msg = http.StatusUnauthorized, "session expired"
		if s := session.FromContext(r.Context()); s == nil || s.ID == "" {
			msg = backend.UserMessage(err)
		}
	case errors.As(err, &be):
		status, msg = backend.HTTPStatus(err), backend.UserMessage(err)
	case errors.Is(err, stations.ErrRefreshThrottled):
		status, msg = http.StatusTooManyRequests, "refresh requested too often, try again shortly"
	case errors.Is(err, stations.ErrNoSnapshot):
		status, msg = http.StatusServiceUnavailable, "station data not loaded yet"
	case errors.Is(err, mapview.ErrViewNotFound):
		status, msg = http.StatusNotFound, "view not found"
	case errors.Is(err, mapview.ErrStationNotFound):
		status, msg = http.StatusNotFound, "station not found"
	case errors.Is(err, mapview.ErrOverlayNotOpen):
		status, msg = http.StatusConflict, "overlay is not open"
	case errors.Is(err, workqueue.ErrNotQueued):
		status, msg = http.StatusNotFound, "station is not queued"
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
		status, msg = http.StatusUnauthorized, "session expired"
	default:
		details = map[string]interface{}{"internal": err.Error()}
	}

	ev := logging.Ctx(r.Context()).Warn()
	if status >= 500 {
		ev = logging.Ctx(r.Context()).Error()
	}
	ev.Err(err).Str("op", op).Int("status", status).Msg("request failed")
	writeError(w, status, msg, details)
}
