package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MADA-gnuBD/bikeops/internal/logging"
	"github.com/MADA-gnuBD/bikeops/internal/session"
	"github.com/MADA-gnuBD/bikeops/models"
)

// ProfileClient is the account part of the backend
type ProfileClient interface {
	Me(ctx context.Context) (models.User, error)
	UpdateProfile(ctx context.Context, in models.ProfileUpdate) (models.User, error)
	DeleteAccount(ctx context.Context) error
}

// AuthHandler handles sign-in, sign-out and the profile
type AuthHandler struct {
	sessions *session.Manager
	profile  ProfileClient
}

// NewAuthHandler creates an auth handler
func NewAuthHandler(sessions *session.Manager, profile ProfileClient) *AuthHandler {
	return &AuthHandler{sessions: sessions, profile: profile}
}

// SessionResponse is returned by login, register and refresh. SessionID is
// also set as an HttpOnly cookie and works as a bearer value.
type SessionResponse struct {
	SessionID string      `json:"sessionId"`
	User      models.User `json:"user"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

func sessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{SessionID: s.ID, User: s.User, ExpiresAt: s.ExpiresAt}
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, "sign in", err)
		return
	}
	h.sessions.SetCookie(w, s)
	writeJSON(w, http.StatusOK, sessionResponse(s))
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, err := h.sessions.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		writeServiceError(w, r, "register", err)
		return
	}
	h.sessions.SetCookie(w, s)
	writeJSON(w, http.StatusCreated, sessionResponse(s))
}

// Logout handles POST /api/auth/logout
// Always succeeds; the cookie is cleared either way
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if s := session.FromContext(r.Context()); s != nil && s.ID != "" {
		if err := h.sessions.Logout(r.Context(), s.ID); err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("logout failed")
		}
	}
	h.sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Refresh handles POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	if s == nil || s.ID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	refreshed, err := h.sessions.Refresh(r.Context(), s.ID)
	if errors.Is(err, session.ErrNoRefreshToken) {
		writeError(w, http.StatusBadRequest, "this session cannot be refreshed", nil)
		return
	}
	if err != nil {
		writeServiceError(w, r, "refresh session", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(refreshed))
}

// GetMe handles GET /api/auth/me
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.profile.Me(r.Context())
	if err != nil {
		writeServiceError(w, r, "load profile", err)
		return
	}
	h.cacheUser(r, u)
	writeJSON(w, http.StatusOK, u)
}

// UpdateMe handles PUT /api/auth/me
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req models.ProfileUpdate
	if !decodeBody(w, r, &req) {
		return
	}
	if req.NewPassword != "" && req.CurrentPassword == "" {
		writeError(w, http.StatusBadRequest, "current password is required to set a new one", nil)
		return
	}
	u, err := h.profile.UpdateProfile(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, "update profile", err)
		return
	}
	h.cacheUser(r, u)
	writeJSON(w, http.StatusOK, u)
}

// DeleteMe handles DELETE /api/auth/me
func (h *AuthHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	if err := h.profile.DeleteAccount(r.Context()); err != nil {
		writeServiceError(w, r, "delete account", err)
		return
	}
	if s := session.FromContext(r.Context()); s != nil && s.ID != "" {
		if err := h.sessions.Expire(r.Context(), s.ID, session.ReasonDeleted); err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("failed to end deleted account's session")
		}
	}
	h.sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) cacheUser(r *http.Request, u models.User) {
	s := session.FromContext(r.Context())
	if s == nil || s.ID == "" {
		return
	}
	if err := h.sessions.UpdateUser(r.Context(), s.ID, u); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("failed to cache profile")
	}
}
