package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Middleware resolves the request's session from the session cookie, or
// from an Authorization bearer value that is either a session id or a raw
// backend token. The session and its token are placed in the request
// context. Requests without credentials pass through untouched.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var s *Session

		if c, err := r.Cookie(m.cfg.CookieName); err == nil && c.Value != "" {
			if found, err := m.Get(ctx, c.Value); err == nil {
				s = found
			} else {
				m.ClearCookie(w)
			}
		}
		if s == nil {
			if tok := bearer(r); tok != "" {
				if found, err := m.Get(ctx, tok); err == nil {
					s = found
				} else {
					s = m.Passthrough(tok)
				}
			}
		}
		if s != nil {
			r = r.WithContext(m.AuthContext(ctx, s))
		}
		next.ServeHTTP(w, r)
	})
}

// Require rejects requests that carry no session with 401.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			writeUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetCookie hands the session id to the browser.
func (m *Manager) SetCookie(w http.ResponseWriter, s *Session) {
	c := &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if !s.ExpiresAt.IsZero() {
		c.Expires = s.ExpiresAt
	}
	http.SetCookie(w, c)
}

// ClearCookie removes the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
