// Package session owns the console's signed-in sessions.
//
// A Session pairs an opaque id (handed to the browser as a cookie) with the
// bearer token the external backend issued. Sessions live in a Store:
//   - memory: single process, lost on restart
//   - badger: persisted on local disk
//   - redis: shared between instances
//
// The Manager is the only writer. It issues sessions on login, removes them
// on logout or when the backend answers 401, and runs teardown hooks so
// per-session state (map views) goes with them.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/MADA-gnuBD/bikeops/models"
)

// Sentinel errors for session operations.
var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is returned when a session has passed its expiry.
	ErrExpired = errors.New("session expired")
)

// DefaultTTL applies to tokens that carry no exp claim.
const DefaultTTL = 24 * time.Hour

// Session stores one signed-in user.
type Session struct {
	ID           string      `json:"id"`
	Token        string      `json:"token"`
	RefreshToken string      `json:"refresh_token,omitempty"`
	User         models.User `json:"user"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
}

// ExpiredAt reports whether the session is past its expiry at now.
func (s *Session) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// IsAdmin reports whether the session's user holds the admin role.
func (s *Session) IsAdmin() bool {
	return s != nil && s.User.IsAdmin()
}

// Store is the interface for session storage backends.
type Store interface {
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	// Delete is a no-op for unknown ids.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Session, error)
}

// NewID returns a random URL-safe session id.
func NewID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type ctxKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session in ctx, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}
