package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MADA-gnuBD/bikeops/internal/backend"
	"github.com/MADA-gnuBD/bikeops/internal/logging"
	"github.com/MADA-gnuBD/bikeops/internal/metrics"
	"github.com/MADA-gnuBD/bikeops/models"
)

// Reasons passed to teardown hooks.
const (
	ReasonLogout       = "logout"
	ReasonUnauthorized = "unauthorized"
	ReasonExpired      = "expired"
	ReasonDeleted      = "account_deleted"
)

// ErrNoRefreshToken is returned when the backend never issued a refresh token.
var ErrNoRefreshToken = errors.New("session has no refresh token")

// Authenticator is the slice of the backend client the manager calls.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (models.AuthResult, error)
	Register(ctx context.Context, email, password, name string) (models.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (models.AuthResult, error)
	Me(ctx context.Context) (models.User, error)
}

// Hook runs after a session ends.
type Hook func(s *Session, reason string)

// Config selects the store and the session lifetimes.
type Config struct {
	Store         string        `koanf:"store" validate:"oneof=memory badger redis"`
	BadgerDir     string        `koanf:"badger_dir"`
	RedisURL      string        `koanf:"redis_url"`
	TTL           time.Duration `koanf:"ttl" validate:"gt=0"`
	CheckInterval time.Duration `koanf:"check_interval" validate:"gt=0"`
	CookieName    string        `koanf:"cookie_name" validate:"required"`
	CookieSecure  bool          `koanf:"cookie_secure"`
}

// DefaultConfig keeps sessions in memory and checks them every five minutes.
func DefaultConfig() Config {
	return Config{
		Store:         "memory",
		BadgerDir:     "./data/sessions",
		TTL:           DefaultTTL,
		CheckInterval: 5 * time.Minute,
		CookieName:    "bikeops_session",
	}
}

// OpenStore builds the configured store. The returned closer may be nil.
func OpenStore(ctx context.Context, cfg Config) (Store, io.Closer, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemoryStore(), nil, nil
	case "badger":
		s, err := OpenBadger(cfg.BadgerDir)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "redis":
		s, err := OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}

// Manager is the single owner of the session store.
type Manager struct {
	store Store
	auth  Authenticator
	cfg   Config
	now   func() time.Time

	hookMu sync.RWMutex
	hooks  []Hook
}

// NewManager creates a manager. Call Init before serving requests.
func NewManager(store Store, auth Authenticator, cfg Config) *Manager {
	return &Manager{store: store, auth: auth, cfg: cfg, now: time.Now}
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config { return m.cfg }

// OnTeardown registers fn to run whenever a session ends.
func (m *Manager) OnTeardown(fn Hook) {
	m.hookMu.Lock()
	m.hooks = append(m.hooks, fn)
	m.hookMu.Unlock()
}

// Init loads persisted sessions and discards the expired ones.
func (m *Manager) Init(ctx context.Context) error {
	all, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	now := m.now()
	dropped := 0
	for _, s := range all {
		if s.ExpiredAt(now) {
			if err := m.store.Delete(ctx, s.ID); err != nil {
				return fmt.Errorf("drop expired session: %w", err)
			}
			dropped++
		}
	}
	logging.Info().Int("loaded", len(all)-dropped).Int("expired", dropped).Str("store", m.cfg.Store).Msg("sessions initialised")
	return nil
}

// Login signs in with the backend and issues a session.
func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	res, err := m.auth.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return m.issue(ctx, res)
}

// Register creates an account with the backend and issues a session.
func (m *Manager) Register(ctx context.Context, email, password, name string) (*Session, error) {
	res, err := m.auth.Register(ctx, email, password, name)
	if err != nil {
		return nil, err
	}
	return m.issue(ctx, res)
}

func (m *Manager) issue(ctx context.Context, res models.AuthResult) (*Session, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	s := &Session{
		ID:           id,
		Token:        res.Token,
		RefreshToken: res.RefreshToken,
		CreatedAt:    now,
	}
	exp, role := m.claims(res.Token)
	s.ExpiresAt = exp

	if res.User != nil {
		s.User = *res.User
	} else {
		u, err := m.auth.Me(m.AuthContext(ctx, s))
		if err != nil {
			return nil, fmt.Errorf("load profile: %w", err)
		}
		s.User = u
	}
	if s.User.Role == "" {
		s.User.Role = role
	}
	s.User.Role = normalizeRole(s.User.Role)

	if err := m.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	logging.Ctx(ctx).Info().Str("user", s.User.Email).Str("role", s.User.Role).Msg("session issued")
	return s, nil
}

// claims reads exp and role from a JWT without verifying it. Verification is
// the backend's job; here the claims only size the session.
func (m *Manager) claims(token string) (time.Time, string) {
	fallback := m.now().UTC().Add(m.cfg.TTL)
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fallback, ""
	}
	exp := fallback
	if e, err := claims.GetExpirationTime(); err == nil && e != nil {
		exp = e.Time.UTC()
	}
	role, _ := claims["role"].(string)
	return exp, role
}

func normalizeRole(role string) string {
	r := strings.ToLower(strings.TrimPrefix(strings.ToUpper(role), "ROLE_"))
	if r == models.RoleAdmin {
		return models.RoleAdmin
	}
	return models.RoleUser
}

// Get returns a live session. Expired sessions are ended and ErrExpired is
// returned.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.ExpiredAt(m.now()) {
		m.end(ctx, s, ReasonExpired)
		return nil, ErrExpired
	}
	return s, nil
}

// Passthrough wraps a raw bearer token that has no stored session. It is
// never persisted and never carries the admin role, since its claims came
// from the client.
func (m *Manager) Passthrough(token string) *Session {
	exp, _ := m.claims(token)
	return &Session{Token: token, ExpiresAt: exp, User: models.User{Role: models.RoleUser}, CreatedAt: m.now().UTC()}
}

// AuthContext returns ctx carrying s and its bearer token for backend calls.
func (m *Manager) AuthContext(ctx context.Context, s *Session) context.Context {
	return backend.WithToken(WithSession(ctx, s), s.Token)
}

// Refresh swaps the session's bearer token for a new one.
func (m *Manager) Refresh(ctx context.Context, id string) (*Session, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	res, err := m.auth.Refresh(m.AuthContext(ctx, s), s.RefreshToken)
	if err != nil {
		return nil, err
	}
	s.Token = res.Token
	if res.RefreshToken != "" {
		s.RefreshToken = res.RefreshToken
	}
	s.ExpiresAt, _ = m.claims(res.Token)
	if err := m.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return s, nil
}

// UpdateUser replaces the cached profile after the backend accepted a change.
func (m *Manager) UpdateUser(ctx context.Context, id string, u models.User) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if u.Role == "" {
		u.Role = s.User.Role
	}
	u.Role = normalizeRole(u.Role)
	s.User = u
	return m.store.Put(ctx, s)
}

// Logout deletes the session and runs teardown hooks.
func (m *Manager) Logout(ctx context.Context, id string) error {
	return m.Expire(ctx, id, ReasonLogout)
}

// Expire ends a session for the given reason. Unknown ids are ignored.
func (m *Manager) Expire(ctx context.Context, id string, reason string) error {
	if id == "" {
		return nil
	}
	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return m.end(ctx, s, reason)
}

func (m *Manager) end(ctx context.Context, s *Session, reason string) error {
	if err := m.store.Delete(ctx, s.ID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	metrics.SessionsEnded.WithLabelValues(reason).Inc()
	logging.Ctx(ctx).Info().Str("user", s.User.Email).Str("reason", reason).Msg("session ended")

	m.hookMu.RLock()
	hooks := append([]Hook(nil), m.hooks...)
	m.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(s, reason)
	}
	return nil
}

// HandleUnauthorized is the global 401 interceptor. It is registered with the
// backend client and receives the context of the rejected call.
func (m *Manager) HandleUnauthorized(ctx context.Context) {
	s := FromContext(ctx)
	if s == nil || s.ID == "" {
		return
	}
	if err := m.Expire(ctx, s.ID, ReasonUnauthorized); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to expire rejected session")
	}
}

// Check removes expired sessions and re-validates the rest against the
// backend. It returns how many sessions ended.
func (m *Manager) Check(ctx context.Context) (int, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	now := m.now()
	ended := 0
	for _, s := range all {
		if ctx.Err() != nil {
			return ended, ctx.Err()
		}
		if s.ExpiredAt(now) {
			if err := m.end(ctx, s, ReasonExpired); err == nil {
				ended++
			}
			continue
		}
		_, err := m.auth.Me(m.AuthContext(ctx, s))
		if errors.Is(err, backend.ErrUnauthorized) {
			// The backend client fires the interceptor itself; this covers
			// authenticators that do not.
			m.HandleUnauthorized(m.AuthContext(ctx, s))
			ended++
		}
	}
	return ended, nil
}

// Serve runs Check on every interval.
func (m *Manager) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := m.Check(ctx)
			if err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Msg("session check failed")
				continue
			}
			if n > 0 {
				logging.Info().Int("ended", n).Msg("session check ended sessions")
			}
		}
	}
}

func (m *Manager) String() string { return "session-janitor" }
