package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MADA-gnuBD/bikeops/internal/backend"
	"github.com/MADA-gnuBD/bikeops/models"
)

type fakeAuth struct {
	token    string
	user     *models.User
	me       models.User
	meErr    error
	meTokens []string
}

func (f *fakeAuth) Login(_ context.Context, email, _ string) (models.AuthResult, error) {
	if email == "wrong@example.com" {
		return models.AuthResult{}, &backend.Error{Op: "login", Status: 401, Code: backend.CodeUnauthorized, Message: "bad credentials"}
	}
	return models.AuthResult{Token: f.token, RefreshToken: "refresh-1", User: f.user}, nil
}

func (f *fakeAuth) Register(ctx context.Context, email, password, _ string) (models.AuthResult, error) {
	return f.Login(ctx, email, password)
}

func (f *fakeAuth) Refresh(_ context.Context, rt string) (models.AuthResult, error) {
	return models.AuthResult{Token: "rotated-" + rt}, nil
}

func (f *fakeAuth) Me(ctx context.Context) (models.User, error) {
	f.meTokens = append(f.meTokens, backend.TokenFromContext(ctx))
	return f.me, f.meErr
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func newTestManager(auth Authenticator) (*Manager, *MemoryStore) {
	store := NewMemoryStore()
	return NewManager(store, auth, DefaultConfig()), store
}

func TestLoginIssuesSession(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second).UTC()
	tok := signedToken(t, jwt.MapClaims{"exp": exp.Unix(), "role": "ROLE_ADMIN"})
	auth := &fakeAuth{token: tok, user: &models.User{ID: "7", Email: "kim@example.com", Name: "Kim"}}
	m, store := newTestManager(auth)

	s, err := m.Login(context.Background(), "kim@example.com", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if s.ID == "" || s.Token != tok {
		t.Errorf("session = %+v", s)
	}
	if !s.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, expected %v from the exp claim", s.ExpiresAt, exp)
	}
	if !s.IsAdmin() {
		t.Errorf("role = %q, expected admin from the role claim", s.User.Role)
	}
	if _, err := store.Get(context.Background(), s.ID); err != nil {
		t.Errorf("session not stored: %v", err)
	}
}

func TestLoginWithoutUserLoadsProfile(t *testing.T) {
	auth := &fakeAuth{token: "opaque-token", me: models.User{ID: "9", Email: "lee@example.com", Role: "user"}}
	m, _ := newTestManager(auth)

	before := time.Now()
	s, err := m.Login(context.Background(), "lee@example.com", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if s.User.Email != "lee@example.com" {
		t.Errorf("user = %+v, expected profile from Me", s.User)
	}
	if len(auth.meTokens) != 1 || auth.meTokens[0] != "opaque-token" {
		t.Errorf("Me called with tokens %v", auth.meTokens)
	}
	if s.ExpiresAt.Before(before.Add(DefaultTTL - time.Minute)) {
		t.Errorf("opaque token expiry %v, expected the default TTL", s.ExpiresAt)
	}
}

func TestLoginFailureIssuesNothing(t *testing.T) {
	m, store := newTestManager(&fakeAuth{token: "t"})
	if _, err := m.Login(context.Background(), "wrong@example.com", "pw"); !errors.Is(err, backend.ErrUnauthorized) {
		t.Errorf("Login() = %v, expected ErrUnauthorized", err)
	}
	all, _ := store.List(context.Background())
	if len(all) != 0 {
		t.Errorf("%d sessions stored after a failed login", len(all))
	}
}

func TestLogoutRunsHooks(t *testing.T) {
	m, _ := newTestManager(&fakeAuth{token: "t", user: &models.User{Email: "kim@example.com"}})
	ctx := context.Background()

	var ended []string
	m.OnTeardown(func(s *Session, reason string) { ended = append(ended, s.ID+":"+reason) })

	s, _ := m.Login(ctx, "kim@example.com", "pw")
	if err := m.Logout(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after logout = %v, expected ErrNotFound", err)
	}
	if len(ended) != 1 || ended[0] != s.ID+":"+ReasonLogout {
		t.Errorf("hooks saw %v", ended)
	}

	// second logout is a no-op
	if err := m.Logout(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	if len(ended) != 1 {
		t.Errorf("hooks ran again for an unknown session")
	}
}

func TestUnauthorizedInterceptorExpiresSession(t *testing.T) {
	m, _ := newTestManager(&fakeAuth{token: "t", user: &models.User{Email: "kim@example.com"}})
	ctx := context.Background()
	var reason string
	m.OnTeardown(func(_ *Session, r string) { reason = r })

	s, _ := m.Login(ctx, "kim@example.com", "pw")
	m.HandleUnauthorized(m.AuthContext(ctx, s))

	if _, err := m.Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("session survived a 401: %v", err)
	}
	if reason != ReasonUnauthorized {
		t.Errorf("reason = %q, expected %q", reason, ReasonUnauthorized)
	}

	// contexts without a session are ignored
	m.HandleUnauthorized(ctx)
}

func TestExpiredSessions(t *testing.T) {
	m, store := newTestManager(&fakeAuth{})
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	store.Put(ctx, &Session{ID: "old", Token: "a", ExpiresAt: now.Add(-time.Minute)})
	store.Put(ctx, &Session{ID: "live", Token: "b", ExpiresAt: now.Add(time.Hour)})

	if err := m.Init(ctx); err != nil {
		t.Fatal(err)
	}
	all, _ := store.List(ctx)
	if len(all) != 1 || all[0].ID != "live" {
		t.Errorf("after Init sessions = %+v, expected only live", all)
	}

	now = now.Add(2 * time.Hour)
	if _, err := m.Get(ctx, "live"); !errors.Is(err, ErrExpired) {
		t.Errorf("Get() on a lapsed session = %v, expected ErrExpired", err)
	}
	if _, err := store.Get(ctx, "live"); !errors.Is(err, ErrNotFound) {
		t.Error("lapsed session was not deleted")
	}
}

func TestCheck(t *testing.T) {
	auth := &fakeAuth{}
	m, store := newTestManager(auth)
	ctx := context.Background()
	now := time.Now()

	store.Put(ctx, &Session{ID: "gone", Token: "a", ExpiresAt: now.Add(-time.Minute)})
	store.Put(ctx, &Session{ID: "ok", Token: "b", ExpiresAt: now.Add(time.Hour)})

	n, err := m.Check(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Check() ended %d, expected 1", n)
	}
	if len(auth.meTokens) != 1 || auth.meTokens[0] != "b" {
		t.Errorf("Me validated tokens %v, expected [b]", auth.meTokens)
	}

	auth.meErr = &backend.Error{Op: "me", Status: 401, Code: backend.CodeUnauthorized}
	n, _ = m.Check(ctx)
	if n != 1 {
		t.Errorf("Check() ended %d after a 401, expected 1", n)
	}
	if _, err := store.Get(ctx, "ok"); !errors.Is(err, ErrNotFound) {
		t.Error("rejected session still stored")
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	m, _ := newTestManager(&fakeAuth{token: "t", user: &models.User{Email: "kim@example.com"}})
	ctx := context.Background()
	s, _ := m.Login(ctx, "kim@example.com", "pw")

	got, err := m.Refresh(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Token != "rotated-refresh-1" {
		t.Errorf("Token = %q, expected rotated-refresh-1", got.Token)
	}
	stored, _ := m.Get(ctx, s.ID)
	if stored.Token != got.Token {
		t.Error("rotated token not stored")
	}
}

func TestNormalizeRole(t *testing.T) {
	tests := []struct{ in, expected string }{
		{"admin", models.RoleAdmin},
		{"ADMIN", models.RoleAdmin},
		{"ROLE_ADMIN", models.RoleAdmin},
		{"user", models.RoleUser},
		{"", models.RoleUser},
		{"superuser", models.RoleUser},
	}
	for _, tt := range tests {
		if got := normalizeRole(tt.in); got != tt.expected {
			t.Errorf("normalizeRole(%q) = %q, expected %q", tt.in, got, tt.expected)
		}
	}
}

func TestMiddleware(t *testing.T) {
	m, _ := newTestManager(&fakeAuth{token: "backend-token", user: &models.User{Email: "kim@example.com"}})
	s, _ := m.Login(context.Background(), "kim@example.com", "pw")

	var seen *Session
	var token string
	h := m.Middleware(Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		token = backend.TokenFromContext(r.Context())
	})))

	tests := []struct {
		name      string
		prepare   func(r *http.Request)
		status    int
		token     string
		sessionID string
	}{
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "bikeops_session", Value: s.ID}) }, 200, "backend-token", s.ID},
		{"bearer session id", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+s.ID) }, 200, "backend-token", s.ID},
		{"bearer passthrough", func(r *http.Request) { r.Header.Set("Authorization", "Bearer raw-token") }, 200, "raw-token", ""},
		{"anonymous", func(*http.Request) {}, 401, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen, token = nil, ""
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, expected %d", rec.Code, tt.status)
			}
			if tt.status != 200 {
				return
			}
			if token != tt.token {
				t.Errorf("token = %q, expected %q", token, tt.token)
			}
			if seen.ID != tt.sessionID {
				t.Errorf("session id = %q, expected %q", seen.ID, tt.sessionID)
			}
		})
	}
}
