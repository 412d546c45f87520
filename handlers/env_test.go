package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/MADA-gnuBD/bikeops/internal/authz"
	"github.com/MADA-gnuBD/bikeops/internal/backend"
	"github.com/MADA-gnuBD/bikeops/internal/layout"
	"github.com/MADA-gnuBD/bikeops/internal/mapview"
	"github.com/MADA-gnuBD/bikeops/internal/session"
	"github.com/MADA-gnuBD/bikeops/internal/stations"
	"github.com/MADA-gnuBD/bikeops/internal/workqueue"
	"github.com/MADA-gnuBD/bikeops/models"
)

func testStations() []models.Station {
	return []models.Station{
		{ID: "ST-1", Name: "City Hall", Bikes: 8, Racks: 10, Latitude: 37.5663, Longitude: 126.9779},
		{ID: "ST-2", Name: "Seoul Station", Bikes: 0, Racks: 12, Latitude: 37.5547, Longitude: 126.9707},
		{ID: "ST-3", Name: "Gwanghwamun", Bikes: 2, Racks: 15, Latitude: 37.5759, Longitude: 126.9768},
	}
}

type stationFeed struct {
	mu   sync.Mutex
	list []models.Station
}

func (f *stationFeed) Stations(context.Context) ([]models.Station, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list, nil
}

type historyRepo struct {
	points []models.StationHistoryPoint
	since  time.Time
}

func (h *historyRepo) GetStationHistory(_ context.Context, _ string, since time.Time) ([]models.StationHistoryPoint, error) {
	h.since = since
	return h.points, nil
}

// fakeBackend stands in for the backend client: auth, profile, predictions
// and work history.
type fakeBackend struct {
	mu        sync.Mutex
	history   []models.WorkHistory
	lastQuery models.WorkHistoryQuery
	deleted   []string
	recorded  []models.WorkHistoryInput
	meErr     error
	predicts  int
	recordErr error
}

func (b *fakeBackend) Login(_ context.Context, email, _ string) (models.AuthResult, error) {
	if email == "wrong@example.com" {
		return models.AuthResult{}, &backend.Error{Op: "login", Status: 401, Code: backend.CodeUnauthorized, Message: "invalid email or password"}
	}
	return models.AuthResult{
		Token:        "tok-" + email,
		RefreshToken: "refresh-" + email,
		User:         &models.User{ID: "u-1", Email: email, Name: "Kim"},
	}, nil
}

func (b *fakeBackend) Register(ctx context.Context, email, password, _ string) (models.AuthResult, error) {
	return b.Login(ctx, email, password)
}

func (b *fakeBackend) Refresh(_ context.Context, rt string) (models.AuthResult, error) {
	return models.AuthResult{Token: "rotated-" + rt}, nil
}

func (b *fakeBackend) Me(context.Context) (models.User, error) {
	if b.meErr != nil {
		return models.User{}, b.meErr
	}
	return models.User{ID: "u-1", Email: "kim@example.com", Name: "Kim Updated"}, nil
}

func (b *fakeBackend) UpdateProfile(_ context.Context, in models.ProfileUpdate) (models.User, error) {
	return models.User{ID: "u-1", Email: "kim@example.com", Name: in.Name}, nil
}

func (b *fakeBackend) DeleteAccount(context.Context) error { return nil }

func (b *fakeBackend) Predict(_ context.Context, req models.PredictRequest) (models.Prediction, error) {
	b.mu.Lock()
	b.predicts++
	b.mu.Unlock()
	return models.Prediction{StationID: req.StationID, Minutes: req.Minutes, PredictedDemand: -2.4}, nil
}

func (b *fakeBackend) RangePredict(context.Context, models.RangePredictRequest) (models.RangePrediction, error) {
	return models.RangePrediction{}, nil
}

func (b *fakeBackend) RebalancePlan(context.Context, models.RebalancePlanRequest) (models.RangePrediction, error) {
	return models.RangePrediction{}, nil
}

func (b *fakeBackend) ListWorkHistory(_ context.Context, q models.WorkHistoryQuery) ([]models.WorkHistory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastQuery = q
	var out []models.WorkHistory
	for _, e := range b.history {
		if q.UserID == "" || e.UserID == q.UserID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (b *fakeBackend) CreateWorkHistory(_ context.Context, in models.WorkHistoryInput) (models.WorkHistory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.recordErr != nil {
		return models.WorkHistory{}, b.recordErr
	}
	b.recorded = append(b.recorded, in)
	e := models.WorkHistory{
		ID:          int64(len(b.history) + 100),
		UserID:      in.UserID,
		StationID:   in.StationID,
		StationName: in.StationName,
		Action:      in.Action,
		CompletedAt: in.CompletedAt,
	}
	b.history = append(b.history, e)
	return e, nil
}

func (b *fakeBackend) DeleteWorkHistory(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
	return nil
}

func (b *fakeBackend) TodayWorkCount(context.Context) (models.WorkCount, error) {
	return models.WorkCount{Count: 4}, nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	router    http.Handler
	poller    *stations.Poller
	views     *mapview.Registry
	queue     *workqueue.Queue
	sessions  *session.Manager
	store     *session.MemoryStore
	backend   *fakeBackend
	history   *historyRepo
	community *fakeCommunity
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	en, err := authz.New()
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		backend: &fakeBackend{},
		history: &historyRepo{points: []models.StationHistoryPoint{}},
		store:   session.NewMemoryStore(),
		community: &fakeCommunity{posts: map[string]models.Post{
			"1": {ID: 1, Title: "Dock 12 jammed", Content: "Needs a technician", Category: "report", Author: "Kim"},
		}},
	}
	env.poller = stations.NewPoller(&stationFeed{list: testStations()}, nil, stations.DefaultConfig())
	env.sessions = session.NewManager(env.store, env.backend, session.DefaultConfig())
	env.queue = workqueue.New(nil, env.backend)
	env.views = mapview.NewRegistry(layout.New(layout.DefaultOptions()), mapview.DefaultConfig())
	env.views.SetStatusFunc(env.queue.Status)
	env.poller.Subscribe(env.views.ApplySnapshot)

	env.router = NewRouter(Deps{
		CORSOrigins: []string{"http://localhost:5173"},
		Sessions:    env.sessions,
		Authz:       en,
		Health:      NewHealthHandler(env.poller.Freshness, pinger{}, nil),
		Stations:    NewStationHandler(env.poller, env.history, env.queue.Status, en),
		Views:       NewViewHandler(env.views, env.backend),
		Auth:        NewAuthHandler(env.sessions, env.backend),
		AI:          NewAIHandler(env.backend, env.views),
		Community:   NewCommunityHandler(env.community),
		WorkHistory: NewWorkHistoryHandler(env.backend, en),
		WorkQueue:   NewWorkQueueHandler(env.queue, env.poller),
	})
	return env
}

// poll publishes the first snapshot
func (e *testEnv) poll(t *testing.T) {
	t.Helper()
	if _, err := e.poller.Refresh(context.Background(), stations.TriggerStartup); err != nil {
		t.Fatal(err)
	}
}

// signIn stores a session directly and returns its id
func (e *testEnv) signIn(t *testing.T, userID, role string) string {
	t.Helper()
	s := &session.Session{
		ID:        "sess-" + userID,
		Token:     "tok-" + userID,
		User:      models.User{ID: userID, Email: userID + "@example.com", Role: role},
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
	}
	if err := e.store.Put(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	return s.ID
}

func (e *testEnv) do(t *testing.T, method, path, sessionID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set("Authorization", "Bearer "+sessionID)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body %s)", v, err, rec.Body.String())
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if rec.Code != expected {
		t.Fatalf("status = %d, expected %d (body %s)", rec.Code, expected, rec.Body.String())
	}
}

var errBoom = errors.New("boom")

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
