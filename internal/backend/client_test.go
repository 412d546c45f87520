package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/MADA-gnuBD/bikeops/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL + "/"
	cfg.Timeout = 2 * time.Second
	return New(cfg)
}

func TestDecodeStations(t *testing.T) {
	body := `[
		{"stationId":"ST-1","stationName":"City Hall","parkingBikeTotCnt":"7","latitude":"37.5665","longitude":"126.9780","shared":"40"},
		{"stationId":"ST-2","stationName":"Plaza","parkingBikeTotCnt":3,"rackTotCnt":10,"stationLatitude":37.5,"stationLongitude":127.0},
		{"stationId":"ST-3","stationName":"No coords","parkingBikeTotCnt":1},
		{"stationId":"","stationName":"No id","latitude":"37.1","longitude":"127.1"},
		{"stationId":"ST-2","stationName":"Duplicate","stationLatitude":37.5,"stationLongitude":127.0},
		{"stationId":"ST-4","stationName":"Bad count","parkingBikeTotCnt":"n/a","latitude":"37.6","longitude":"127.1"},
		{"stationId":"ST-5","stationName":"NaN lat","latitude":"NaN","longitude":"127.1"},
		{"stationId":"ST-6","stationName":"Inf lng","latitude":"37.6","longitude":"+Inf"}
	]`
	stations, dropped, err := DecodeStations([]byte(body))
	if err != nil {
		t.Fatalf("DecodeStations() error: %v", err)
	}
	if dropped != 5 {
		t.Errorf("dropped = %d, expected 5", dropped)
	}
	if len(stations) != 3 {
		t.Fatalf("len(stations) = %d, expected 3", len(stations))
	}

	want := models.Station{ID: "ST-1", Name: "City Hall", Bikes: 7, Racks: 0, Latitude: 37.5665, Longitude: 126.9780, Shared: 40}
	if stations[0] != want {
		t.Errorf("stations[0] = %+v, expected %+v", stations[0], want)
	}
	if stations[1].Racks != 10 || stations[1].Bikes != 3 {
		t.Errorf("stations[1] = %+v", stations[1])
	}
	if stations[2].Bikes != 0 {
		t.Errorf("unparsable count = %d, expected 0", stations[2].Bikes)
	}
	if _, err := json.Marshal(stations); err != nil {
		t.Errorf("normalized stations do not encode: %v", err)
	}
}

func TestDecodeStationsWrapped(t *testing.T) {
	stations, _, err := DecodeStations([]byte(`{"data":[{"stationId":101,"latitude":37.1,"longitude":127.1}]}`))
	if err != nil {
		t.Fatalf("DecodeStations() error: %v", err)
	}
	if len(stations) != 1 || stations[0].ID != "101" {
		t.Errorf("stations = %+v", stations)
	}
}

func TestDecodeRangePrediction(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantIDs   []string
		wantMoves int
	}{
		{
			name:    "bare array with id",
			body:    `[{"id":"ST-1","predicted_demand":2.5},{"id":"ST-2","predicted_demand":-1}]`,
			wantIDs: []string{"ST-1", "ST-2"},
		},
		{
			name:      "result with station_id and plan",
			body:      `{"result":[{"station_id":"ST-9","predicted_demand":"4"}],"rebalancing_plan":[{"from":"ST-9","to":"ST-1","move_count":3,"distance":420.5}]}`,
			wantIDs:   []string{"ST-9"},
			wantMoves: 1,
		},
		{
			name:    "entries without id or demand skipped",
			body:    `{"result":[{"predicted_demand":1},{"id":"ST-3"},{"id":"ST-4","predicted_demand":0}]}`,
			wantIDs: []string{"ST-4"},
		},
		{
			name: "empty body",
			body: ``,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeRangePrediction([]byte(tt.body))
			if err != nil {
				t.Fatalf("DecodeRangePrediction() error: %v", err)
			}
			if len(got.Predictions) != len(tt.wantIDs) {
				t.Fatalf("predictions = %+v, expected ids %v", got.Predictions, tt.wantIDs)
			}
			for i, id := range tt.wantIDs {
				if got.Predictions[i].StationID != id {
					t.Errorf("predictions[%d] = %q, expected %q", i, got.Predictions[i].StationID, id)
				}
			}
			if len(got.Plan) != tt.wantMoves {
				t.Errorf("len(Plan) = %d, expected %d", len(got.Plan), tt.wantMoves)
			}
		})
	}
}

func TestStationsCallsInventoryEndpoint(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bike-inventory/latest" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`[{"stationId":"ST-1","latitude":"37.5","longitude":"127.0","parkingBikeTotCnt":"4"}]`))
	})
	stations, err := c.Stations(context.Background())
	if err != nil {
		t.Fatalf("Stations() error: %v", err)
	}
	if len(stations) != 1 || stations[0].Bikes != 4 {
		t.Errorf("Stations() = %+v", stations)
	}
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		sentinel   error
		wantMsg    string
		wantStatus int
	}{
		{"conflict default", http.StatusConflict, ``, ErrConflict, "this email is already registered", http.StatusConflict},
		{"unauthorized with message", http.StatusUnauthorized, `{"error":"token expired"}`, ErrUnauthorized, "token expired", http.StatusUnauthorized},
		{"forbidden", http.StatusForbidden, `not json`, ErrForbidden, "you do not have permission to do this", http.StatusForbidden},
		{"not found message field", http.StatusNotFound, `{"message":"no such post"}`, ErrNotFound, "no such post", http.StatusNotFound},
		{"server error", http.StatusInternalServerError, ``, ErrUnavailable, "backend unavailable", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := c.GetPost(context.Background(), "1")
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("error = %v, expected %v", err, tt.sentinel)
			}
			if got := UserMessage(err); got != tt.wantMsg {
				t.Errorf("UserMessage() = %q, expected %q", got, tt.wantMsg)
			}
			if got := HTTPStatus(err); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %d, expected %d", got, tt.wantStatus)
			}
		})
	}
}

func TestBearerTokenAndUnauthorizedHook(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		w.WriteHeader(http.StatusUnauthorized)
	})

	type key struct{}
	var fired atomic.Int32
	c.OnUnauthorized(func(ctx context.Context) {
		if ctx.Value(key{}) != "session-1" {
			t.Errorf("hook got a foreign context")
		}
		fired.Add(1)
	})

	ctx := context.WithValue(WithToken(context.Background(), "tok-1"), key{}, "session-1")
	if _, err := c.Me(ctx); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Me() error = %v", err)
	}
	if fired.Load() != 1 {
		t.Errorf("hook fired %d times, expected 1", fired.Load())
	}
}

func TestLoginAcceptsAccessToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"email":"ops@example.com"`) {
			t.Errorf("login body = %s", body)
		}
		io.WriteString(w, `{"accessToken":"abc","user":{"email":"ops@example.com","role":"admin"}}`)
	})
	res, err := c.Login(context.Background(), "ops@example.com", "secret")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if res.Token != "abc" || res.User == nil || !res.User.IsAdmin() {
		t.Errorf("Login() = %+v", res)
	}
}

func TestLoginWithoutTokenFails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	})
	if _, err := c.Login(context.Background(), "a@b.c", "x"); err == nil {
		t.Error("Login() without token succeeded")
	}
}

func TestPredictRequiresDemand(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"supply":4`) {
			t.Errorf("predict body = %s", body)
		}
		io.WriteString(w, `{"predicted_demand":-3.2}`)
	})
	p, err := c.Predict(context.Background(), models.PredictRequest{StationID: "ST-1", Minutes: 30, Supply: 4})
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	if p.StationID != "ST-1" || p.Minutes != 30 || p.Delta() != -3 {
		t.Errorf("Predict() = %+v", p)
	}
}

func TestTodayWorkCountShapes(t *testing.T) {
	for _, body := range []string{`5`, `{"count":5}`, `{"count":"5"}`} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, body)
		})
		got, err := c.TodayWorkCount(context.Background())
		if err != nil {
			t.Fatalf("TodayWorkCount(%s) error: %v", body, err)
		}
		if got.Count != 5 {
			t.Errorf("TodayWorkCount(%s) = %d, expected 5", body, got.Count)
		}
	}
}

func TestListPostsQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("category") != "notice" || q.Get("page") != "2" || q.Has("author") {
			t.Errorf("query = %v", q)
		}
		io.WriteString(w, `{"content":[{"id":1,"title":"hi"}],"totalElements":1}`)
	})
	page, err := c.ListPosts(context.Background(), models.PostQuery{Category: "notice", Page: 2})
	if err != nil {
		t.Fatalf("ListPosts() error: %v", err)
	}
	if len(page.Content) != 1 || page.Content[0].Title != "hi" {
		t.Errorf("ListPosts() = %+v", page)
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.BreakerFailures = 2
	cfg.BreakerTimeout = time.Minute
	c := New(cfg)

	for i := 0; i < 4; i++ {
		_, err := c.Stations(context.Background())
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d error = %v, expected ErrUnavailable", i, err)
		}
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("backend saw %d calls, expected 2 before the breaker opened", got)
	}
	if c.BreakerState() != "open" {
		t.Errorf("BreakerState() = %q, expected open", c.BreakerState())
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	for i := 0; i < 10; i++ {
		c.GetPost(context.Background(), "404")
	}
	if c.BreakerState() != "closed" {
		t.Errorf("BreakerState() = %q after 4xx responses, expected closed", c.BreakerState())
	}
}
