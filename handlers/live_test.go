package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/MADA-gnuBD/bikeops/internal/live"
	"github.com/MADA-gnuBD/bikeops/models"
)

func TestLiveViewSubscriptionNeedsOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.poll(t)
	owner := env.signIn(t, "u-1", models.RoleUser)
	other := env.signIn(t, "u-2", models.RoleUser)
	st := createView(t, env, owner, CreateViewRequest{Viewport: &seoul})

	hub := live.NewHub()
	srv := httptest.NewServer(NewRouter(Deps{
		Sessions:  env.sessions,
		WebSocket: hub.Handler(nil, NewViewHandler(env.views, env.backend).Watch),
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?view="

	tests := []struct {
		name     string
		session  string
		view     string
		expected int
	}{
		{"owner", owner, st.ViewID, http.StatusSwitchingProtocols},
		{"other session", other, st.ViewID, http.StatusNotFound},
		{"anonymous", "", st.ViewID, http.StatusNotFound},
		{"unknown view", owner, "missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.session != "" {
				header.Set("Authorization", "Bearer "+tt.session)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(url+tt.view, header)
			if resp == nil {
				t.Fatalf("Dial() error = %v, expected a response", err)
			}
			if resp.StatusCode != tt.expected {
				t.Fatalf("status = %d, expected %d", resp.StatusCode, tt.expected)
			}
			if conn == nil {
				return
			}
			defer conn.Close()

			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, data, err := conn.ReadMessage()
			if err != nil {
				t.Fatal(err)
			}
			var msg live.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatal(err)
			}
			if msg.Type != live.TypeLayout || msg.View != st.ViewID {
				t.Errorf("first frame = %s, expected the view's layout", data)
			}
		})
	}
}
