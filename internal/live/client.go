package live

import (
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/MADA-gnuBD/bikeops/internal/logging"
	"github.com/MADA-gnuBD/bikeops/internal/mapview"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 32
)

// Client is one connected console. view is fixed at connect time.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	view string
	send chan []byte
	pong chan struct{}
}

// ViewAccess reports whether the request may follow a view's layouts and
// returns the view's current state.
type ViewAccess func(r *http.Request, viewID string) (mapview.State, bool)

// Handler upgrades GET /ws?view=<id> requests. Origins are checked against
// allowed; an empty list or "*" accepts any origin. A view subscription
// needs access to grant it; otherwise the request gets 404 before the
// upgrade. Granted subscribers get the view's layout as their first frame
// after the last stations frame.
func (h *Hub) Handler(allowed []string, access ViewAccess) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowed),
	}
	return func(w http.ResponseWriter, r *http.Request) {
		view := r.URL.Query().Get("view")
		var first [][]byte
		if view != "" {
			var st mapview.State
			ok := false
			if access != nil {
				st, ok = access(r, view)
			}
			if !ok {
				logging.Ctx(r.Context()).Debug().Str("view", view).Msg("websocket view subscription refused")
				notFound(w)
				return
			}
			if p := layoutFrame(st); p != nil {
				first = append(first, p)
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		c := &Client{
			hub:  h,
			conn: conn,
			view: view,
			send: make(chan []byte, sendBuffer),
			pong: make(chan struct{}, 1),
		}
		h.add(c, first...)
		go c.writePump()
		go c.readPump()
	}
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]string{"error": "map view not found"})
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Msg("unexpected websocket close")
			}
			return
		}
		var msg Message
		if json.Unmarshal(data, &msg) == nil && msg.Type == TypePing {
			select {
			case c.pong <- struct{}{}:
			default:
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	pong, _ := json.Marshal(Message{Type: TypePong})
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-c.pong:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, pong); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
