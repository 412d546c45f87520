// Package live pushes station snapshots and map view layouts to browser
// consoles over WebSocket.
package live

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/MADA-gnuBD/bikeops/internal/logging"
	"github.com/MADA-gnuBD/bikeops/internal/mapview"
	"github.com/MADA-gnuBD/bikeops/internal/metrics"
	"github.com/MADA-gnuBD/bikeops/models"
)

// Message types
const (
	TypeStations = "stations"
	TypeLayout   = "layout"
	TypePing     = "ping"
	TypePong     = "pong"
)

// Message is the envelope of every frame sent to clients
type Message struct {
	Type string `json:"type"`
	View string `json:"view,omitempty"`
	Data any    `json:"data,omitempty"`
}

// StationsUpdate is the payload of a "stations" message
type StationsUpdate struct {
	SnapshotID uuid.UUID           `json:"snapshotId"`
	PolledAt   time.Time           `json:"polledAt"`
	Stats      models.StationStats `json:"stats"`
	Stations   []models.Station    `json:"stations"`
}

type outbound struct {
	view    string // empty: every client
	payload []byte
}

// Hub tracks connected clients and fans messages out to them. A client
// whose send buffer is full is disconnected rather than waited on. New
// clients start with the last stations frame.
type Hub struct {
	broadcast chan outbound

	mu           sync.RWMutex
	clients      map[*Client]struct{}
	lastStations []byte
}

// NewHub creates a hub. Run it with Serve.
func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan outbound, 64),
		clients:   make(map[*Client]struct{}),
	}
}

// Serve runs the hub until ctx is cancelled, then closes every client.
func (h *Hub) Serve(ctx context.Context) error {
	logging.Info().Msg("websocket hub started")
	for {
		select {
		case <-ctx.Done():
			n := h.closeAll()
			logging.Info().Int("clients", n).Msg("websocket hub stopped")
			return ctx.Err()

		case out := <-h.broadcast:
			h.deliver(out)
		}
	}
}

func (h *Hub) String() string { return "websocket-hub" }

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishStations sends a snapshot to every client
func (h *Hub) PublishStations(snap *models.Snapshot) {
	if snap == nil {
		return
	}
	stats := models.ComputeStats(snap.Stations)
	stats.PolledAt = snap.PolledAt
	payload := encode(Message{
		Type: TypeStations,
		Data: StationsUpdate{
			SnapshotID: snap.ID,
			PolledAt:   snap.PolledAt,
			Stats:      stats,
			Stations:   snap.Stations,
		},
	})
	if payload == nil {
		return
	}
	h.mu.Lock()
	h.lastStations = payload
	h.mu.Unlock()
	h.enqueue("", TypeStations, payload)
}

// PublishLayout sends a view's placements to the clients watching it
func (h *Hub) PublishLayout(st mapview.State) {
	if payload := layoutFrame(st); payload != nil {
		h.enqueue(st.ViewID, TypeLayout, payload)
	}
}

func layoutFrame(st mapview.State) []byte {
	return encode(Message{Type: TypeLayout, View: st.ViewID, Data: st})
}

func encode(msg Message) []byte {
	payload, err := json.Marshal(msg)
	if err != nil {
		logging.Error().Err(err).Str("type", msg.Type).Msg("failed to encode websocket message")
		return nil
	}
	return payload
}

func (h *Hub) enqueue(view, typ string, payload []byte) {
	select {
	case h.broadcast <- outbound{view: view, payload: payload}:
	default:
		metrics.WSMessagesDropped.Inc()
		logging.Warn().Str("type", typ).Msg("websocket broadcast queue full, message dropped")
	}
}

func (h *Hub) deliver(out outbound) {
	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		if out.view != "" && c.view != out.view {
			continue
		}
		select {
		case c.send <- out.payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		metrics.WSMessagesDropped.Inc()
		logging.Warn().Str("view", c.view).Msg("websocket client too slow, disconnecting")
		h.remove(c)
	}
}

// add registers c and queues the last stations frame, then any extra
// frames, ahead of later broadcasts.
func (h *Hub) add(c *Client, first ...[]byte) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.lastStations != nil {
		first = append([][]byte{h.lastStations}, first...)
	}
	for _, p := range first {
		select {
		case c.send <- p:
		default:
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(n))
	logging.Debug().Str("view", c.view).Int("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(n))
}

func (h *Hub) closeAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.clients)
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	metrics.WSConnections.Set(0)
	return n
}
