// Package livefeed broadcasts cache Events to connected WebSocket clients
// (admin dashboards). Adapted from the teacher's ws/hub.go: the client
// registry, non-blocking per-client send buffers, and the
// register/unregister/broadcast select loop carry over unchanged in shape;
// market ticks are replaced with cache Events and the JWT gate moves from
// trader/account auth to the admin bearer service. The only event the
// service publishes is cleanup_run, from the admin cleanup route; the
// entity_changed and profile_resolved types are defined but nothing
// publishes them.
package livefeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pegesund/concentratee-cache-sub000/internal/adminauth"
	"github.com/pegesund/concentratee-cache-sub000/internal/obslog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventType names the kind of change an Event reports.
type EventType string

const (
	EventEntityChanged  EventType = "entity_changed"
	EventProfileResolve EventType = "profile_resolved"
	EventCleanupRun     EventType = "cleanup_run"
)

// Event is the JSON payload pushed to every connected client.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Entity    string      `json:"entity,omitempty"`
	Operation string      `json:"operation,omitempty"`
	ID        int64       `json:"id,omitempty"`
	Email     string      `json:"email,omitempty"`
	Detail    interface{} `json:"detail,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of connected dashboard clients and fans events
// out to all of them.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex

	auth *adminauth.Service // nil means the feed is open (no auth configured)
}

// NewHub creates a Hub. auth may be nil, in which case ServeWs accepts
// all connections unauthenticated (mirrors the HTTP API's own behavior
// when no admin credentials are configured).
func NewHub(auth *adminauth.Service) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 1024),
		register:   make(chan *client),
		unregister: make(chan *client),
		auth:       auth,
	}
}

// Run drives the hub's register/unregister/broadcast loop. Call it once
// in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			obslog.Info("livefeed client connected", obslog.Int("clients", count))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			obslog.Info("livefeed client disconnected", obslog.Int("clients", count))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// slow client, drop the message rather than block the hub
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish encodes and broadcasts an Event to all connected clients,
// dropping it silently if the broadcast buffer is full.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		obslog.Warn("livefeed broadcast buffer full, event dropped", obslog.String("event_type", string(ev.Type)))
	}
}

// ServeWs upgrades an HTTP request to a WebSocket and registers the
// resulting client with the hub. If the hub was built with a non-nil
// adminauth.Service, a valid bearer token is required (query param
// "token" or an Authorization: Bearer header).
func ServeWs(h *Hub, w http.ResponseWriter, r *http.Request) {
	if h.auth != nil && h.auth.Enabled() {
		if _, err := h.auth.ValidateToken(bearerToken(r)); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		obslog.Warn("livefeed upgrade failed", obslog.String("error", err.Error()))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 256)}
	h.register <- c

	go func() {
		defer conn.Close()
		for msg := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	go func() {
		defer func() {
			h.unregister <- c
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
