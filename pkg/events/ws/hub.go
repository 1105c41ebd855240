package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/fadedpez/pointledger/internal/logging"
	"github.com/fadedpez/pointledger/pkg/events"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	userID string
	send   chan []byte
}

// Hub pushes balance changes to each user's open websocket connections.
// Authentication happens upstream; the hub trusts the user id it is given.
type Hub struct {
	clients map[string]map[*client]struct{}
	mu      sync.RWMutex
	log     *logging.Logger
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		log:     logging.Default.WithField("component", "ws_hub"),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.userID]; ok {
		if _, present := set[c]; present {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
}

// Count reports how many connections a user has open
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// PublishBalanceChanged implements events.Publisher. Slow clients drop
// messages instead of blocking the ledger.
func (h *Hub) PublishBalanceChanged(ctx context.Context, event events.BalanceChanged) error {
	payload, err := json.Marshal(map[string]interface{}{
		"type":  "balance_changed",
		"event": event,
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[event.UserID] {
		select {
		case c.send <- payload:
		default:
			h.log.Warn("dropping message for slow client user_id=%s", event.UserID)
		}
	}
	return nil
}

// Handler upgrades a request and streams events for the user that userID
// extracts from it; an empty user id is rejected.
func (h *Hub) Handler(userID func(r *http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := userID(r)
		if id == "" {
			http.Error(w, `{"error":"user id required"}`, http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := &client{userID: id, send: make(chan []byte, sendBuffer)}
		h.register(c)
		defer h.unregister(c)

		done := make(chan struct{})
		go h.writePump(conn, c, done)

		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			// Clients never send anything meaningful; reading drives pongs and close detection
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		close(done)
	}
}

func (h *Hub) writePump(conn *websocket.Conn, c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
