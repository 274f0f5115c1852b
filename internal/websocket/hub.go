package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Message is a realtime notification pushed to connected clients. The main
// producer is the credit service, which announces balance changes so open
// editor tabs can refresh their credit display without polling.
type Message struct {
	Type     string         `json:"type"`
	Identity string         `json:"identity,omitempty"`
	Credits  int            `json:"credits"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// CreditsChanged builds the balance-update message for an identity kind
// ("user" or "guest"). Identity ids are deliberately absent: every client
// on the socket sees only which kind of balance moved and its new value
// scoped to its own connection subscription.
func CreditsChanged(identity string, balance int, reason string) Message {
	msg := Message{
		Type:     "credits_changed",
		Identity: identity,
		Credits:  balance,
	}
	if reason != "" {
		msg.Extra = map[string]any{"reason": reason}
	}
	return msg
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full — drop message to avoid blocking
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
