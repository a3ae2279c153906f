// Package websocket streams live sync events (completions, failures,
// conflicts needing review) to connected operator dashboards.
package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Event is one sync engine occurrence pushed to operators
type Event struct {
	Type       string                 `json:"type"`
	EntityType string                 `json:"entityType,omitempty"`
	LocalID    string                 `json:"localId,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	At         time.Time              `json:"at"`
}

// Hub maintains the set of connected operator clients and fans events
// out to all of them.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("🖥️ Operator connected: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("📴 Operator disconnected: %s", client.ID)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop the event rather than block the hub
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends an event to every connected operator
func (h *Hub) Broadcast(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	msg, err := json.Marshal(event)
	if err != nil {
		log.Printf("⚠️ Failed to marshal event %q: %v", event.Type, err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("⚠️ Event feed saturated, dropping %q", event.Type)
	}
}
