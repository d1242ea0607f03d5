package sse

import (
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Client represents a single connected SSE client.
// It's essentially a channel where we send messages destined for this client.
type Client chan []byte

// Hub manages the set of active clients and broadcasts messages to them.
type Hub struct {
	// Registered clients.
	clients map[Client]bool

	// Inbound messages from the application (e.g., attendance marked).
	broadcast chan []byte

	// Register requests from the clients.
	register chan Client

	// Unregister requests from clients.
	unregister chan Client

	// Mutex to protect concurrent access to the clients map.
	mu sync.Mutex
}

// AttendanceEvent is the payload pushed to the UI when a probe is resolved.
type AttendanceEvent struct {
	Status     string    `json:"status"`
	Name       string    `json:"name,omitempty"`
	Similarity float64   `json:"similarity,omitempty"`
	Source     string    `json:"source,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte),
		register:   make(chan Client),
		unregister: make(chan Client),
		clients:    make(map[Client]bool),
	}
}

// Run starts the hub's processing loop.
// It should be run in a separate goroutine.
func (h *Hub) Run() {
	log.Info("SSE hub started")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Debugf("SSE client registered. Total clients: %d", len(h.clients))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client) // Close the channel to signal the client handler to stop.
				log.Debugf("SSE client unregistered. Total clients: %d", len(h.clients))
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				// Non-blocking send; a slow client loses the message
				// rather than stalling the broadcast loop.
				select {
				case client <- message:
				default:
					log.Warn("SSE client channel full or closed. Skipping message.")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client to the hub.
func (h *Hub) Register(client Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client Client) {
	h.unregister <- client
}

// BroadcastAttendance serializes an attendance event and sends it to all
// connected clients.
func (h *Hub) BroadcastAttendance(event AttendanceEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to marshal attendance event: %v", err)
		return
	}
	h.broadcast <- payload
}
