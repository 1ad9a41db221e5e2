package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/ayusman/darpan/internal/kiosk"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

const (
	// hubWriteTimeout bounds a single client write. A client that
	// cannot keep up is dropped rather than stalling the hub.
	hubWriteTimeout = 2 * time.Second

	// hubQueueSize bounds pending broadcasts. Events beyond it are
	// dropped; the UI re-reads /api/health and /api/devices on
	// reconnect anyway.
	hubQueueSize = 64
)

// EventHub pushes controller events (mode changes, action results,
// device-set changes) to connected WebSocket clients. Events originate
// on unrelated goroutines (HTTP handlers, the catalog rescan loop), so
// Broadcast only enqueues; a single writer goroutine performs every
// connection write, keeping the one-writer rule the websocket package
// requires.
type EventHub struct {
	clients map[*websocket.Conn]bool
	mu      sync.Mutex
	queue   chan []byte
}

// NewEventHub creates an EventHub and starts its writer goroutine.
func NewEventHub() *EventHub {
	h := &EventHub{
		clients: make(map[*websocket.Conn]bool),
		queue:   make(chan []byte, hubQueueSize),
	}
	go h.writeLoop()
	return h
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Broadcast enqueues an event for delivery to all connected clients.
// Safe to call from any goroutine and never blocks: when the queue is
// full the event is dropped.
func (h *EventHub) Broadcast(e kiosk.Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		return
	}

	select {
	case h.queue <- msg:
	default:
		log.Printf("websocket queue full, dropping %s event", e.Type)
	}
}

// writeLoop delivers queued events in order. It is the only goroutine
// that writes to client connections; a client whose write fails or
// times out is closed and removed.
func (h *EventHub) writeLoop() {
	for msg := range h.queue {
		h.mu.Lock()
		for conn := range h.clients {
			conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("websocket write: %v", err)
				conn.Close()
				delete(h.clients, conn)
			}
		}
		h.mu.Unlock()
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
