package websocket

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrHubBacklog is returned by Emit when the broadcast queue is full.
var ErrHubBacklog = errors.New("event hub backlog full")

// Envelope is the frame written to local listeners for every event.
type Envelope struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

// Hub fans sync events out to local UI clients connected on /events.
// It implements events.Sink.
type Hub struct {
	// Registered clients map: client ID -> Client
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	closeOnce  sync.Once

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		clients:    make(map[string]*Client),
	}
}

// Run starts the hub's main loop. It returns after Close.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.Printf("🔌 Event listener connected: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
				log.Printf("📴 Event listener disconnected: %s", client.ID)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer
					close(client.send)
					delete(h.clients, id)
					log.Printf("⚠️ Dropped slow event listener: %s", id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Close stops Run and disconnects every client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Emit queues an event for every connected client.
func (h *Hub) Emit(event string, payload interface{}) error {
	msg, err := json.Marshal(Envelope{Event: event, Payload: payload, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return errors.New("event hub closed")
	default:
		return ErrHubBacklog
	}
}

// ClientCount returns the number of connected listeners.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
