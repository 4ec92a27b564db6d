package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one connected streaming client.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Broadcaster fans stream frames out to all connected WebSocket clients.
type Broadcaster struct {
	clients map[string]*wsClient
	mu      sync.RWMutex
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string]*wsClient)}
}

// HandleWS upgrades an HTTP request and registers the client.
func (b *Broadcaster) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, 64),
	}

	b.mu.Lock()
	b.clients[client.id] = client
	count := len(b.clients)
	b.mu.Unlock()

	log.Printf("[WebSocket] Client %s connected (%d total)", client.id, count)

	go b.writeLoop(client)
	go b.readLoop(client)
}

// writeLoop drains the client's send queue.
func (b *Broadcaster) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for frame := range c.send {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return
		}
	}
}

// readLoop discards inbound messages and detects disconnects.
func (b *Broadcaster) readLoop(c *wsClient) {
	defer b.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) remove(c *wsClient) {
	b.mu.Lock()
	if _, ok := b.clients[c.id]; ok {
		delete(b.clients, c.id)
		close(c.send)
	}
	count := len(b.clients)
	b.mu.Unlock()
	log.Printf("[WebSocket] Client %s disconnected (%d total)", c.id, count)
}

// Broadcast queues a frame for every connected client, dropping it for
// clients whose queue is full.
func (b *Broadcaster) Broadcast(frame []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		select {
		case c.send <- frame:
		default:
			// slow client, skip
		}
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// handleMessagesAPI serves the recent message history as JSON.
func handleMessagesAPI(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if err := json.NewEncoder(w).Encode(svc.RecentMessages()); err != nil {
			log.Printf("[API] Encode error: %v", err)
		}
	}
}
