package server

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/homer-run/homer/internal/types"
)

// WebSocketBufferSize is the buffer size for the hub's broadcast channel,
// letting pending messages queue up before blocking on burst traffic.
const WebSocketBufferSize = 256

// Client represents one connected WebSocket browser/tool.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out JSON messages to every connected WebSocket client.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, WebSocketBufferSize),
	}
}

// Run starts the hub's main loop; call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastJSON sends a JSON message to all clients.
func (h *Hub) BroadcastJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.broadcast <- data
}

// BroadcastState sends the full dashboard snapshot to all clients.
func (h *Hub) BroadcastState(state *types.DashboardState) {
	h.BroadcastJSON(types.WSMessage{
		Type: types.WSTypeState,
		Data: state,
	})
}

// BroadcastAgent sends a single agent's current state to all clients.
func (h *Hub) BroadcastAgent(agent *types.Agent) {
	h.BroadcastJSON(types.WSMessage{
		Type: types.WSTypeAgent,
		Data: agent,
	})
}

// BroadcastAlert sends an alert to all clients.
func (h *Hub) BroadcastAlert(alert *types.Alert) {
	h.BroadcastJSON(types.WSMessage{
		Type: types.WSTypeAlert,
		Data: alert,
	})
}

// BroadcastActivity sends an activity log entry to all clients.
func (h *Hub) BroadcastActivity(activity *types.ActivityLog) {
	h.BroadcastJSON(types.WSMessage{
		Type: types.WSTypeActivity,
		Data: activity,
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump drains the connection so ping/close frames are handled; the
// control surface doesn't accept commands over the WebSocket itself.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump drains c.send onto the WebSocket connection.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
