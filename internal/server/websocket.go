package server

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/learnhub/rooms-service/internal/metrics"
)

// Client is one WebSocket connection. Clients subscribe to room channels
// after the hub verifies their membership.
type Client struct {
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub
	UserID string
	Rooms  map[string]bool
}

// Hub maintains active WebSocket connections and their room subscriptions.
// Events published by the service are fanned out through BroadcastToRoom.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	rooms      map[string]map[*Client]bool
	mutex      sync.RWMutex
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		rooms:      make(map[string]map[*Client]bool),
		logger:     logger,
	}
}

// Run processes register/unregister requests until Close.
func (h *Hub) Run() {
	for {
		select {
		case client, ok := <-h.register:
			if !ok {
				return
			}
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

// Close shuts down every client connection.
func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		close(client.Send)
		client.Conn.Close()
		delete(h.clients, client)
	}
}

func (h *Hub) RegisterClient(client *Client) {
	h.register <- client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.clients[client] = true
	metrics.ConnectedClients.Inc()
	h.logger.Debug("client registered", zap.String("user_id", client.UserID))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)

	for roomID := range client.Rooms {
		if room, exists := h.rooms[roomID]; exists {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}

	metrics.ConnectedClients.Dec()
	h.logger.Debug("client unregistered", zap.String("user_id", client.UserID))
}

// JoinRoom subscribes a client to a room channel.
func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
	client.Rooms[roomID] = true
}

// LeaveRoom unsubscribes a client from a room channel.
func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if room, exists := h.rooms[roomID]; exists {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, roomID)
		}
	}
	delete(client.Rooms, roomID)
}

// BroadcastToRoom sends a payload to every client subscribed to the room.
// Clients with a full send buffer are dropped rather than blocking the hub.
func (h *Hub) BroadcastToRoom(roomID string, payload []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	room, exists := h.rooms[roomID]
	if !exists {
		return
	}
	for client := range room {
		select {
		case client.Send <- payload:
		default:
			close(client.Send)
			delete(h.clients, client)
			delete(room, client)
			metrics.ConnectedClients.Dec()
		}
	}
}
