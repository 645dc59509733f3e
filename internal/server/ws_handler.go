package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by the platform's edge proxy.
		return true
	},
}

// clientRequest is what clients send over the socket: subscribe to or
// unsubscribe from a room's event channel.
type clientRequest struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type WebSocketHandler struct {
	rooms    RoomAPI
	hub      *Hub
	presence Presence
	sessions SessionResolver
	logger   *zap.Logger
}

func NewWebSocketHandler(rooms RoomAPI, hub *Hub, presence Presence, sessions SessionResolver, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		rooms:    rooms,
		hub:      hub,
		presence: presence,
		sessions: sessions,
		logger:   logger,
	}
}

func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set Authorization headers on WebSocket dials, so the
	// session token arrives as a query parameter.
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token is required", http.StatusUnauthorized)
		return
	}
	userID, err := h.sessions.ResolveSession(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid session", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		Conn:   conn,
		Send:   make(chan []byte, 256),
		Hub:    h.hub,
		UserID: userID,
		Rooms:  make(map[string]bool),
	}

	h.hub.RegisterClient(client)
	h.presence.Connect(context.Background(), userID)

	go h.writePump(client)
	go h.readPump(client)
}

func (h *WebSocketHandler) readPump(client *Client) {
	defer func() {
		ctx := context.Background()
		for roomID := range client.Rooms {
			h.presence.LeaveRoom(ctx, roomID, client.UserID)
		}
		h.presence.Disconnect(ctx, client.UserID)
		h.hub.UnregisterClient(client)
		client.Conn.Close()
	}()

	for {
		_, payload, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error",
					zap.String("user_id", client.UserID), zap.Error(err))
			}
			return
		}

		var req clientRequest
		if err := json.Unmarshal(payload, &req); err != nil || req.RoomID == "" {
			continue
		}
		h.handleRequest(client, req)
	}
}

func (h *WebSocketHandler) handleRequest(client *Client, req clientRequest) {
	ctx := context.Background()
	switch req.Type {
	case "subscribe":
		isMember, err := h.rooms.IsUserMember(ctx, req.RoomID, client.UserID)
		if err != nil || !isMember {
			return
		}
		h.hub.JoinRoom(client, req.RoomID)
		h.presence.JoinRoom(ctx, req.RoomID, client.UserID)

	case "unsubscribe":
		h.hub.LeaveRoom(client, req.RoomID)
		h.presence.LeaveRoom(ctx, req.RoomID, client.UserID)
	}
}

func (h *WebSocketHandler) writePump(client *Client) {
	defer client.Conn.Close()

	for payload := range client.Send {
		if err := client.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Warn("websocket write error",
				zap.String("user_id", client.UserID), zap.Error(err))
			return
		}
	}
	client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}
