package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/learnhub/rooms-service/internal/models"
	"github.com/learnhub/rooms-service/internal/service"
)

// RoomAPI is the service surface the HTTP layer depends on.
type RoomAPI interface {
	CreateRoom(ctx context.Context, input service.CreateRoomInput, creatorID string) (*models.Room, error)
	JoinRoom(ctx context.Context, roomID, userID string) error
	LeaveRoom(ctx context.Context, roomID, userID string) error
	KickMember(ctx context.Context, roomID, targetUserID, moderatorID string) error
	PromoteModerator(ctx context.Context, roomID, targetUserID, moderatorID string) error
	GetRoom(ctx context.Context, roomID string) (*models.Room, int, error)
	ListRooms(ctx context.Context, page, pageSize int) ([]*models.Room, int, error)
	GetRoomMembers(ctx context.Context, roomID string) ([]*models.User, error)
	GetRoomMessages(ctx context.Context, roomID, cursor string, limit int) ([]*models.Message, error)
	PostMessage(ctx context.Context, roomID, authorID, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, roomID, messageID, callerID string) error
	IsUserMember(ctx context.Context, roomID, userID string) (bool, error)
	IsUserModerator(ctx context.Context, roomID, userID string) (bool, error)
}

// Presence is the best-effort online tracker surface used by handlers and
// the WebSocket gateway.
type Presence interface {
	Connect(ctx context.Context, userID string)
	Disconnect(ctx context.Context, userID string)
	JoinRoom(ctx context.Context, roomID, userID string)
	LeaveRoom(ctx context.Context, roomID, userID string)
	CountRoom(ctx context.Context, roomID string) int64
	ListRoom(ctx context.Context, roomID string) []string
}

type Handler struct {
	rooms    RoomAPI
	presence Presence
	logger   *zap.Logger
}

func NewHandler(rooms RoomAPI, presence Presence, logger *zap.Logger) *Handler {
	return &Handler{rooms: rooms, presence: presence, logger: logger}
}

// NewRouter wires the full HTTP surface: the authenticated community API,
// the WebSocket endpoint, health and metrics.
func NewRouter(h *Handler, auth *AuthMiddleware, ws *WebSocketHandler, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(Metrics)
	r.Use(RequestLogging(logger))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", ws.HandleWebSocket).Methods(http.MethodGet)

	api := r.PathPrefix("/api/community").Subrouter()
	api.Use(auth.RequireAuth)
	api.HandleFunc("/rooms", h.CreateRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms", h.ListRooms).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{id}", h.GetRoom).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{id}/join", h.JoinRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{id}/leave", h.LeaveRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{id}/kick", h.KickMember).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{id}/promote", h.PromoteModerator).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{id}/members", h.GetRoomMembers).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{id}/messages", h.GetRoomMessages).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{id}/messages", h.PostMessage).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{id}/messages/{messageID}", h.DeleteMessage).Methods(http.MethodDelete)
	api.HandleFunc("/rooms/{id}/online", h.GetRoomOnline).Methods(http.MethodGet)

	return r
}

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var input service.CreateRoomInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}

	room, err := h.rooms.CreateRoom(r.Context(), input, UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, http.StatusCreated, room, nil)
}

func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", service.DefaultPageSize)

	rooms, total, err := h.rooms.ListRooms(r.Context(), page, pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, rooms, &pagination{
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	})
}

type roomDetail struct {
	*models.Room
	MemberCount int `json:"member_count"`
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, count, err := h.rooms.GetRoom(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, roomDetail{Room: room, MemberCount: count}, nil)
}

func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	err := h.rooms.JoinRoom(r.Context(), mux.Vars(r)["id"], UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, nil, nil)
}

func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	err := h.rooms.LeaveRoom(r.Context(), mux.Vars(r)["id"], UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, nil, nil)
}

type memberActionRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) KickMember(w http.ResponseWriter, r *http.Request) {
	var req memberActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeEnvelopeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "user_id is required")
		return
	}

	err := h.rooms.KickMember(r.Context(), mux.Vars(r)["id"], req.UserID, UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, nil, nil)
}

func (h *Handler) PromoteModerator(w http.ResponseWriter, r *http.Request) {
	var req memberActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeEnvelopeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "user_id is required")
		return
	}

	err := h.rooms.PromoteModerator(r.Context(), mux.Vars(r)["id"], req.UserID, UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, nil, nil)
}

func (h *Handler) GetRoomMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.rooms.GetRoomMembers(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, members, nil)
}

func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	userID := UserIDFromContext(r.Context())

	// Message history is member-only.
	isMember, err := h.rooms.IsUserMember(r.Context(), roomID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !isMember {
		writeEnvelopeError(w, http.StatusForbidden, "FORBIDDEN", "not a member of this room")
		return
	}

	cursor := r.URL.Query().Get("cursor")
	limit := queryInt(r, "limit", service.DefaultMessageLimit)

	messages, err := h.rooms.GetRoomMessages(r.Context(), roomID, cursor, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, messages, nil)
}

type postMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}

	message, err := h.rooms.PostMessage(r.Context(), mux.Vars(r)["id"], UserIDFromContext(r.Context()), req.Content)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, http.StatusCreated, message, nil)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	err := h.rooms.DeleteMessage(r.Context(), vars["id"], vars["messageID"], UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, nil, nil)
}

type roomOnline struct {
	Count   int64    `json:"count"`
	UserIDs []string `json:"user_ids"`
}

// GetRoomOnline reports best-effort presence; a presence outage yields
// zeroes, never an error.
func (h *Handler) GetRoomOnline(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	writeEnvelope(w, http.StatusOK, roomOnline{
		Count:   h.presence.CountRoom(r.Context(), roomID),
		UserIDs: h.presence.ListRoom(r.Context(), roomID),
	}, nil)
}

// --- response envelope ---

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
}

type envelope struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      *apiError   `json:"error,omitempty"`
	Pagination *pagination `json:"pagination,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, data interface{}, p *pagination) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Pagination: p})
}

func writeEnvelopeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error:   &apiError{Code: code, Message: message},
	})
}

// writeError translates the service error taxonomy into HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var validationErr *service.ValidationError
	var notFoundErr *service.NotFoundError
	var authErr *service.AuthorizationError

	switch {
	case errors.As(err, &validationErr):
		writeEnvelopeError(w, http.StatusBadRequest, "VALIDATION_ERROR", validationErr.Error())
	case errors.As(err, &notFoundErr):
		writeEnvelopeError(w, http.StatusNotFound, "NOT_FOUND", notFoundErr.Error())
	case errors.As(err, &authErr):
		writeEnvelopeError(w, http.StatusForbidden, "FORBIDDEN", authErr.Error())
	default:
		h.logger.Error("unhandled service error", zap.Error(err))
		writeEnvelopeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func queryInt(r *http.Request, name string, defaultValue int) int {
	if value := r.URL.Query().Get(name); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
