package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnhub/rooms-service/internal/metrics"
	"github.com/learnhub/rooms-service/internal/models"
	"github.com/learnhub/rooms-service/internal/repository"
)

const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 100
	MaxMessageLength    = 4096

	DefaultPageSize = 20
	MaxPageSize     = 100

	roomCacheTTL     = 5 * time.Minute
	roomListCacheTTL = 30 * time.Second
)

// Cache is the slice of the cache service the room service needs. Entity
// reads use GetOrSet; list keys are invalidated by pattern on writes.
type Cache interface {
	GetOrSet(ctx context.Context, key string, ttl time.Duration, dest interface{}, fetch func(context.Context) (interface{}, error)) error
	Invalidate(ctx context.Context, pattern string) error
}

type CreateRoomInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
	ImageURL    string `json:"image_url,omitempty"`
}

// RoomService owns the lifecycle of rooms, memberships and moderator
// records. Multi-record changes go through store transactions; the store is
// the single source of truth. Notifier and cache failures are logged and
// swallowed.
type RoomService struct {
	store    repository.DynamoDBRepository
	cache    Cache
	notifier Notifier
	logger   *zap.Logger
}

func NewRoomService(store repository.DynamoDBRepository, cache Cache, notifier Notifier, logger *zap.Logger) *RoomService {
	return &RoomService{
		store:    store,
		cache:    cache,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *RoomService) CreateRoom(ctx context.Context, input CreateRoomInput, creatorID string) (*models.Room, error) {
	if _, err := s.store.GetUser(ctx, creatorID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, NewValidationError("creator does not exist")
		}
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	description := strings.TrimSpace(input.Description)
	if name == "" {
		return nil, NewValidationError("name is required")
	}
	if description == "" {
		return nil, NewValidationError("description is required")
	}

	now := time.Now().UTC()
	room := &models.Room{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		IsPrivate:   input.IsPrivate,
		ImageURL:    strings.TrimSpace(input.ImageURL),
		CreatorID:   creatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	member := &models.RoomMember{RoomID: room.ID, UserID: creatorID, JoinedAt: now}
	moderator := &models.RoomModerator{RoomID: room.ID, UserID: creatorID, GrantedAt: now}

	// All three records or none; partial creation must never be observable.
	if err := s.store.CreateRoomWithCreator(ctx, room, member, moderator); err != nil {
		return nil, err
	}
	metrics.RoomsCreated.Inc()

	if err := s.cache.Invalidate(ctx, "rooms:list:*"); err != nil {
		s.logger.Warn("failed to invalidate room list cache", zap.Error(err))
	}

	s.logger.Info("room created",
		zap.String("room_id", room.ID),
		zap.String("creator_id", creatorID))
	return room, nil
}

func (s *RoomService) JoinRoom(ctx context.Context, roomID, userID string) error {
	if _, err := s.roomByID(ctx, roomID); err != nil {
		return err
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return NewValidationError("user does not exist")
		}
		return err
	}

	isMember, err := s.store.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if isMember {
		return NewValidationError("already a member")
	}

	member := &models.RoomMember{RoomID: roomID, UserID: userID, JoinedAt: time.Now().UTC()}
	if err := s.store.AddMember(ctx, member); err != nil {
		// A concurrent join can win between the read above and this write;
		// the loser gets the same answer as the read-then-write path.
		if errors.Is(err, repository.ErrAlreadyMember) {
			return NewValidationError("already a member")
		}
		return err
	}
	metrics.MembershipChanges.WithLabelValues("join").Inc()

	if err := s.notifier.PublishUserJoined(ctx, roomID, user); err != nil {
		s.logger.Warn("failed to publish user joined event",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
			zap.Error(err))
	}
	return nil
}

func (s *RoomService) LeaveRoom(ctx context.Context, roomID, userID string) error {
	room, err := s.roomByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room.CreatorID == userID {
		return NewValidationError("the room creator cannot leave their own room")
	}

	isMember, err := s.store.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !isMember {
		return NewValidationError("not a member")
	}

	if err := s.store.RemoveMembership(ctx, roomID, userID); err != nil {
		return err
	}
	metrics.MembershipChanges.WithLabelValues("leave").Inc()

	s.publishUserLeft(ctx, roomID, userID)
	return nil
}

func (s *RoomService) KickMember(ctx context.Context, roomID, targetUserID, moderatorID string) error {
	room, err := s.roomByID(ctx, roomID)
	if err != nil {
		return err
	}

	isModerator, err := s.store.IsModerator(ctx, roomID, moderatorID)
	if err != nil {
		return err
	}
	if !isModerator {
		return NewAuthorizationError("caller is not a moderator of this room")
	}

	isMember, err := s.store.IsMember(ctx, roomID, targetUserID)
	if err != nil {
		return err
	}
	if !isMember {
		return NewValidationError("not a member")
	}

	// Explicit guard on top of whatever the store enforces.
	if targetUserID == room.CreatorID {
		return NewValidationError("the room creator cannot be kicked")
	}

	if err := s.store.RemoveMembership(ctx, roomID, targetUserID); err != nil {
		return err
	}
	metrics.MembershipChanges.WithLabelValues("kick").Inc()

	s.publishUserLeft(ctx, roomID, targetUserID)
	return nil
}

func (s *RoomService) PromoteModerator(ctx context.Context, roomID, targetUserID, moderatorID string) error {
	if _, err := s.roomByID(ctx, roomID); err != nil {
		return err
	}

	isModerator, err := s.store.IsModerator(ctx, roomID, moderatorID)
	if err != nil {
		return err
	}
	if !isModerator {
		return NewAuthorizationError("caller is not a moderator of this room")
	}

	isMember, err := s.store.IsMember(ctx, roomID, targetUserID)
	if err != nil {
		return err
	}
	if !isMember {
		return NewValidationError("not a member")
	}

	moderator := &models.RoomModerator{RoomID: roomID, UserID: targetUserID, GrantedAt: time.Now().UTC()}
	if err := s.store.AddModerator(ctx, moderator); err != nil {
		if errors.Is(err, repository.ErrAlreadyModerator) {
			return NewValidationError("already a moderator")
		}
		return err
	}
	return nil
}

// GetRoom returns the room together with its current member count. The room
// entity is served cache-aside; the count is always read fresh.
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*models.Room, int, error) {
	var room models.Room
	err := s.cache.GetOrSet(ctx, "room:"+roomID, roomCacheTTL, &room,
		func(ctx context.Context) (interface{}, error) {
			return s.store.GetRoom(ctx, roomID)
		})
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, 0, NewNotFoundError("room not found")
		}
		return nil, 0, err
	}

	count, err := s.store.CountMembers(ctx, roomID)
	if err != nil {
		return nil, 0, err
	}
	return &room, count, nil
}

type roomPage struct {
	Rooms []*models.Room `json:"rooms"`
	Total int            `json:"total"`
}

func (s *RoomService) ListRooms(ctx context.Context, page, pageSize int) ([]*models.Room, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	var cached roomPage
	key := fmt.Sprintf("rooms:list:%d:%d", page, pageSize)
	err := s.cache.GetOrSet(ctx, key, roomListCacheTTL, &cached,
		func(ctx context.Context) (interface{}, error) {
			rooms, err := s.store.ListRooms(ctx)
			if err != nil {
				return nil, err
			}
			return roomPage{Rooms: paginate(rooms, page, pageSize), Total: len(rooms)}, nil
		})
	if err != nil {
		return nil, 0, err
	}
	return cached.Rooms, cached.Total, nil
}

func (s *RoomService) GetRoomMembers(ctx context.Context, roomID string) ([]*models.User, error) {
	if _, err := s.roomByID(ctx, roomID); err != nil {
		return nil, err
	}

	members, err := s.store.ListMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	users, err := s.store.GetUsers(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Preserve join order; members is sorted by joined_at ascending.
	ordered := make([]*models.User, 0, len(members))
	for _, m := range members {
		user, ok := users[m.UserID]
		if !ok {
			s.logger.Warn("member without user record",
				zap.String("room_id", roomID),
				zap.String("user_id", m.UserID))
			continue
		}
		ordered = append(ordered, user)
	}
	return ordered, nil
}

func (s *RoomService) GetRoomMessages(ctx context.Context, roomID, cursor string, limit int) ([]*models.Message, error) {
	if _, err := s.roomByID(ctx, roomID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		limit = MaxMessageLimit
	}

	var before *models.Message
	if cursor != "" {
		msg, err := s.store.GetMessage(ctx, cursor)
		if err != nil {
			if errors.Is(err, repository.ErrMessageNotFound) {
				return nil, NewValidationError("unknown cursor")
			}
			return nil, err
		}
		if msg.RoomID != roomID {
			return nil, NewValidationError("unknown cursor")
		}
		before = msg
	}

	return s.store.ListMessages(ctx, roomID, before, limit)
}

func (s *RoomService) PostMessage(ctx context.Context, roomID, authorID, content string) (*models.Message, error) {
	if _, err := s.roomByID(ctx, roomID); err != nil {
		return nil, err
	}

	isMember, err := s.store.IsMember(ctx, roomID, authorID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, NewAuthorizationError("not a member of this room")
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, NewValidationError("content is required")
	}
	if len(content) > MaxMessageLength {
		return nil, NewValidationError("content too long")
	}

	message := &models.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, message); err != nil {
		return nil, err
	}

	if err := s.notifier.PublishMessage(ctx, roomID, message); err != nil {
		s.logger.Warn("failed to publish message event",
			zap.String("room_id", roomID),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
	return message, nil
}

func (s *RoomService) DeleteMessage(ctx context.Context, roomID, messageID, callerID string) error {
	if _, err := s.roomByID(ctx, roomID); err != nil {
		return err
	}

	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return NewNotFoundError("message not found")
		}
		return err
	}
	if message.RoomID != roomID {
		return NewNotFoundError("message not found")
	}

	if message.AuthorID != callerID {
		isModerator, err := s.store.IsModerator(ctx, roomID, callerID)
		if err != nil {
			return err
		}
		if !isModerator {
			return NewAuthorizationError("only the author or a moderator can delete a message")
		}
	}

	return s.store.MarkMessageDeleted(ctx, messageID)
}

func (s *RoomService) IsUserMember(ctx context.Context, roomID, userID string) (bool, error) {
	return s.store.IsMember(ctx, roomID, userID)
}

func (s *RoomService) IsUserModerator(ctx context.Context, roomID, userID string) (bool, error) {
	return s.store.IsModerator(ctx, roomID, userID)
}

// roomByID reads the room directly from the store; precondition checks do
// not go through the cache.
func (s *RoomService) roomByID(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, NewNotFoundError("room not found")
		}
		return nil, err
	}
	return room, nil
}

func (s *RoomService) publishUserLeft(ctx context.Context, roomID, userID string) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		user = &models.User{ID: userID}
	}
	if err := s.notifier.PublishUserLeft(ctx, roomID, user); err != nil {
		s.logger.Warn("failed to publish user left event",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

func paginate(rooms []*models.Room, page, pageSize int) []*models.Room {
	start := (page - 1) * pageSize
	if start >= len(rooms) {
		return []*models.Room{}
	}
	end := start + pageSize
	if end > len(rooms) {
		end = len(rooms)
	}
	return rooms[start:end]
}
