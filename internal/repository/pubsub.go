package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/learnhub/rooms-service/internal/metrics"
	"github.com/learnhub/rooms-service/internal/models"
)

// RoomEventChannel returns the pub/sub channel for a room. The WebSocket
// gateway pattern-subscribes to RoomEventPattern and fans payloads out to
// connected clients.
func RoomEventChannel(roomID string) string {
	return fmt.Sprintf("room:%s:events", roomID)
}

const RoomEventPattern = "room:*:events"

// RedisNotifier publishes room events over Redis pub/sub. It satisfies
// service.Notifier. Publishing is at-most-once and lossy; errors propagate
// to the caller, which logs and swallows them.
type RedisNotifier struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisNotifier(client *redis.Client, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger}
}

func (n *RedisNotifier) PublishUserJoined(ctx context.Context, roomID string, user *models.User) error {
	return n.publish(ctx, roomID, &models.RoomEvent{
		Type:   models.EventUserJoined,
		RoomID: roomID,
		User:   user,
		SentAt: time.Now().UTC(),
	})
}

func (n *RedisNotifier) PublishUserLeft(ctx context.Context, roomID string, user *models.User) error {
	return n.publish(ctx, roomID, &models.RoomEvent{
		Type:   models.EventUserLeft,
		RoomID: roomID,
		User:   user,
		SentAt: time.Now().UTC(),
	})
}

func (n *RedisNotifier) PublishMessage(ctx context.Context, roomID string, message *models.Message) error {
	return n.publish(ctx, roomID, &models.RoomEvent{
		Type:    models.EventMessage,
		RoomID:  roomID,
		Message: message,
		SentAt:  time.Now().UTC(),
	})
}

func (n *RedisNotifier) publish(ctx context.Context, roomID string, event *models.RoomEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal room event: %w", err)
	}
	if err := n.client.Publish(ctx, RoomEventChannel(roomID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish room event: %w", err)
	}
	metrics.EventsPublished.WithLabelValues(event.Type).Inc()
	return nil
}
