package server

import (
	"context"
	"strings"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/learnhub/rooms-service/internal/repository"
)

// EventGateway bridges the Redis event channels to the WebSocket hub. It
// pattern-subscribes to every room channel and forwards payloads verbatim
// to that room's subscribers. Delivery is at-most-once.
type EventGateway struct {
	client *redis.Client
	hub    *Hub
	logger *zap.Logger
}

func NewEventGateway(client *redis.Client, hub *Hub, logger *zap.Logger) *EventGateway {
	return &EventGateway{client: client, hub: hub, logger: logger}
}

// Run blocks until ctx is cancelled.
func (g *EventGateway) Run(ctx context.Context) {
	pubsub := g.client.PSubscribe(ctx, repository.RoomEventPattern)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			roomID := roomIDFromChannel(msg.Channel)
			if roomID == "" {
				g.logger.Warn("event on unexpected channel", zap.String("channel", msg.Channel))
				continue
			}
			g.hub.BroadcastToRoom(roomID, []byte(msg.Payload))
		}
	}
}

// roomIDFromChannel extracts the room ID from "room:<id>:events".
func roomIDFromChannel(channel string) string {
	rest, ok := strings.CutPrefix(channel, "room:")
	if !ok {
		return ""
	}
	roomID, ok := strings.CutSuffix(rest, ":events")
	if !ok {
		return ""
	}
	return roomID
}
