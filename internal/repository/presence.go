package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/learnhub/rooms-service/internal/metrics"
)

// presenceTTL bounds how long a stale set can outlive its last update, so
// presence entries expire on their own even if no reconcile pass runs.
const presenceTTL = 10 * time.Minute

// PresenceTracker records which users are currently connected, globally and
// per room. Presence is a UX enhancement: every operation is best-effort and
// returns empty/false/zero instead of an error.
type PresenceTracker struct {
	client *redis.Client
	logger *zap.Logger
}

func NewPresenceTracker(client *redis.Client, logger *zap.Logger) *PresenceTracker {
	return &PresenceTracker{client: client, logger: logger}
}

func globalPresenceKey() string {
	return "presence:global"
}

func roomPresenceKey(roomID string) string {
	return fmt.Sprintf("presence:room:%s", roomID)
}

func (p *PresenceTracker) Connect(ctx context.Context, userID string) {
	p.addToSet(ctx, globalPresenceKey(), userID)
}

func (p *PresenceTracker) Disconnect(ctx context.Context, userID string) {
	p.removeFromSet(ctx, globalPresenceKey(), userID)
}

func (p *PresenceTracker) JoinRoom(ctx context.Context, roomID, userID string) {
	p.addToSet(ctx, roomPresenceKey(roomID), userID)
}

func (p *PresenceTracker) LeaveRoom(ctx context.Context, roomID, userID string) {
	p.removeFromSet(ctx, roomPresenceKey(roomID), userID)
}

func (p *PresenceTracker) IsOnline(ctx context.Context, userID string) bool {
	online, err := p.client.SIsMember(ctx, globalPresenceKey(), userID).Result()
	if err != nil {
		p.fail("sismember", err)
		return false
	}
	return online
}

func (p *PresenceTracker) CountRoom(ctx context.Context, roomID string) int64 {
	count, err := p.client.SCard(ctx, roomPresenceKey(roomID)).Result()
	if err != nil {
		p.fail("scard", err)
		return 0
	}
	return count
}

func (p *PresenceTracker) ListRoom(ctx context.Context, roomID string) []string {
	users, err := p.client.SMembers(ctx, roomPresenceKey(roomID)).Result()
	if err != nil {
		p.fail("smembers", err)
		return nil
	}
	return users
}

// Reconcile removes users from a room's online set that are no longer in
// the global online set. Covers disconnects that never cleaned up their
// room-scoped entries.
func (p *PresenceTracker) Reconcile(ctx context.Context, roomID string) {
	key := roomPresenceKey(roomID)
	users, err := p.client.SMembers(ctx, key).Result()
	if err != nil {
		p.fail("smembers", err)
		return
	}
	for _, userID := range users {
		online, err := p.client.SIsMember(ctx, globalPresenceKey(), userID).Result()
		if err != nil {
			p.fail("sismember", err)
			return
		}
		if !online {
			p.removeFromSet(ctx, key, userID)
		}
	}
}

// ReconcileAll runs the reconcile pass over every room presence set.
func (p *PresenceTracker) ReconcileAll(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := p.client.Scan(ctx, cursor, roomPresenceKey("*"), 100).Result()
		if err != nil {
			p.fail("scan", err)
			return
		}
		for _, key := range keys {
			roomID := key[len("presence:room:"):]
			p.Reconcile(ctx, roomID)
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

func (p *PresenceTracker) addToSet(ctx context.Context, key, userID string) {
	pipe := p.client.Pipeline()
	pipe.SAdd(ctx, key, userID)
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		p.fail("sadd", err)
	}
}

func (p *PresenceTracker) removeFromSet(ctx context.Context, key, userID string) {
	if err := p.client.SRem(ctx, key, userID).Err(); err != nil {
		p.fail("srem", err)
	}
}

func (p *PresenceTracker) fail(op string, err error) {
	metrics.PresenceErrors.Inc()
	p.logger.Warn("presence operation failed", zap.String("op", op), zap.Error(err))
}
