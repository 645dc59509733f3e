package service

import (
	"context"

	"github.com/learnhub/rooms-service/internal/models"
)

// Notifier broadcasts membership and message events to connected clients.
// Publishing is best-effort: the service logs failures and never lets them
// fail the operation that triggered them.
type Notifier interface {
	PublishUserJoined(ctx context.Context, roomID string, user *models.User) error
	PublishUserLeft(ctx context.Context, roomID string, user *models.User) error
	PublishMessage(ctx context.Context, roomID string, message *models.Message) error
}

// NopNotifier discards all events. Used in tests and when the realtime
// gateway is disabled.
type NopNotifier struct{}

func (NopNotifier) PublishUserJoined(context.Context, string, *models.User) error { return nil }
func (NopNotifier) PublishUserLeft(context.Context, string, *models.User) error   { return nil }
func (NopNotifier) PublishMessage(context.Context, string, *models.Message) error { return nil }
