// Package notifications stores user events delivered to vault members out
// of band of the item stream.
package notifications

import (
	"context"

	"github.com/danmarauda/server/internal/server/models"
)

type Repository interface {
	// Create persists one notification.
	Create(ctx context.Context, notification *models.Notification) error

	// DeleteByUserAndItem removes every notification of the user that
	// references the item.
	DeleteByUserAndItem(ctx context.Context, userUUID string, itemUUID string) error

	// FindAllForUser returns the user's notifications, newest first.
	FindAllForUser(ctx context.Context, userUUID string) ([]*models.Notification, error)
}
